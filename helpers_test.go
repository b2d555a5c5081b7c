package main

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var testEnd = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

func testConfig() *Config {
	return &Config{
		Port:                 "8000",
		AppName:              "hedis-measures",
		AppEnv:               "test",
		FHIRBaseURL:          "http://fhir.test/fhir",
		Timeout:              5,
		RunTimeout:           10 * time.Second,
		MemberTimeout:        2 * time.Second,
		Workers:              4,
		PageSize:             2,
		FetchAttempts:        3,
		RetryInitialInterval: time.Millisecond,
		RateLimitBurst:       10,
		DefaultMaxMembers:    500,
		MaxMembersLimit:      2000,
		NumeratorSampleSize:  10,
		GapSampleSize:        20,
		MemberErrorPolicy:    memberErrorSkip,
	}
}

func testDate(s string) Date {
	t, err := parseDate(s)
	if err != nil {
		panic(err)
	}
	return Date{Time: t, Raw: s}
}

func testPatient(id, gender, birthDate string) Patient {
	return Patient{
		ResourceType: "Patient",
		Id:           id,
		Gender:       gender,
		BirthDate:    testDate(birthDate),
		Name:         []HumanName{{Given: []string{"Test"}, Family: id}},
	}
}

func codeable(codes ...string) CodeableConcept {
	cc := CodeableConcept{}
	for _, code := range codes {
		cc.Coding = append(cc.Coding, Coding{Code: code})
	}
	return cc
}

func activeCondition(id, code string) Condition {
	return Condition{
		ResourceType:   "Condition",
		Id:             id,
		ClinicalStatus: codeable("active"),
		Code:           codeable(code),
	}
}

func serviceClaim(id, code, servicedDate string) Claim {
	return Claim{
		ResourceType: "Claim",
		Id:           id,
		Status:       "active",
		Item: []ClaimItem{
			{Sequence: 1, ProductOrService: codeable(code), ServicedDate: testDate(servicedDate)},
		},
	}
}

// fakeRepository serves members, conditions and claims from memory.
type fakeRepository struct {
	mu         sync.Mutex
	patients   []Patient
	conditions map[string][]Condition
	claims     map[string][]Claim

	// failPage makes the n-th page request (1-based) fail.
	failPage int
	// claimErr and conditionErr fail lookups for specific members.
	claimErr     map[string]error
	conditionErr map[string]error
	// blockClaims holds claim lookups for these members until the context ends.
	blockClaims map[string]bool

	pageCalls      int
	conditionCalls int
	claimCalls     int
	patientCalls   int
}

func newFakeRepository(patients ...Patient) *fakeRepository {
	return &fakeRepository{
		patients:     patients,
		conditions:   map[string][]Condition{},
		claims:       map[string][]Claim{},
		claimErr:     map[string]error{},
		conditionErr: map[string]error{},
		blockClaims:  map[string]bool{},
	}
}

func (f *fakeRepository) FetchMembers(criteria MemberCriteria, pageSize int) MemberPager {
	return &fakePager{repo: f, pageSize: pageSize}
}

func (f *fakeRepository) FetchPatient(ctx context.Context, memberID string) (*Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patientCalls++

	id := stripPatientPrefix(memberID)
	for _, p := range f.patients {
		if p.Id == id {
			p := p
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: patient %s not found (404)", ErrRepositoryUnavailable, id)
}

func (f *fakeRepository) FetchConditions(ctx context.Context, memberID string) ([]Condition, error) {
	f.mu.Lock()
	f.conditionCalls++
	err := f.conditionErr[memberID]
	conditions := f.conditions[memberID]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return conditions, nil
}

func (f *fakeRepository) FetchClaims(ctx context.Context, memberID string) ([]Claim, error) {
	f.mu.Lock()
	f.claimCalls++
	err := f.claimErr[memberID]
	block := f.blockClaims[memberID]
	claims := f.claims[memberID]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %w", ErrRepositoryUnavailable, ctx.Err())
	}
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (f *fakeRepository) Ping(ctx context.Context) error {
	return nil
}

type fakePager struct {
	repo     *fakeRepository
	pageSize int
	offset   int
	done     bool
}

func (p *fakePager) Done() bool {
	return p.done
}

func (p *fakePager) Next(ctx context.Context) ([]Patient, error) {
	p.repo.mu.Lock()
	defer p.repo.mu.Unlock()

	p.repo.pageCalls++
	if p.repo.failPage == p.repo.pageCalls {
		return nil, fmt.Errorf("%w: page %d returned 503", ErrRepositoryUnavailable, p.repo.pageCalls)
	}

	end := p.offset + p.pageSize
	if end >= len(p.repo.patients) {
		end = len(p.repo.patients)
		p.done = true
	}
	page := p.repo.patients[p.offset:end]
	p.offset = end
	return page, nil
}

func newTestEvaluator(repo Repository, config *Config) *Evaluator {
	e := NewEvaluator(repo, config, nil)
	e.now = func() time.Time { return testEnd }
	return e
}
