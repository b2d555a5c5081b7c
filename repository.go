package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.elastic.co/apm"
)

// maxFollowPages bounds how many continuation links a per-member search follows.
const maxFollowPages = 50

// Repository is the record store as the evaluator sees it.
type Repository interface {
	FetchMembers(criteria MemberCriteria, pageSize int) MemberPager
	FetchPatient(ctx context.Context, memberID string) (*Patient, error)
	FetchConditions(ctx context.Context, memberID string) ([]Condition, error)
	FetchClaims(ctx context.Context, memberID string) ([]Claim, error)
}

// MemberPager walks a member search one page at a time. A failed Next leaves
// the pager on the same page, so calling Next again retries it.
type MemberPager interface {
	Next(ctx context.Context) ([]Patient, error)
	Done() bool
}

// MemberCriteria narrows the member search on the server side. The population
// filter still checks every member it receives.
type MemberCriteria struct {
	Gender         string
	BornAfter      time.Time
	BornOnOrBefore time.Time
}

func (mc MemberCriteria) queryParams(pageSize int) url.Values {
	// Initialize query parameters
	queryParams := url.Values{}
	if mc.Gender != "" {
		queryParams.Add("gender", mc.Gender)
	}
	addDateParam("birthdate", map[string]time.Time{
		"gt": mc.BornAfter,
		"le": mc.BornOnOrBefore,
	}, queryParams)
	if pageSize > 0 {
		queryParams.Add("_count", strconv.Itoa(pageSize))
	}
	return queryParams
}

type fhirRepository struct {
	client *fhirClient
}

func newFHIRRepository(client *fhirClient) *fhirRepository {
	return &fhirRepository{client: client}
}

func (r *fhirRepository) FetchMembers(criteria MemberCriteria, pageSize int) MemberPager {
	return &fhirPager{
		client: r.client,
		next:   r.client.resourceURL("Patient"),
		params: criteria.queryParams(pageSize),
	}
}

func (r *fhirRepository) FetchPatient(ctx context.Context, memberID string) (*Patient, error) {
	// Create span
	span, ctx := apm.StartSpan(ctx, "Get and Parse Data", "Patient")
	defer span.End()

	body, err := r.client.get(ctx, r.client.resourceURL("Patient")+"/"+url.PathEscape(stripPatientPrefix(memberID)), nil)
	if err != nil {
		return nil, err
	}

	result, err := processFHIRResponse(ctx, body)
	if err != nil {
		return nil, err
	}
	if len(result.Patients) == 0 {
		return nil, fmt.Errorf("%w: no Patient resource returned for %s", ErrMalformedRecord, memberID)
	}

	return &result.Patients[0], nil
}

func (r *fhirRepository) FetchConditions(ctx context.Context, memberID string) ([]Condition, error) {
	// Create span
	span, ctx := apm.StartSpan(ctx, "Get and Parse Data", "Conditions")
	defer span.End()

	// Initialize query parameters
	queryParams := url.Values{}
	queryParams.Add("patient", stripPatientPrefix(memberID))
	queryParams.Add("_count", "100")

	var conditions []Condition
	err := r.searchAll(ctx, "Condition", queryParams, func(sr *searchResult) {
		conditions = append(conditions, sr.Conditions...)
	})
	if err != nil {
		return nil, err
	}

	return conditions, nil
}

func (r *fhirRepository) FetchClaims(ctx context.Context, memberID string) ([]Claim, error) {
	// Create span
	span, ctx := apm.StartSpan(ctx, "Get and Parse Data", "Claims")
	defer span.End()

	// Initialize query parameters
	queryParams := url.Values{}
	queryParams.Add("patient", stripPatientPrefix(memberID))
	queryParams.Add("_count", "200")

	var claims []Claim
	err := r.searchAll(ctx, "Claim", queryParams, func(sr *searchResult) {
		claims = append(claims, sr.Claims...)
	})
	if err != nil {
		return nil, err
	}

	// Deduplicate returned values
	claims = removeDuplicates(claims, func(c Claim) any {
		return c.Id
	})

	return claims, nil
}

// Ping checks that the record store answers its capability statement.
func (r *fhirRepository) Ping(ctx context.Context) error {
	_, err := r.client.get(ctx, r.client.resourceURL("metadata"), nil)
	return err
}

// searchAll runs a search and follows next links until the last page.
func (r *fhirRepository) searchAll(ctx context.Context, resourceType string, queryParams url.Values, collect func(*searchResult)) error {
	next := r.client.resourceURL(resourceType)
	params := queryParams

	for page := 0; next != ""; page++ {
		if page >= maxFollowPages {
			return fmt.Errorf("%w: %s search exceeded %d pages", ErrRepositoryUnavailable, resourceType, maxFollowPages)
		}

		body, err := r.client.get(ctx, next, params)
		if err != nil {
			return err
		}

		result, err := processFHIRResponse(ctx, body)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRepositoryUnavailable, err)
		}
		collect(result)

		// Continuation links already carry the query
		next = result.Next
		params = nil
	}

	return nil
}

type fhirPager struct {
	client *fhirClient
	next   string
	params url.Values
	done   bool
}

func (p *fhirPager) Done() bool {
	return p.done
}

func (p *fhirPager) Next(ctx context.Context) ([]Patient, error) {
	if p.done {
		return nil, nil
	}

	// Create span
	span, ctx := apm.StartSpan(ctx, "Get and Parse Data", "Patients")
	defer span.End()

	body, err := p.client.get(ctx, p.next, p.params)
	if err != nil {
		return nil, err
	}

	result, err := processFHIRResponse(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRepositoryUnavailable, err)
	}

	// Advance only after the page decoded
	p.next = result.Next
	p.params = nil
	if p.next == "" {
		p.done = true
	}

	return result.Patients, nil
}

// Define a generic function to remove duplicates based on a field.
func removeDuplicates[T any](slice []T, keyFunc func(T) any) []T {
	seen := make(map[interface{}]bool)
	var result []T

	// Iterate through the slice and use the keyFunc to get the key for deduplication.
	for _, item := range slice {
		key := keyFunc(item)
		if !seen[key] {
			seen[key] = true
			result = append(result, item)
		}
	}

	return result
}
