package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.elastic.co/apm"
	"go.uber.org/zap"
)

type Evaluator struct {
	repo   Repository
	config *Config
	now    func() time.Time
	runLog *runLogger
}

func NewEvaluator(repo Repository, config *Config, runLog *runLogger) *Evaluator {
	return &Evaluator{
		repo:   repo,
		config: config,
		now:    time.Now,
		runLog: runLog,
	}
}

type EvaluateOptions struct {
	// MaxMembers caps how many members are read; zero means the default.
	MaxMembers int
	// MeasurementEnd is the last day of the measurement period; zero means now.
	MeasurementEnd time.Time
}

// run holds everything one Evaluate call shares with its member jobs.
type run struct {
	id            string
	def           *MeasureDefinition
	end           time.Time
	repo          Repository
	acc           *runAccumulator
	memberTimeout time.Duration
	abortOnError  bool
	cancel        context.CancelCauseFunc
}

// Evaluate runs one measure over the member population and returns its
// result. When the run stops early (timeout, cancellation, a failed page, or
// a member failure under the abort policy) the partial result is returned
// together with the error, and the result's Error field says why.
func (e *Evaluator) Evaluate(ctx context.Context, code string, opts EvaluateOptions) (*EvaluationResult, error) {
	def, err := lookupMeasure(code)
	if err != nil {
		return nil, err
	}

	end := opts.MeasurementEnd
	if end.IsZero() {
		end = e.now()
	}
	end = wallClock(end)

	limit := e.config.clampMaxMembers(opts.MaxMembers)
	if def.PopulationCap > 0 && def.PopulationCap < limit {
		limit = def.PopulationCap
	}

	result := newEvaluationResult(def, end)
	result.RunID = uuid.NewString()

	// Create span
	span, ctx := apm.StartSpan(ctx, "Evaluate Measure", def.Code)
	defer span.End()

	ctx, cancelTimeout := context.WithTimeout(ctx, e.config.RunTimeout)
	defer cancelTimeout()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	r := &run{
		id:            result.RunID,
		def:           def,
		end:           end,
		repo:          e.repo,
		acc:           newRunAccumulator(end, e.config.NumeratorSampleSize, e.config.GapSampleSize),
		memberTimeout: e.config.MemberTimeout,
		abortOnError:  e.config.MemberErrorPolicy == memberErrorAbort,
		cancel:        cancel,
	}

	zapLogger.Info("Measure evaluation started",
		zap.String("run_id", r.id),
		zap.String("measure", def.Code),
		zap.String("measurement_end", end.Format(dateFormat)),
		zap.Int("max_members", limit))
	started := time.Now()

	pool := NewPool(ctx, e.config.Workers)
	pool.Start()
	pager := e.repo.FetchMembers(def.memberCriteria(end), e.config.PageSize)
	runErr := r.produce(ctx, pager, pool, limit)
	pool.Wait()

	// Work may have been cut short after the last submission
	if runErr == nil && ctx.Err() != nil {
		runErr = context.Cause(ctx)
	}

	r.acc.fill(result)
	if runErr != nil {
		runErr = fmt.Errorf("evaluating %s: %w", def.Code, runErr)
		result.Error = runErr.Error()
		logger(ctx, fmt.Errorf("%v (run: %s)", runErr, r.id))
	}

	zapLogger.Info("Measure evaluation finished",
		zap.String("run_id", r.id),
		zap.String("measure", def.Code),
		zap.Int("sample_size", result.SampleSize),
		zap.Int("denominator", result.Denominator),
		zap.Int("numerator", result.Numerator),
		zap.Int("exclusions", result.Exclusions),
		zap.Int("fetch_errors", result.FetchErrors),
		zap.String("rate", result.RateDisplay),
		zap.Duration("elapsed", time.Since(started)))

	e.runLog.sendRunLog(result)

	return result, runErr
}

func newEvaluationResult(def *MeasureDefinition, end time.Time) *EvaluationResult {
	period := def.measurementPeriod(end)
	result := &EvaluationResult{
		MeasureCode: def.Code,
		MeasureName: def.Name,
		MeasurementPeriod: MeasurementPeriod{
			Start: period.Start.Format(dateFormat),
			End:   period.End.Format(dateFormat),
		},
		RateDisplay:       rateDisplay(0),
		NumeratorPatients: []NumeratorPatient{},
		GapInCare:         []PatientSummary{},
		Note:              def.Note,
	}
	for _, set := range def.Evidence {
		w := def.evidenceWindow(set, end)
		result.LookbackWindows = append(result.LookbackWindows, LookbackWindow{
			Type:  set.Label,
			Start: w.Start.Format(dateFormat),
			End:   w.End.Format(dateFormat),
		})
	}
	return result
}

// produce pages through the member search and submits one job per member
// until the limit is reached or the search is exhausted.
func (r *run) produce(ctx context.Context, pager MemberPager, pool *Pool, limit int) error {
	received := 0
	for !pager.Done() && received < limit {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		page, err := pager.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return fmt.Errorf("fetching members: %w", err)
		}

		for _, patient := range page {
			if received >= limit {
				break
			}
			if !pool.Submit(&memberJob{run: r, patient: patient}) {
				return context.Cause(ctx)
			}
			received++
		}
	}
	return nil
}

type memberJob struct {
	run     *run
	patient Patient
}

func (j *memberJob) Execute(ctx context.Context) {
	r := j.run
	m := newMember(j.patient)

	memberCtx, cancel := context.WithTimeout(ctx, r.memberTimeout)
	defer cancel()

	o, err := r.classifyMember(memberCtx, m)
	if err != nil {
		// The run is ending; the member was never evaluated
		if ctx.Err() != nil {
			return
		}

		r.acc.recordFetchError()
		logger(ctx, fmt.Errorf("%v (run: %s, patient: %s)", err, r.id, m.ID))
		if r.abortOnError {
			r.cancel(fmt.Errorf("member %s: %w", m.ID, err))
		}
		return
	}

	r.acc.record(m, o)
}

// classifyMember fetches what the measure needs for one member, in order, and
// stops fetching as soon as the outcome is known.
func (r *run) classifyMember(ctx context.Context, m *Member) (outcome, error) {
	if !meetsDemographics(m, r.def, r.end) {
		return outcome{State: stateDropped}, nil
	}

	if r.def.needsConditions() {
		conditions, err := r.repo.FetchConditions(ctx, m.ID)
		if err != nil {
			return outcome{}, err
		}
		m.Conditions = conditions

		if !hasRequiredDiagnosis(m, r.def) {
			return outcome{State: stateDropped}, nil
		}
		if hasExclusion(m, r.def) {
			return outcome{State: stateExcluded}, nil
		}
	}

	claims, err := r.repo.FetchClaims(ctx, m.ID)
	if err != nil {
		return outcome{}, err
	}
	m.Claims = claims

	return classify(m, r.def, r.end), nil
}

// classify places a fully loaded member in exactly one terminal state.
func classify(m *Member, def *MeasureDefinition, end time.Time) outcome {
	if !isInInitialPopulation(m, def, end) {
		return outcome{State: stateDropped}
	}
	if hasExclusion(m, def) {
		return outcome{State: stateExcluded}
	}
	if ok, evidence := findQualifyingEvidence(m, def, end); ok {
		return outcome{State: stateNumerator, Evidence: evidence}
	}
	return outcome{State: stateGapInCare}
}
