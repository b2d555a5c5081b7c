package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

func heartbeat(c echo.Context) error {
	// Heartbeat function to assess service status. Immediately return 200
	return c.NoContent(http.StatusOK)
}

// health reports the service as up and whether the record store answers.
// The service itself stays up when the store is down, so this is always 200.
func (s *server) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := map[string]string{
		"status":        "up",
		"fhir_server":   "up",
		"fhir_base_url": s.config.FHIRBaseURL,
		"version":       s.config.AppVersion,
	}
	if err := s.pinger.Ping(ctx); err != nil {
		logger(ctx, fmt.Errorf("health check failed: %w", err))
		status["fhir_server"] = "down"
		status["error"] = err.Error()
	}

	return c.JSON(http.StatusOK, status)
}

type measureInfo struct {
	Code       string         `json:"code"`
	Name       string         `json:"name"`
	SummaryKey string         `json:"summary_key"`
	MinAge     int            `json:"min_age"`
	MaxAge     int            `json:"max_age"`
	Sex        string         `json:"sex,omitempty"`
	Diagnosis  []string       `json:"diagnosis_codes,omitempty"`
	Exclusions []string       `json:"exclusion_codes,omitempty"`
	Evidence   []evidenceInfo `json:"evidence"`
	Note       string         `json:"note,omitempty"`
}

type evidenceInfo struct {
	Type     string   `json:"type"`
	Codes    []string `json:"codes"`
	Lookback string   `json:"lookback"`
}

func describeMeasure(def *MeasureDefinition) measureInfo {
	info := measureInfo{
		Code:       def.Code,
		Name:       def.Name,
		SummaryKey: def.SummaryKey,
		MinAge:     def.MinAge,
		MaxAge:     def.MaxAge,
		Sex:        def.Sex,
		Diagnosis:  def.Diagnosis.Codes,
		Note:       def.Note,
	}
	info.Exclusions = append(info.Exclusions, def.Exclusions.Full.Codes...)
	info.Exclusions = append(info.Exclusions, def.Exclusions.Partial.Codes...)
	for _, set := range def.Evidence {
		info.Evidence = append(info.Evidence, evidenceInfo{
			Type:     set.Label,
			Codes:    set.Codes.Codes,
			Lookback: set.Lookback.String(),
		})
	}
	return info
}

func listMeasures(c echo.Context) error {
	measures := make([]measureInfo, 0, len(measureCodes))
	for _, code := range measureCodes {
		def, err := lookupMeasure(code)
		if err != nil {
			return err
		}
		measures = append(measures, describeMeasure(def))
	}
	return c.JSON(http.StatusOK, map[string]any{"measures": measures})
}

// parseEvaluateOptions reads max_members (or max_patients) and
// measurement_end from the query string.
func parseEvaluateOptions(c echo.Context) (EvaluateOptions, error) {
	var opts EvaluateOptions

	maxMembers := c.QueryParam("max_members")
	if maxMembers == "" {
		maxMembers = c.QueryParam("max_patients")
	}
	if maxMembers != "" {
		n, err := strconv.Atoi(maxMembers)
		if err != nil || n <= 0 {
			return opts, fmt.Errorf("max_members must be a positive integer, got %q", maxMembers)
		}
		opts.MaxMembers = n
	}

	if end := c.QueryParam("measurement_end"); end != "" {
		t, err := time.Parse(dateFormat, end)
		if err != nil {
			return opts, fmt.Errorf("measurement_end must be YYYY-MM-DD, got %q", end)
		}
		opts.MeasurementEnd = t
	}

	return opts, nil
}

// statusForError maps evaluation failures onto response codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrUnknownMeasure):
		return http.StatusNotFound
	case errors.Is(err, ErrRepositoryUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return statusClosedConnection
	}
	return http.StatusInternalServerError
}

func (s *server) evaluateMeasure(c echo.Context) error {
	ctx := c.Request().Context()

	opts, err := parseEvaluateOptions(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	result, err := s.evaluator.Evaluate(ctx, c.Param("measure"), opts)
	if err != nil {
		// Partial results still go back to the caller
		if result == nil {
			return c.JSON(statusForError(err), map[string]string{"error": err.Error()})
		}
		return c.JSON(statusForError(err), result)
	}

	return c.JSON(http.StatusOK, result)
}

func (s *server) hedisSummary(c echo.Context) error {
	ctx := c.Request().Context()

	opts, err := parseEvaluateOptions(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	summary, err := s.evaluator.Summarize(ctx, opts)
	if err != nil {
		if summary == nil {
			return c.JSON(statusForError(err), map[string]string{"error": err.Error()})
		}
		return c.JSON(statusForError(err), summary)
	}

	return c.JSON(http.StatusOK, summary)
}

func cdsServices(c echo.Context) error {
	// Build basic Hook response
	serviceResponse := ServiceResponse{
		Services: []Service{
			{
				Hook:        "patient-view",
				Title:       "HEDIS Care Gaps",
				Description: "Lists the HEDIS quality measures the patient is eligible for but has not met",
				Id:          "care-gaps",
				Prefetch: map[string]string{
					"patient": "Patient/{{context.patientId}}",
				},
			},
		},
	}

	// Return response
	return c.JSON(http.StatusOK, serviceResponse)
}

func (s *server) careGaps(c echo.Context) error {

	// Obtains raw http request
	r := c.Request()

	// Obtains http request context
	ctx := r.Context()

	hookRequest, err := parseCDSHooksRequest(r.Body)
	if err != nil {
		logger(ctx, err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	report, err := s.evaluator.EvaluateMember(ctx, hookRequest.Context.PatientId, time.Time{})
	if err != nil {
		logger(ctx, fmt.Errorf("%v (patient: %s)", err, hookRequest.Context.PatientId))
		return c.NoContent(statusForError(err))
	}

	hook, err := buildCareGapHook(report)
	if err != nil {
		logger(ctx, err)
		return c.NoContent(http.StatusInternalServerError)
	}

	// Return response
	return c.JSON(http.StatusOK, hook)
}
