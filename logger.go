package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.elastic.co/apm"
	"go.elastic.co/apm/module/apmechov4"
	"go.elastic.co/apm/module/apmzap"
	"go.uber.org/zap"
)

var (
	zapLogger *zap.Logger
	apmActive bool
)

func init() {

	// Set logging configuration
	var err error
	zapLogger, err = zap.NewProduction(zap.WrapCore((&apmzap.Core{}).WrapCore))
	if err != nil {
		log.Fatalf("Can't initialize zap logger: %v", err)
	}

	// Flushes buffer if it exists
	defer zapLogger.Sync()
}

func initAPM(e *echo.Echo, config *Config) {
	// Close default Elastic APM tracer
	zapLogger.Info("Disable default APM logger")
	apm.DefaultTracer.Close()

	apmActive = config.ElasticAPMActive
	if !apmActive {
		return
	}

	// Create new tracer with basic options
	// Use environment variables for the remaining options
	zapLogger.Info("Creating new APM tracer",
		zap.String("ServiceName", config.AppName),
		zap.String("ServiceEnvironment", config.AppEnv))
	tracer, err := apm.NewTracerOptions(apm.TracerOptions{
		ServiceName:        config.AppName,
		ServiceVersion:     config.AppVersion,
		ServiceEnvironment: config.AppEnv,
	})
	if err != nil {
		zapLogger.Fatal(err.Error())
	}

	// Adds elastic APM middleware to web server to capture requests
	// and send them to elastic
	zapLogger.Info("Enabling APM logger")
	e.Use(apmechov4.Middleware(apmechov4.WithTracer(tracer)))
}

func logger(c context.Context, err error) {
	zapLogger.Error(err.Error())
	if apmActive {
		apm.CaptureError(c, err).Send()
	}
}

// runLogger posts evaluation summaries to an ELK ingest endpoint.
type runLogger struct {
	url     string
	appName string
	appEnv  string
	client  *fhirClient
}

func newRunLogger(config *Config) *runLogger {
	if config.ELKURL == "" {
		return nil
	}
	return &runLogger{
		url:     config.ELKURL,
		appName: config.AppName,
		appEnv:  config.AppEnv,
		client:  &fhirClient{timeout: 5 * time.Second, attempts: 1},
	}
}

func (rl *runLogger) elkLogger(ctx context.Context, msg map[string]string, level string) error {
	// Set default level if none exists
	if level == "" {
		level = "debug"
	}

	// Sends logs to a test index, if not production
	index := rl.appEnv
	if index != "prod" {
		index = "test"
	}

	// Populate remaining message details
	msg["environment"] = index
	msg["level"] = level
	msg["date"] = time.Now().Format(time.RFC3339)

	// Build request body
	bodyReader, err := readerFromMap(msg)
	if err != nil {
		return err
	}

	headers := map[string]string{
		"Content-Type": "application/json",
	}

	// Send log message
	resp, err := rl.client.sendRequest(ctx, "POST", rl.url, nil, headers, bodyReader)
	if err != nil {
		return err
	}

	body, err := readBody(resp)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("log message failed (run %s, Status Code - %d): %s", msg["runId"], resp.StatusCode, string(body))
	}

	return nil
}

// sendRunLog ships the outcome of a run without holding up the caller.
func (rl *runLogger) sendRunLog(result *EvaluationResult) {
	if rl == nil || result == nil {
		return
	}

	message := map[string]string{
		"application":  rl.appName,
		"runId":        result.RunID,
		"measure":      result.MeasureCode,
		"denominator":  strconv.Itoa(result.Denominator),
		"numerator":    strconv.Itoa(result.Numerator),
		"exclusions":   strconv.Itoa(result.Exclusions),
		"fetchErrors":  strconv.Itoa(result.FetchErrors),
		"rate":         result.RateDisplay,
		"msg":          "measure evaluation finished",
		"runFailed":    strconv.FormatBool(result.Error != ""),
		"periodEnd":    result.MeasurementPeriod.End,
		"periodStart":  result.MeasurementPeriod.Start,
		"sampleSize":   strconv.Itoa(result.SampleSize),
		"gapInCare":    strconv.Itoa(result.GapInCareCount),
		"dropped":      strconv.Itoa(result.Dropped),
		"initialPopln": strconv.Itoa(result.InitialPopulation),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rl.elkLogger(ctx, message, "info"); err != nil {
			logger(ctx, fmt.Errorf("%v (run: %s)", err, result.RunID))
		}
	}()
}

// Creates a string reader from a map
func readerFromMap(m map[string]string) (*strings.Reader, error) {
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return strings.NewReader(string(jsonBytes)), nil
}
