package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.elastic.co/apm"
)

var (
	cfgFile        string
	measureCode    string
	maxMembers     int
	measurementEnd string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hedis",
	Short: "HEDIS quality measure evaluation over a FHIR record store",
	Long: `Evaluates Breast Cancer Screening (BCS), Colorectal Cancer Screening (COL),
Comprehensive Diabetes Care HbA1c testing (CDC) and Controlling High Blood
Pressure (CBP) over the patients, conditions and claims held in a FHIR server.

Configuration comes from environment variables and, optionally, a config file.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and CDS Hooks service",
	RunE:  runServe,
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate one measure and print the result as JSON",
	Long: `Evaluate runs one measure over the member population.

Example:
  hedis evaluate --measure BCS
  hedis evaluate --measure COL --max-members 1000 --measurement-end 2025-12-31`,
	RunE: runEvaluate,
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Evaluate every measure and print the star rating summary",
	RunE:  runSummary,
}

var measuresCmd = &cobra.Command{
	Use:   "measures",
	Short: "List the supported measures",
	RunE: func(cmd *cobra.Command, args []string) error {
		var measures []measureInfo
		for _, code := range measureCodes {
			def, err := lookupMeasure(code)
			if err != nil {
				return err
			}
			measures = append(measures, describeMeasure(def))
		}
		return writeJSON(cmd.OutOrStdout(), measures)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("CONFIG_FILE"), "config file (yaml, json or env)")

	evaluateCmd.Flags().StringVar(&measureCode, "measure", "", "measure code (BCS, COL, CDC, CBP)")
	_ = evaluateCmd.MarkFlagRequired("measure")
	for _, cmd := range []*cobra.Command{evaluateCmd, summaryCmd} {
		cmd.Flags().IntVar(&maxMembers, "max-members", 0, "maximum members to read (default from DEFAULT_MAX_MEMBERS)")
		cmd.Flags().StringVar(&measurementEnd, "measurement-end", "", "last day of the measurement period, YYYY-MM-DD (default today)")
	}

	rootCmd.AddCommand(serveCmd, evaluateCmd, summaryCmd, measuresCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		zapLogger.Error(err.Error())
		os.Exit(1)
	}
}

// buildEvaluator wires the record store client, its cache and the evaluator.
func buildEvaluator(config *Config) (*Evaluator, *fhirRepository) {
	repo := newFHIRRepository(newFHIRClient(config))
	evaluator := NewEvaluator(newCachedRepository(repo, config.CacheTTL), config, newRunLogger(config))
	return evaluator, repo
}

func runServe(cmd *cobra.Command, args []string) error {
	config, err := readConfig(cfgFile)
	if err != nil {
		return err
	}

	evaluator, repo := buildEvaluator(config)
	e := newServer(config, evaluator, repo).routes()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serveUntil(ctx, e, ":"+config.Port, 10*time.Second)
}

// serveUntil runs the server until ctx is done, then drains in-flight
// requests for up to grace and flushes buffered APM data.
func serveUntil(ctx context.Context, e *echo.Echo, addr string, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	zapLogger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	err := e.Shutdown(shutdownCtx)

	apm.DefaultTracer.Flush(nil)

	if startErr := <-errCh; startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
		return startErr
	}
	return err
}

func commandOptions() (EvaluateOptions, error) {
	opts := EvaluateOptions{MaxMembers: maxMembers}
	if measurementEnd != "" {
		t, err := time.Parse(dateFormat, measurementEnd)
		if err != nil {
			return opts, fmt.Errorf("--measurement-end must be YYYY-MM-DD: %w", err)
		}
		opts.MeasurementEnd = t
	}
	return opts, nil
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	config, err := readConfig(cfgFile)
	if err != nil {
		return err
	}
	opts, err := commandOptions()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	evaluator, _ := buildEvaluator(config)
	result, err := evaluator.Evaluate(ctx, measureCode, opts)
	if result != nil {
		if werr := writeJSON(cmd.OutOrStdout(), result); werr != nil {
			return werr
		}
	}
	return err
}

func runSummary(cmd *cobra.Command, args []string) error {
	config, err := readConfig(cfgFile)
	if err != nil {
		return err
	}
	opts, err := commandOptions()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	evaluator, _ := buildEvaluator(config)
	summary, err := evaluator.Summarize(ctx, opts)
	if summary != nil {
		if werr := writeJSON(cmd.OutOrStdout(), summary); werr != nil {
			return werr
		}
	}
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
