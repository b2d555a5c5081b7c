package main

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type server struct {
	config    *Config
	evaluator *Evaluator
	pinger    pinger
}

func newServer(config *Config, evaluator *Evaluator, pinger pinger) *server {
	return &server{
		config:    config,
		evaluator: evaluator,
		pinger:    pinger,
	}
}

// authRequired reports whether the API is guarded by bearer tokens.
func (s *server) authRequired() bool {
	return s.config.AuthHost != "" || s.config.AuthIssuer != "" || s.config.AuthSigningKey != ""
}

func (s *server) routes() *echo.Echo {
	// Create new Echo object
	e := echo.New()
	e.HideBanner = true

	// Add basic middleware to log all requests
	e.Use(middleware.Logger())

	// Configure elastic apm logging
	initAPM(e, s.config)

	// Sets CORS headers to allow all origins, but restrict HTTP method type
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	}))

	// Middleware to provide more control over response status for APM transactions
	// This must go after the Elastic APM middleware
	e.Use(filterError)

	var guarded []echo.MiddlewareFunc
	if s.authRequired() {
		guarded = append(guarded, s.openId)
	}

	// Adds a heartbeat handler
	e.GET("/heartbeat", heartbeat)
	e.GET("/health", s.health)

	apiGroup := e.Group("/api", guarded...)
	apiGroup.GET("/measures", listMeasures)
	apiGroup.GET("/hedis/:measure", s.evaluateMeasure)
	apiGroup.GET("/hedis-summary", s.hedisSummary)

	// Creats API group to simplify middleware declaration
	cdsGroup := e.Group("/cds-services")

	// Add a GET handler for presenting the CDS Hooks services available
	cdsGroup.GET("", cdsServices)

	// Add a POST handler for CDS Hooks service
	cdsGroup.POST("/care-gaps", s.careGaps, guarded...)

	return e
}
