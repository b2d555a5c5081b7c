package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	memberErrorSkip  = "skip"
	memberErrorAbort = "abort"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	AppName              string        `mapstructure:"APP_NAME"`
	AppEnv               string        `mapstructure:"APP_ENV"`
	AppVersion           string        `mapstructure:"APP_VERSION"`
	FHIRBaseURL          string        `mapstructure:"FHIR_BASE_URL"`
	FHIRAccessToken      string        `mapstructure:"FHIR_ACCESS_TOKEN"`
	Timeout              int           `mapstructure:"TIMEOUT"`
	RunTimeout           time.Duration `mapstructure:"RUN_TIMEOUT"`
	MemberTimeout        time.Duration `mapstructure:"MEMBER_TIMEOUT"`
	Workers              int           `mapstructure:"WORKERS"`
	PageSize             int           `mapstructure:"PAGE_SIZE"`
	FetchAttempts        int           `mapstructure:"FETCH_ATTEMPTS"`
	RetryInitialInterval time.Duration `mapstructure:"RETRY_INITIAL_INTERVAL"`
	RateLimitRPS         float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst       int           `mapstructure:"RATE_LIMIT_BURST"`
	CacheTTL             time.Duration `mapstructure:"CACHE_TTL"`
	DefaultMaxMembers    int           `mapstructure:"DEFAULT_MAX_MEMBERS"`
	MaxMembersLimit      int           `mapstructure:"MAX_MEMBERS_LIMIT"`
	NumeratorSampleSize  int           `mapstructure:"NUMERATOR_SAMPLE_SIZE"`
	GapSampleSize        int           `mapstructure:"GAP_SAMPLE_SIZE"`
	MemberErrorPolicy    string        `mapstructure:"MEMBER_ERROR_POLICY"`
	AuthHost             string        `mapstructure:"AUTH_HOST"`
	AuthIssuer           string        `mapstructure:"AUTH_ISSUER"`
	AuthSigningKey       string        `mapstructure:"AUTH_SIGNING_KEY"`
	ElasticAPMActive     bool          `mapstructure:"ELASTIC_APM_ACTIVE"`
	ELKURL               string        `mapstructure:"ELK_URL"`
}

var configKeys = []string{
	"PORT", "APP_NAME", "APP_ENV", "APP_VERSION",
	"FHIR_BASE_URL", "FHIR_ACCESS_TOKEN",
	"TIMEOUT", "RUN_TIMEOUT", "MEMBER_TIMEOUT",
	"WORKERS", "PAGE_SIZE", "FETCH_ATTEMPTS", "RETRY_INITIAL_INTERVAL",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "CACHE_TTL",
	"DEFAULT_MAX_MEMBERS", "MAX_MEMBERS_LIMIT",
	"NUMERATOR_SAMPLE_SIZE", "GAP_SAMPLE_SIZE", "MEMBER_ERROR_POLICY",
	"AUTH_HOST", "AUTH_ISSUER", "AUTH_SIGNING_KEY", "ELASTIC_APM_ACTIVE", "ELK_URL",
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8000")
	v.SetDefault("APP_NAME", "hedis-measures")
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("FHIR_BASE_URL", "http://hapi-fhir:8080/fhir")
	v.SetDefault("TIMEOUT", 30)
	v.SetDefault("RUN_TIMEOUT", "5m")
	v.SetDefault("MEMBER_TIMEOUT", "30s")
	v.SetDefault("WORKERS", 8)
	v.SetDefault("PAGE_SIZE", 100)
	v.SetDefault("FETCH_ATTEMPTS", 3)
	v.SetDefault("RETRY_INITIAL_INTERVAL", "250ms")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("DEFAULT_MAX_MEMBERS", 500)
	v.SetDefault("MAX_MEMBERS_LIMIT", 2000)
	v.SetDefault("NUMERATOR_SAMPLE_SIZE", 10)
	v.SetDefault("GAP_SAMPLE_SIZE", 20)
	v.SetDefault("MEMBER_ERROR_POLICY", memberErrorSkip)
}

// readConfig loads configuration from the environment and, when CONFIG_FILE is
// set, from that file. Environment variables win over file values.
func readConfig(configFile string) (*Config, error) {
	v := viper.New()
	setConfigDefaults(v)
	v.AutomaticEnv()

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	config.FHIRBaseURL = strings.TrimRight(config.FHIRBaseURL, "/")
	config.MemberErrorPolicy = strings.ToLower(config.MemberErrorPolicy)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the evaluator cannot run with.
func (c *Config) Validate() error {
	if c.FHIRBaseURL == "" {
		return fmt.Errorf("FHIR_BASE_URL is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Workers)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("PAGE_SIZE must be positive, got %d", c.PageSize)
	}
	if c.FetchAttempts <= 0 {
		return fmt.Errorf("FETCH_ATTEMPTS must be positive, got %d", c.FetchAttempts)
	}
	if c.RunTimeout <= 0 || c.MemberTimeout <= 0 {
		return fmt.Errorf("RUN_TIMEOUT and MEMBER_TIMEOUT must be positive")
	}
	if c.MemberTimeout >= c.RunTimeout {
		return fmt.Errorf("MEMBER_TIMEOUT (%s) must be shorter than RUN_TIMEOUT (%s)", c.MemberTimeout, c.RunTimeout)
	}
	if c.DefaultMaxMembers <= 0 || c.MaxMembersLimit < c.DefaultMaxMembers {
		return fmt.Errorf("DEFAULT_MAX_MEMBERS must be positive and not exceed MAX_MEMBERS_LIMIT")
	}
	if c.NumeratorSampleSize < 0 || c.GapSampleSize < 0 {
		return fmt.Errorf("sample sizes cannot be negative")
	}
	// Nothing checks a token's signature without one of these
	if c.AuthIssuer != "" && c.AuthHost == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER requires AUTH_HOST or AUTH_SIGNING_KEY")
	}
	switch c.MemberErrorPolicy {
	case memberErrorSkip, memberErrorAbort:
	default:
		return fmt.Errorf("MEMBER_ERROR_POLICY must be %q or %q, got %q", memberErrorSkip, memberErrorAbort, c.MemberErrorPolicy)
	}
	return nil
}

// clampMaxMembers applies the default and the hard upper limit to a requested
// member count.
func (c *Config) clampMaxMembers(requested int) int {
	if requested <= 0 {
		return c.DefaultMaxMembers
	}
	if requested > c.MaxMembersLimit {
		return c.MaxMembersLimit
	}
	return requested
}
