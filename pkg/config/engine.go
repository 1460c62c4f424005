// Package config loads the engine tuning file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/docflow/docflow/pkg/batch"
	"github.com/docflow/docflow/pkg/metrics"
	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid engine configuration")

// Engine is the optional tuning file shared by every binary. Zero values
// fall back to the defaults of the component they configure.
type Engine struct {
	Batch     BatchConfig                         `yaml:"batch"`
	Retry     RetryConfig                         `yaml:"retry"`
	TimeSaved map[models.ActionKind]time.Duration `yaml:"time_saved" validate:"dive,keys,required,endkeys,gte=0"`
	// Definitions is a directory of workflow YAML files seeded at startup.
	Definitions string `yaml:"definitions"`
}

type BatchConfig struct {
	MaxConcurrent     int           `yaml:"max_concurrent"      validate:"gte=0,lte=100"`
	MaxProcessingTime time.Duration `yaml:"max_processing_time" validate:"gte=0"`
}

type RetryConfig struct {
	MaxRetries      *uint64       `yaml:"max_retries"      validate:"omitempty,lte=10"`
	InitialInterval time.Duration `yaml:"initial_interval" validate:"gte=0"`
	MaxInterval     time.Duration `yaml:"max_interval"     validate:"gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads path. An empty path yields the defaults.
func Load(path string) (*Engine, error) {
	cfg := &Engine{}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %w", ErrInvalidConfig, path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (e *Engine) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if e.Retry.MaxInterval > 0 && e.Retry.MaxInterval < e.Retry.InitialInterval {
		return fmt.Errorf("%w: retry.max_interval must not be below retry.initial_interval", ErrInvalidConfig)
	}

	for kind := range e.TimeSaved {
		if !kind.Known() {
			return fmt.Errorf("%w: time_saved: unknown action kind %q", ErrInvalidConfig, kind)
		}
	}

	return nil
}

// BatchLimits returns the ceilings for the batch coordinator.
func (e *Engine) BatchLimits() batch.Limits {
	limits := batch.DefaultLimits()

	if e.Batch.MaxConcurrent > 0 {
		limits.MaxConcurrent = e.Batch.MaxConcurrent
	}

	if e.Batch.MaxProcessingTime > 0 {
		limits.MaxProcessingTime = e.Batch.MaxProcessingTime
	}

	return limits
}

func (e *Engine) RetryPolicy() workflow.RetryPolicy {
	policy := workflow.DefaultRetryPolicy()

	if e.Retry.MaxRetries != nil {
		policy.MaxRetries = *e.Retry.MaxRetries
	}

	if e.Retry.InitialInterval > 0 {
		policy.InitialInterval = e.Retry.InitialInterval
	}

	if e.Retry.MaxInterval > 0 {
		policy.MaxInterval = e.Retry.MaxInterval
	}

	return policy
}

// Estimates overlays the configured time saved estimates on the defaults.
func (e *Engine) Estimates() metrics.Estimates {
	estimates := metrics.DefaultEstimates()

	for kind, d := range e.TimeSaved {
		estimates[kind] = d
	}

	return estimates
}
