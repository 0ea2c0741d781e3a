// Package config builds the immutable limits structure every subsystem is
// constructed with. Values come from defaults overlaid with an optional YAML
// file and are validated before use.
package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-resource/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// LoadFromFile reads a YAML limits file on top of the defaults.
func (l *Loader) LoadFromFile(configPath string) (*types.Limits, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(err, "file not found: "+configPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := l.readFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	limits := types.DefaultLimits()

	if err := yaml.Unmarshal(data, limits); err != nil {
		return nil, types.WrapError(err, "failed to parse YAML config")
	}

	if err := l.Validate(limits); err != nil {
		return nil, err
	}

	return limits, nil
}

// Validate checks a limits structure built programmatically.
func (l *Loader) Validate(limits *types.Limits) error {
	if limits == nil {
		return types.ErrConfigIsNil
	}

	if err := l.validator.Struct(limits); err != nil {
		return types.WrapError(err, "config validation failed")
	}

	if limits.Monitor != nil && limits.Monitor.CriticalThreshold <= limits.Monitor.WarningThreshold {
		return types.Errorf(types.ErrConfigValidateFailed,
			"critical threshold %.2f must exceed warning threshold %.2f",
			limits.Monitor.CriticalThreshold, limits.Monitor.WarningThreshold)
	}

	return nil
}

func (l *Loader) readFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}
