package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrNotRunning     = errors.New("manager not running")
	ErrAlreadyRunning = errors.New("manager already running")
	ErrStartFailed    = errors.New("manager start failed")
	ErrStopFailed     = errors.New("manager stop failed")
)

var (
	ErrCacheKeyEmpty    = errors.New("cache key empty")
	ErrCachePoolEmpty   = errors.New("cache pool name empty")
	ErrCacheValueIsNil  = errors.New("cache value is nil")
	ErrCachePoolUnknown = errors.New("cache pool unknown")
)

var (
	ErrTaskIsNil       = errors.New("task is nil")
	ErrTaskFnIsNil     = errors.New("task function is nil")
	ErrQueueFull       = errors.New("task queue full")
	ErrDuplicateTaskID = errors.New("duplicate task id")
)

var (
	ErrSamplerFailed    = errors.New("memory sampler failed")
	ErrMonitorNoSamples = errors.New("monitor has no samples")
)

var (
	ErrRegistryFull  = errors.New("resource registry full")
	ErrInvalidHandle = errors.New("invalid resource handle")
	ErrCleanupFailed = errors.New("cleanup failed")
	ErrInvalidState  = errors.New("invalid state")
)

var (
	ErrLoggerTypeUnknown  = errors.New("logger type unknown")
	ErrLogFileIsEmpty     = errors.New("log file is empty")
	ErrLogFileWrongFormat = errors.New("log file wrong format")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
