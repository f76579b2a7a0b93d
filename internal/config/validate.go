package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTermCache(); err != nil {
		return err
	}
	if err := c.validateBulkLoad(); err != nil {
		return err
	}
	if err := c.validateDerived(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTermCache() error {
	if c.TermCache.FlushIntervalSeconds <= 0 {
		return errors.New("terminology_cache.flush_interval_seconds must be positive")
	}
	if c.TermCache.FlushRetryBudget <= 0 {
		return errors.New("terminology_cache.flush_retry_budget must be positive")
	}
	return nil
}

func (c *Config) validateBulkLoad() error {
	if c.BulkLoad.BatchThreshold <= 0 {
		return errors.New("bulk_load.batch_threshold must be positive")
	}
	return nil
}

func (c *Config) validateDerived() error {
	if c.Derived.ContextCapacity <= 0 {
		return errors.New("derived.context_capacity must be positive")
	}
	if c.Derived.ContextTTLSeconds <= 0 {
		return errors.New("derived.context_ttl_seconds must be positive")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.Workers <= 0 || c.Pipeline.Workers > 128 {
		return fmt.Errorf("pipeline.workers must be between 1 and 128, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.ErrorRetryInterval <= 0 {
		return errors.New("pipeline.error_retry_interval must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
