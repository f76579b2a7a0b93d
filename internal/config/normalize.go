package config

import (
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if strings.TrimSpace(c.Paths.SourceDir) != "" {
		if c.Paths.SourceDir, err = expandPath(c.Paths.SourceDir); err != nil {
			return err
		}
	}

	if strings.TrimSpace(c.TermCache.Path) == "" {
		c.TermCache.Path = filepath.Join(c.Paths.StateDir, "txcache.json")
	} else if c.TermCache.Path, err = expandPath(c.TermCache.Path); err != nil {
		return err
	}

	if strings.TrimSpace(c.BulkLoad.DBPath) == "" {
		c.BulkLoad.DBPath = filepath.Join(c.Paths.StateDir, "sink.db")
	} else if c.BulkLoad.DBPath, err = expandPath(c.BulkLoad.DBPath); err != nil {
		return err
	}

	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
