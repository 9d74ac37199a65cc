package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ApplyEnv overrides configuration values from NEUROSCOUT_* and related
// environment variables. Unset variables leave values untouched.
func (c *Config) ApplyEnv() error {
	c.Server.Addr = envString("NEUROSCOUT_ADDR", c.Server.Addr)
	c.Server.DB = envString("NEUROSCOUT_DB", c.Server.DB)
	c.Server.LogLevel = envString("NEUROSCOUT_LOG_LEVEL", c.Server.LogLevel)
	c.Server.LogFormat = envString("NEUROSCOUT_LOG_FORMAT", c.Server.LogFormat)
	c.Paths.FileData = envString("NEUROSCOUT_FILE_DATA", c.Paths.FileData)
	c.Paths.Domain = envString("NEUROSCOUT_DOMAIN", c.Paths.Domain)
	c.Worker.ServerURL = envString("NEUROSCOUT_SERVER", c.Worker.ServerURL)
	c.NeuroVault.URL = envString("NEUROVAULT_URL", c.NeuroVault.URL)

	c.Mirror.Backend = envString("NEUROSCOUT_MIRROR_BACKEND", c.Mirror.Backend)
	c.Mirror.Endpoint = envString("NEUROSCOUT_MIRROR_ENDPOINT", c.Mirror.Endpoint)
	c.Mirror.Bucket = envString("NEUROSCOUT_MIRROR_BUCKET", c.Mirror.Bucket)
	c.Mirror.Prefix = envString("NEUROSCOUT_MIRROR_PREFIX", c.Mirror.Prefix)
	c.Mirror.AccessKey = envString("NEUROSCOUT_MIRROR_ACCESS_KEY", c.Mirror.AccessKey)
	c.Mirror.SecretKey = envString("NEUROSCOUT_MIRROR_SECRET_KEY", c.Mirror.SecretKey)
	c.Mirror.Region = envString("NEUROSCOUT_MIRROR_REGION", c.Mirror.Region)

	var err error
	if c.Mirror.UseSSL, err = envBool("NEUROSCOUT_MIRROR_USE_SSL", c.Mirror.UseSSL); err != nil {
		return err
	}
	if c.Worker.Concurrency, err = envInt("NEUROSCOUT_WORKER_CONCURRENCY", c.Worker.Concurrency); err != nil {
		return err
	}
	if c.Server.LeaseTimeout, err = envDuration("NEUROSCOUT_LEASE_TIMEOUT", c.Server.LeaseTimeout); err != nil {
		return err
	}
	if c.NeuroVault.Timeout, err = envDuration("NEUROVAULT_TIMEOUT", c.NeuroVault.Timeout); err != nil {
		return err
	}
	return nil
}

func envString(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return d, nil
	}
	return def, nil
}

func envBool(key string, def bool) (bool, error) {
	if v, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("parse %s: %w", key, err)
		}
		return b, nil
	}
	return def, nil
}

func envInt(key string, def int) (int, error) {
	if v, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return i, nil
	}
	return def, nil
}
