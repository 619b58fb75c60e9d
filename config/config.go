// Package config assembles a svcaccount.ServiceContext from a layered
// configuration source: an optional YAML file for the settings an
// operator tunes per deployment, then environment overrides, of which
// SERVICE_PASSWORD is mandatory on any path needing private material —
// the same layering cmn.Config applies (defaults, then config.json, then
// environment) trimmed to the handful of knobs this module owns.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/svctrust/core/svcaccount"
	"github.com/svctrust/core/svcerrors"
)

// Driver names the concrete ObjectStore backend to wire up. The value is
// opaque to this package; callers that build a driver from it own the
// mapping from name to package (objstore/drivers/...).
type Driver string

const (
	DriverMem       Driver = "mem"
	DriverS3        Driver = "s3"
	DriverGCS       Driver = "gcs"
	DriverAzureBlob Driver = "azureblob"
)

// Config is the layered configuration for one service process.
type Config struct {
	Driver             Driver        `yaml:"driver"`
	BucketName         string        `yaml:"bucket_name"`
	KeyRotationPeriod  time.Duration `yaml:"key_rotation_period"`
	MutexTimeout       time.Duration `yaml:"mutex_timeout"`
	MutexLeaseDuration time.Duration `yaml:"mutex_lease_duration"`
	PARDefaultDuration time.Duration `yaml:"par_default_duration"`

	// ServicePassword is never read from the YAML file — only from the
	// SERVICE_PASSWORD environment variable — so it never lands on disk
	// next to the rest of a checked-in config.
	ServicePassword string `yaml:"-"`
}

// defaults mirrors the zero-value fallbacks svcaccount.NewServiceContext
// and lock.New already apply; Load pre-fills them so callers reading
// Config fields directly (e.g. to log them) see the effective value
// rather than a zero.
func defaults() Config {
	return Config{
		Driver:             DriverMem,
		KeyRotationPeriod:  svcaccount.DefaultKeyRotationPeriod,
		MutexTimeout:       10 * time.Second,
		MutexLeaseDuration: 30 * time.Second,
		PARDefaultDuration: time.Hour,
	}
}

// Load reads path (if non-empty and it exists) as YAML over the
// defaults, then applies environment overrides. SERVICE_PASSWORD is read
// unconditionally; its absence is not an error here (some callers only
// need public-material operations) but RequirePassword rejects it on
// any path that needs private access.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, errors.Wrapf(err, "config: reading %q", path)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(err, "config: parsing %q", path)
		}
	}

	if v := os.Getenv("SVCTRUST_DRIVER"); v != "" {
		cfg.Driver = Driver(v)
	}
	if v := os.Getenv("SVCTRUST_BUCKET_NAME"); v != "" {
		cfg.BucketName = v
	}
	if v := os.Getenv("SVCTRUST_KEY_ROTATION_PERIOD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrap(err, "config: SVCTRUST_KEY_ROTATION_PERIOD")
		}
		cfg.KeyRotationPeriod = d
	}
	if v := os.Getenv("SVCTRUST_MUTEX_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrap(err, "config: SVCTRUST_MUTEX_TIMEOUT")
		}
		cfg.MutexTimeout = d
	}
	if v := os.Getenv("SVCTRUST_PAR_DEFAULT_DURATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrap(err, "config: SVCTRUST_PAR_DEFAULT_DURATION")
		}
		cfg.PARDefaultDuration = d
	}
	cfg.ServicePassword = os.Getenv("SERVICE_PASSWORD")

	return &cfg, nil
}

// RequirePassword fails fast with ServiceAccountError when
// SERVICE_PASSWORD was not set, mirroring
// _service_account.py:_get_service_password's fatal-on-missing behaviour
// for any path that needs private material.
func (c *Config) RequirePassword() error {
	if c.ServicePassword == "" {
		return svcerrors.NewServiceAccountError("SERVICE_PASSWORD is required but was not set")
	}
	return nil
}
