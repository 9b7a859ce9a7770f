package config

import (
	"strconv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INCARNATOR_"

type envString struct {
	name string
	dst  func(*Config) *string
}

type envInt struct {
	name string
	dst  func(*Config) *int
}

var stringOverrides = []envString{
	{"DATABASE", func(c *Config) *string { return &c.Database }},
	{"MAIN_DOMAIN", func(c *Config) *string { return &c.MainDomain }},
	{"TIMEZONE", func(c *Config) *string { return &c.Timezone }},
	{"VAPID_PUBLIC_KEY", func(c *Config) *string { return &c.Push.VAPIDPublicKey }},
	{"VAPID_PRIVATE_KEY", func(c *Config) *string { return &c.Push.VAPIDPrivateKey }},
	{"METRICS_LISTEN", func(c *Config) *string { return &c.Metrics.Listen }},
}

var intOverrides = []envInt{
	{"CONCURRENCY", func(c *Config) *int { return &c.Stator.Concurrency }},
	{"CONCURRENCY_PER_MODEL", func(c *Config) *int { return &c.Stator.ConcurrencyPerModel }},
}

// applyEnv overwrites cfg with any INCARNATOR_* variables lookup knows.
// Empty values are ignored.
func applyEnv(cfg *Config, lookup LookupEnv) error {
	if lookup == nil {
		return nil
	}
	for _, o := range stringOverrides {
		if v, ok := lookup(EnvPrefix + o.name); ok && v != "" {
			*o.dst(cfg) = v
		}
	}
	for _, o := range intOverrides {
		v, ok := lookup(EnvPrefix + o.name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ValidationError{
				Field:   EnvPrefix + o.name,
				Message: "must be an integer, got " + strconv.Quote(v),
			}
		}
		*o.dst(cfg) = n
	}
	return nil
}
