// Package config loads the incarnator configuration file.
//
// Configuration is written in YAML or CUE. Either way it is checked
// against the embedded CUE schema (schema.cue), which also supplies the
// defaults, and a handful of settings can be overridden from the
// environment with the INCARNATOR_ prefix.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource []byte

// Config is the whole configuration file.
type Config struct {
	Database   string  `yaml:"database" json:"database"`
	Timezone   string  `yaml:"timezone" json:"timezone"`
	MainDomain string  `yaml:"main_domain" json:"main_domain"`
	Stator     Stator  `yaml:"stator" json:"stator"`
	Push       Push    `yaml:"push" json:"push"`
	Remote     Remote  `yaml:"remote" json:"remote"`
	Metrics    Metrics `yaml:"metrics" json:"metrics"`
}

// Stator configures the state graph runner.
type Stator struct {
	Concurrency             int    `yaml:"concurrency" json:"concurrency"`
	ConcurrencyPerModel     int    `yaml:"concurrency_per_model" json:"concurrency_per_model"`
	BatchSize               int    `yaml:"batch_size" json:"batch_size"`
	LeaseSeconds            int    `yaml:"lease_seconds" json:"lease_seconds"`
	ScheduleIntervalSeconds int    `yaml:"schedule_interval_seconds" json:"schedule_interval_seconds"`
	LivenessFile            string `yaml:"liveness_file" json:"liveness_file"`
	RunForSeconds           int    `yaml:"run_for_seconds" json:"run_for_seconds"`
}

// Lease is LeaseSeconds as a duration.
func (s Stator) Lease() time.Duration {
	return time.Duration(s.LeaseSeconds) * time.Second
}

// ScheduleInterval is ScheduleIntervalSeconds as a duration.
func (s Stator) ScheduleInterval() time.Duration {
	return time.Duration(s.ScheduleIntervalSeconds) * time.Second
}

// RunFor is RunForSeconds as a duration. Zero means forever.
func (s Stator) RunFor() time.Duration {
	return time.Duration(s.RunForSeconds) * time.Second
}

// Push configures web push delivery.
type Push struct {
	VAPIDPublicKey  string `yaml:"vapid_public_key" json:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key" json:"vapid_private_key"`
	Subscriber      string `yaml:"subscriber" json:"subscriber"`
}

// Enabled reports whether both VAPID keys are set.
func (p Push) Enabled() bool {
	return p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != ""
}

// Remote configures outbound requests to other servers.
type Remote struct {
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	UserAgent      string `yaml:"user_agent" json:"user_agent"`
}

// Timeout is TimeoutSeconds as a duration.
func (r Remote) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	// Listen is the address to serve /metrics on. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`
}

// Default returns the configuration with every default applied and no
// database.
func Default() Config {
	return Config{
		Timezone: "UTC",
		Stator: Stator{
			Concurrency:             20,
			ConcurrencyPerModel:     4,
			BatchSize:               50,
			LeaseSeconds:            300,
			ScheduleIntervalSeconds: 1,
		},
		Remote: Remote{
			TimeoutSeconds: 10,
			UserAgent:      "incarnator",
		},
	}
}

// Location loads the configured time zone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, &ValidationError{Field: "timezone", Message: err.Error()}
	}
	return loc, nil
}

// ValidationError is one problem found in a configuration file.
type ValidationError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ValidationError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LookupEnv is the signature of os.LookupEnv.
type LookupEnv func(key string) (string, bool)

// Load reads path, applies environment overrides from the process
// environment and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with the environment supplied by lookup. Files ending
// in .cue are read as CUE; anything else as YAML.
func LoadWithEnv(path string, lookup LookupEnv) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if filepath.Ext(path) == ".cue" {
		cfg, err = parseCUE(path, data)
	} else {
		cfg, err = parseYAML(data)
	}
	if err != nil {
		return nil, err
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseYAML(data []byte) (Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

func parseCUE(path string, data []byte) (Config, error) {
	ctx := cuecontext.New()
	def, err := schema(ctx)
	if err != nil {
		return Config{}, err
	}
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}

	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}
	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return Config{}, formatCUEError(err)
	}
	return cfg, nil
}

// Validate checks cfg against the schema and resolves its time zone.
func Validate(cfg Config) error {
	ctx := cuecontext.New()
	def, err := schema(ctx)
	if err != nil {
		return err
	}
	v := def.Unify(ctx.Encode(cfg))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}
	return nil
}

func schema(ctx *cue.Context) (cue.Value, error) {
	v := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile config schema: %w", err)
	}
	return v.LookupPath(cue.ParsePath("#Config")), nil
}

// formatCUEError turns each CUE error into a ValidationError carrying the
// offending field and, when known, its position.
func formatCUEError(err error) error {
	cerrs := cueerrors.Errors(err)
	if len(cerrs) == 0 {
		return err
	}
	out := make([]error, 0, len(cerrs))
	for _, e := range cerrs {
		path := e.Path()
		if len(path) > 0 && path[0] == "#Config" {
			path = path[1:]
		}
		ve := &ValidationError{
			Field:   strings.Join(path, "."),
			Message: message(e),
		}
		if positions := cueerrors.Positions(e); len(positions) > 0 {
			ve.Pos = positions[0]
		}
		out = append(out, ve)
	}
	return errors.Join(out...)
}

// message is the error text without the path prefix CUE adds.
func message(e cueerrors.Error) string {
	format, args := e.Msg()
	return fmt.Sprintf(format, args...)
}
