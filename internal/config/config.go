// Package config loads the agent configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/pushlane/pushlane/internal/database"
)

// EnvPrefix marks environment variables that override file settings.
// PUSHLANE_BACKEND_APPKEY sets backend.appKey.
const EnvPrefix = "PUSHLANE_"

const defaultFileName = "pushagent.yaml"

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config is the full agent configuration.
type Config struct {
	Env struct {
		Name        string `yaml:"name"`
		ServiceName string `yaml:"serviceName"`
		Log         Log    `yaml:"log"`
	} `yaml:"env"`

	Backend      BackendConfig      `yaml:"backend"`
	Device       DeviceConfig       `yaml:"device"`
	Registration RegistrationConfig `yaml:"registration"`
	Retry        RetryConfig        `yaml:"retry"`
	Store        StoreConfig        `yaml:"store"`
	Control      ControlConfig      `yaml:"control"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	PubSub       PubSubConfig       `yaml:"pubsub"`
}

// Log configures the root logger.
type Log struct {
	Pretty bool   `yaml:"pretty"`
	Level  string `yaml:"level"`
}

// BackendConfig configures the registration backend client.
type BackendConfig struct {
	BaseURL   string        `yaml:"baseUrl"`
	AppKey    string        `yaml:"appKey"`
	AppSecret string        `yaml:"appSecret"`
	Vendor    string        `yaml:"vendor"`
	Timeout   time.Duration `yaml:"timeout"`

	// CircuitBreakerTimeout is how long the breaker stays open.
	CircuitBreakerTimeout time.Duration `yaml:"circuitBreakerTimeout"`
}

// DeviceConfig describes the device this agent registers.
type DeviceConfig struct {
	Type     string `yaml:"type"`
	Timezone string `yaml:"timezone"`
	Language string `yaml:"language"`
	Country  string `yaml:"country"`
}

// RegistrationConfig holds registration behavior switches.
type RegistrationConfig struct {
	ClearNamedUserOnReinstall bool     `yaml:"clearNamedUserOnReinstall"`
	AllowedTransports         []string `yaml:"allowedTransports"`
	PushTransport             string   `yaml:"pushTransport"`
	ChannelCreationDelay      bool     `yaml:"channelCreationDelay"`
	TagRegistration           bool     `yaml:"tagRegistration"`
	TokenRegistration         bool     `yaml:"tokenRegistration"`
	Analytics                 bool     `yaml:"analytics"`
	AllowNamedUserSetTags     bool     `yaml:"allowNamedUserSetTags"`

	// ReregistrationInterval forces an update even when the payload is
	// unchanged.
	ReregistrationInterval time.Duration `yaml:"reregistrationInterval"`
}

// PushTransportAllowed reports whether the configured push transport is in
// the allowed list.
func (r RegistrationConfig) PushTransportAllowed() bool {
	for _, t := range r.AllowedTransports {
		if strings.EqualFold(t, r.PushTransport) {
			return true
		}
	}
	return false
}

// RetryConfig configures job retry backoff.
type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
}

// StoreConfig selects the preference store.
type StoreConfig struct {
	Driver    string          `yaml:"driver"`
	Namespace string          `yaml:"namespace"`
	Postgres  database.Config `yaml:"postgres"`
}

// ControlConfig configures the control HTTP API.
type ControlConfig struct {
	Port            int           `yaml:"port"`
	JWTSigningKey   string        `yaml:"jwtSigningKey"`
	RateLimit       int           `yaml:"rateLimit"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// RequireTLS rejects requests a proxy marked as plain HTTP.
	RequireTLS bool `yaml:"requireTls"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

// PubSubConfig configures the remote trigger subscription.
type PubSubConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ProjectID      string `yaml:"projectId"`
	SubscriptionID string `yaml:"subscriptionId"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	var cfg Config
	cfg.Env.Name = "development"
	cfg.Env.ServiceName = "pushagent"
	cfg.Env.Log.Level = "info"

	cfg.Backend = BackendConfig{
		BaseURL:               "https://device-api.urbanairship.com",
		Vendor:                "urbanairship",
		Timeout:               30 * time.Second,
		CircuitBreakerTimeout: 30 * time.Second,
	}
	cfg.Device.Type = "android"
	cfg.Registration = RegistrationConfig{
		AllowedTransports:      []string{"fcm", "adm"},
		PushTransport:          "fcm",
		TagRegistration:        true,
		TokenRegistration:      true,
		Analytics:              true,
		ReregistrationInterval: 24 * time.Hour,
	}
	cfg.Retry = RetryConfig{
		InitialInterval: 10 * time.Second,
		MaxInterval:     5 * time.Minute,
	}
	cfg.Store = StoreConfig{
		Driver:    StoreMemory,
		Namespace: "default",
		Postgres:  database.DefaultConfig(),
	}
	cfg.Control = ControlConfig{
		Port:            8080,
		RateLimit:       60,
		ShutdownTimeout: 10 * time.Second,
	}
	cfg.Telemetry = TelemetryConfig{
		OTLPEndpoint: "localhost:4317",
		SampleRatio:  1.0,
	}
	return cfg
}

// Validate reports settings the agent cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Backend.AppKey == "" || c.Backend.AppSecret == "" {
		errs = append(errs, errors.New("backend.appKey and backend.appSecret are required"))
	}
	switch c.Device.Type {
	case "android", "amazon":
	default:
		errs = append(errs, fmt.Errorf("device.type %q is not supported", c.Device.Type))
	}
	switch c.Store.Driver {
	case StoreMemory, StorePostgres:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not supported", c.Store.Driver))
	}
	if c.Control.Port <= 0 || c.Control.Port > 65535 {
		errs = append(errs, fmt.Errorf("control.port %d is out of range", c.Control.Port))
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.SubscriptionID == "") {
		errs = append(errs, errors.New("pubsub.projectId and pubsub.subscriptionId are required when pubsub is enabled"))
	}
	return errors.Join(errs...)
}

// Load reads configuration. The file at path is optional when path is empty;
// pushagent.yaml is then looked up in the working directory and ./config.
// Environment variables prefixed with EnvPrefix override file values.
func Load(path string) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path == "" {
		path = findConfigFile(".", "config")
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	known := keyTree(reflect.TypeOf(cfg))
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return canonicalizeEnvKey(strings.TrimPrefix(key, EnvPrefix), known), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("load env variables: %w", err)
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "yaml",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			TagName:          "yaml",
			WeaklyTypedInput: true,
			ZeroFields:       true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			MatchName: strings.EqualFold,
		},
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func findConfigFile(dirs ...string) string {
	for _, dir := range dirs {
		candidate := filepath.Join(dir, defaultFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// keyTree returns the nested yaml key tree of t so env segments can be
// matched against it.
func keyTree(t reflect.Type) map[string]any {
	tree := map[string]any{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			continue
		}
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Duration(0)) {
			tree[name] = keyTree(f.Type)
			continue
		}
		tree[name] = nil
	}
	return tree
}

// canonicalizeEnvKey maps BACKEND_APPKEY onto backend.appKey using the
// existing key tree. Segments that match nothing are kept lowercase.
func canonicalizeEnvKey(rawKey string, existing map[string]any) string {
	segments := strings.Split(strings.ToLower(rawKey), "_")
	canonical := make([]string, 0, len(segments))
	current := existing

	for _, segment := range segments {
		if segment == "" {
			continue
		}
		if matched, next, ok := findSegment(current, segment); ok {
			canonical = append(canonical, matched)
			current = next
			continue
		}
		canonical = append(canonical, segment)
		current = nil
	}

	return strings.Join(canonical, ".")
}

func findSegment(current map[string]any, segment string) (string, map[string]any, bool) {
	needle := normalizeToken(segment)
	for key, value := range current {
		if normalizeToken(key) != needle {
			continue
		}
		child, _ := value.(map[string]any)
		return key, child, true
	}
	return "", nil, false
}

func normalizeToken(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
