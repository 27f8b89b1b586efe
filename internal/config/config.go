// Package config handles rhost configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// searchPathsFunc is overridden in tests to avoid finding real config
// files on developer/deploy machines.
var searchPathsFunc = DefaultSearchPaths

// DefaultSearchPaths returns the config file search order.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "rhost", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // container convention
	paths = append(paths, "/etc/rhost/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise it searches searchPathsFunc() and returns the first
// path that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range searchPathsFunc() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPathsFunc())
}

// Config holds all rhost configuration.
type Config struct {
	Listen           ListenConfig     `yaml:"listen"`
	LogLevel         string           `yaml:"log_level"`
	Engine           EngineConfig     `yaml:"engine"`
	CredentialHelper CredHelperConfig `yaml:"credential_helper"`
	Audit            AuditConfig      `yaml:"audit"`
	Telemetry        TelemetryConfig  `yaml:"telemetry"`
	Discovery        DiscoveryConfig  `yaml:"discovery"`
}

// ListenConfig selects the channel transport mode. Exactly one of the
// two roles is used per session, matching the single-client non-goal:
// if Address is empty the host calls wait_for_client on Port (accepting
// the one inbound connection); if Address is set the host instead dials
// out to it via connect_to_server.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// EngineConfig selects which Engine implementation the host embeds.
type EngineConfig struct {
	// Kind names the engine implementation. Only "simulator" (the
	// deterministic stand-in shipped with this repo) is recognized;
	// a real embedder would add further kinds here.
	Kind string `yaml:"kind"`
}

// CredHelperConfig configures the optional PAM-style credential
// validation performed before the greeting is sent.
type CredHelperConfig struct {
	Enabled                 bool   `yaml:"enabled"`
	PAMService              string `yaml:"pam_service"`
	PAMHelperPath           string `yaml:"pam_helper_path"`
	FallbackCredentialsFile string `yaml:"fallback_credentials_file"`
}

// AuditConfig configures the local evaluation-lifecycle audit log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TelemetryConfig configures the optional MQTT status telemeter.
type TelemetryConfig struct {
	MQTT MQTTTelemetryConfig `yaml:"mqtt"`
}

// MQTTTelemetryConfig configures the MQTT publisher.
type MQTTTelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g. "tcp://localhost:1883"
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// DiscoveryConfig configures optional mDNS advertisement of the listen
// endpoint.
type DiscoveryConfig struct {
	MDNS MDNSConfig `yaml:"mdns"`
}

// MDNSConfig configures the mDNS advertiser.
type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

// Configured reports whether credential validation is enabled and has a
// source to check against: a PAM helper path or a fallback credentials file.
func (c CredHelperConfig) Configured() bool {
	return c.Enabled && (c.PAMHelperPath != "" || c.FallbackCredentialsFile != "")
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g. ${RHOST_MQTT_BROKER}) as a
	// convenience for container deployments.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8765
	}
	if c.Engine.Kind == "" {
		c.Engine.Kind = "simulator"
	}
	if c.Audit.Path == "" {
		c.Audit.Path = "rhost-audit.db"
	}
	if c.Telemetry.MQTT.TopicPrefix == "" {
		c.Telemetry.MQTT.TopicPrefix = "rhost"
	}
	if c.Telemetry.MQTT.ClientID == "" {
		c.Telemetry.MQTT.ClientID = "rhost-host"
	}
	if c.Discovery.MDNS.Instance == "" {
		c.Discovery.MDNS.Instance = "rhost"
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.Engine.Kind != "simulator" {
		return fmt.Errorf("engine.kind %q not recognized (valid: simulator)", c.Engine.Kind)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	if c.CredentialHelper.Enabled && c.CredentialHelper.PAMHelperPath == "" && c.CredentialHelper.FallbackCredentialsFile == "" {
		return fmt.Errorf("credential_helper.enabled requires pam_helper_path or fallback_credentials_file")
	}
	if c.Telemetry.MQTT.Enabled && c.Telemetry.MQTT.Broker == "" {
		return fmt.Errorf("telemetry.mqtt.enabled requires telemetry.mqtt.broker")
	}
	return nil
}

// Default returns a default configuration suitable for local
// development against the in-memory engine simulator. All defaults are
// already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
