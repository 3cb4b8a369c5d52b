// Package config provides configuration management for sshmux.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"sshmux/internal/errors"
	"sshmux/internal/target"
)

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "sshmux.toml"

// EnvPrefix prefixes every environment override, e.g. SSHMUX_CONCURRENCY.
const EnvPrefix = "SSHMUX"

// File is the run description read from the config file
type File struct {
	Command string          `mapstructure:"command" yaml:"command"`
	Hosts   []target.Target `mapstructure:"hosts" yaml:"hosts"`
}

// Settings holds run options taken from flags and environment variables
type Settings struct {
	Config      string `mapstructure:"config"`        // Path to the config file
	Verbose     bool   `mapstructure:"verbose"`       // Print loaded config and connecting notices
	CheckConfig bool   `mapstructure:"check-config"`  // Validate and exit without running
	Force       bool   `mapstructure:"force"`         // Allow duplicate host entries
	Concurrency int    `mapstructure:"concurrency"`   // Maximum tasks in flight, 0 for unbounded
	Transport   string `mapstructure:"transport"`     // exec or native
	SSHBinary   string `mapstructure:"ssh-binary"`    // ssh client used by the exec transport
	Template    bool   `mapstructure:"template"`      // Render the command per host
	FailOnError bool   `mapstructure:"fail-on-error"` // Exit 1 when any host fails
	NoColor     bool   `mapstructure:"no-color"`      // Disable colored tags
	LogLevel    string `mapstructure:"log-level"`     // debug, info, warn or error
	LogFormat   string `mapstructure:"log-format"`    // text or json
}

// Transport names accepted by --transport.
const (
	TransportExec   = "exec"
	TransportNative = "native"
)

// Manager defines the interface for configuration management
type Manager interface {
	// Load reads and decodes the config file at path
	Load(path string) (*File, error)

	// Validate checks a decoded file before any task starts
	Validate(file *File, force bool) error
}

// ViperManager implements the Manager interface using Viper
type ViperManager struct {
	fs afero.Fs
}

// NewManager creates a configuration manager reading through fs. A nil fs
// means the OS filesystem.
func NewManager(fs afero.Fs) *ViperManager {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &ViperManager{fs: fs}
}

// Load reads the config file at path. The format follows the extension;
// a file without one is read as TOML. Unknown keys and a missing hosts
// key are rejected.
func (m *ViperManager) Load(path string) (*File, error) {
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	v.SetFs(m.fs)
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("toml")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("failed to read config file %s: %v", path, err), err)
	}

	var file File
	if err := v.UnmarshalExact(&file); err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("failed to parse config file %s: %v", path, err), err)
	}

	// an empty list is allowed, a missing key is not
	if !v.IsSet("hosts") {
		return nil, errors.NewValidationError(fmt.Sprintf("failed to parse config file %s: missing field 'hosts'", path), nil)
	}

	return &file, nil
}

// Validate ensures the command is set and every host entry is usable.
func (m *ViperManager) Validate(file *File, force bool) error {
	if strings.TrimSpace(file.Command) == "" {
		return errors.NewValidationError("Config is missing a command.", nil)
	}
	return target.ValidateTargets(file.Hosts, force)
}

// SetDefaults establishes default values for run settings
func SetDefaults(v *viper.Viper) {
	v.SetDefault("config", DefaultPath)
	v.SetDefault("concurrency", 0)
	v.SetDefault("transport", TransportExec)
	v.SetDefault("ssh-binary", "ssh")
	v.SetDefault("log-level", "warn")
	v.SetDefault("log-format", "text")
}

// LoadSettings resolves run settings from flags, SSHMUX_* environment
// variables and defaults, in that order of precedence.
func LoadSettings(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("failed to bind flags: %v", err), err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("failed to read settings: %v", err), err)
	}

	if err := ValidateSettings(&settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// ValidateSettings ensures run settings are valid and consistent
func ValidateSettings(s *Settings) error {
	if s.Concurrency < 0 {
		return errors.NewValidationError(fmt.Sprintf("concurrency must be non-negative, got %d", s.Concurrency), nil)
	}

	switch s.Transport {
	case TransportExec:
		if strings.TrimSpace(s.SSHBinary) == "" {
			return errors.NewValidationError("ssh-binary must not be empty", nil)
		}
	case TransportNative:
	default:
		return errors.NewValidationError(
			fmt.Sprintf("invalid transport '%s': must be one of 'exec' or 'native'", s.Transport), nil)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[s.LogLevel] {
		return errors.NewValidationError(
			fmt.Sprintf("invalid log level '%s': must be one of 'debug', 'info', 'warn' or 'error'", s.LogLevel), nil)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[s.LogFormat] {
		return errors.NewValidationError(
			fmt.Sprintf("invalid log format '%s': must be one of 'json' or 'text'", s.LogFormat), nil)
	}

	return nil
}

// GetEnvVarNames returns a list of all supported environment variable names
func GetEnvVarNames() []string {
	keys := []string{
		"config", "verbose", "check-config", "force", "concurrency", "transport",
		"ssh-binary", "template", "fail-on-error", "no-color", "log-level", "log-format",
	}
	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
	}
	return names
}
