// Package target describes the remote hosts a command runs against.
package target

import (
	"fmt"
	"strconv"
	"strings"

	"sshmux/internal/errors"
)

// DefaultPort is used when a host entry does not set a port.
const DefaultPort = 22

// Target represents one host entry from the configuration
type Target struct {
	Host         string `mapstructure:"host" yaml:"host"`                             // Hostname or IP address
	User         string `mapstructure:"user" yaml:"user,omitempty"`                   // SSH username, empty when unset
	Port         int    `mapstructure:"port" yaml:"port,omitempty"`                   // SSH port, 0 when unset
	IdentityFile string `mapstructure:"identity_file" yaml:"identity_file,omitempty"` // Path to SSH private key file
}

// EffectivePort returns the configured port or DefaultPort when unset.
func (t Target) EffectivePort() int {
	if t.Port == 0 {
		return DefaultPort
	}
	return t.Port
}

// Destination returns "user@host" when a user is set, otherwise the bare host.
func (t Target) Destination() string {
	if t.User != "" {
		return t.User + "@" + t.Host
	}
	return t.Host
}

// Key identifies a target for duplicate detection. Ports are not part of
// the key, so the same user@host on two ports still counts as a duplicate.
func (t Target) Key() string {
	return t.Destination()
}

// Address returns host:port for display.
func (t Target) Address() string {
	return t.Host + ":" + strconv.Itoa(t.EffectivePort())
}

// ValidateTarget checks a single entry at the given position.
func ValidateTarget(index int, target Target) error {
	if strings.TrimSpace(target.Host) == "" {
		return errors.NewValidationError(
			fmt.Sprintf("Host entry at index %d is missing a hostname.", index), nil)
	}

	if target.Port < 0 || target.Port > 65535 {
		return errors.NewValidationError(
			fmt.Sprintf("Host entry at index %d has port %d out of valid range (0-65535, 0 means the default 22).", index, target.Port), nil)
	}

	return nil
}

// ValidateTargets validates every entry and rejects duplicate keys unless
// force is set. The first failing entry wins.
func ValidateTargets(targets []Target, force bool) error {
	seen := make(map[string]struct{}, len(targets))

	for i, t := range targets {
		if err := ValidateTarget(i, t); err != nil {
			return err
		}

		key := t.Key()
		if _, dup := seen[key]; dup && !force {
			return errors.NewValidationError(
				fmt.Sprintf("Duplicate host entry found: '%s'. Use --force to override.", key), nil)
		}
		seen[key] = struct{}{}
	}

	return nil
}
