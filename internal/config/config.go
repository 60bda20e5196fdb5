// Package config loads and validates the deployment configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Recognized configuration keys.
const (
	KeyRemoteHost   = "remoteHost"
	KeyRemotePort   = "remoteSshPort"
	KeyRemoteUser   = "remoteUsername"
	KeySSHPassword  = "sshPassword"
	KeyRootPassword = "rootPassword"
)

// requiredKeys must be present and non-empty after parsing.
var requiredKeys = []string{KeyRemoteHost, KeyRemotePort, KeyRemoteUser}

// Config is the deployment configuration. It is constructed once by Load
// and passed by value through the pipeline; no component reads ambient
// state.
type Config struct {
	RemoteHost   string
	RemotePort   uint16
	RemoteUser   string
	SSHPassword  string
	RootPassword string

	// values holds every parsed key, recognized or not, so the file can
	// be re-rendered as KEY=VALUE lines.
	values map[string]string
}

// Addr returns the host:port dial address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.RemoteHost, strconv.Itoa(int(c.RemotePort)))
}

// EnvText renders the configuration as shell-sourceable KEY=VALUE
// lines, one per parsed key in sorted order. The remote session sources
// the environment artifact with sh, so a YAML-sourced configuration
// must go through this before staging.
func (c *Config) EnvText() string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, shellQuote(c.values[k]))
	}
	return b.String()
}

// shellQuote single-quotes a value unless it is plain enough to stand
// bare after an equals sign.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$`#&|;<>()*?[]{}~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// String describes the target without exposing secrets.
func (c *Config) String() string {
	auth := "key"
	if c.SSHPassword != "" {
		auth = "password"
	}
	return fmt.Sprintf("%s@%s (%s auth)", c.RemoteUser, c.Addr(), auth)
}

// ConfigError reports an unreadable, malformed, or incomplete
// configuration file.
type ConfigError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("config %s: %s", e.Path, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load reads the configuration file at path. Shell-style KEY=VALUE lines
// are the default format; files ending in .yaml or .yml are read as a
// YAML mapping with the same keys.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Reason: "unreadable", Err: err}
	}

	var values map[string]string
	if IsYAML(path) {
		values, err = parseYAML(data)
	} else {
		values, err = parseEnv(data)
	}
	if err != nil {
		return nil, &ConfigError{Path: path, Reason: "malformed", Err: err}
	}

	for _, key := range requiredKeys {
		if values[key] == "" {
			return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("required key %q is missing or empty", key)}
		}
	}

	port, err := strconv.ParseUint(values[KeyRemotePort], 10, 16)
	if err != nil || port == 0 {
		return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("%s must be a port number in 1-65535, got %q", KeyRemotePort, values[KeyRemotePort])}
	}

	return &Config{
		RemoteHost:   values[KeyRemoteHost],
		RemotePort:   uint16(port),
		RemoteUser:   values[KeyRemoteUser],
		SSHPassword:  values[KeySSHPassword],
		RootPassword: values[KeyRootPassword],
		values:       values,
	}, nil
}

// IsYAML reports whether path selects the YAML configuration variant.
func IsYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// parseEnv parses shell-style KEY=VALUE lines. Blank lines and lines
// starting with # are skipped; an optional "export " prefix and matching
// single or double quotes around the value are stripped. Values are
// otherwise opaque.
func parseEnv(data []byte) (map[string]string, error) {
	values := make(map[string]string)

	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected KEY=VALUE, got %q", i+1, line)
		}

		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("line %d: empty key", i+1)
		}

		values[key] = unquote(strings.TrimSpace(value))
	}

	return values, nil
}

// unquote strips one layer of matching single or double quotes.
func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// parseYAML parses a flat YAML mapping of scalars. Unrecognized keys
// are kept and passed through to the staged environment file, matching
// the env-file variant.
func parseYAML(data []byte) (map[string]string, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	values := make(map[string]string, len(raw))
	for key, v := range raw {
		switch t := v.(type) {
		case string:
			values[key] = t
		case int:
			values[key] = strconv.Itoa(t)
		case bool:
			values[key] = strconv.FormatBool(t)
		case float64:
			values[key] = strconv.FormatFloat(t, 'f', -1, 64)
		case nil:
			values[key] = ""
		default:
			return nil, fmt.Errorf("key %q: expected a scalar value", key)
		}
	}
	return values, nil
}
