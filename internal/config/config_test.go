package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadEnvFile(t *testing.T) {
	path := writeConfig(t, "deploy.env", `
# deployment target
remoteHost=10.0.0.5
remoteSshPort=2222
export remoteUsername=deployer

sshPassword="s3cret pass"
rootPassword='r00t'
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.RemoteHost != "10.0.0.5" {
		t.Errorf("expected host 10.0.0.5, got %q", cfg.RemoteHost)
	}
	if cfg.RemotePort != 2222 {
		t.Errorf("expected port 2222, got %d", cfg.RemotePort)
	}
	if cfg.RemoteUser != "deployer" {
		t.Errorf("expected user deployer, got %q", cfg.RemoteUser)
	}
	if cfg.SSHPassword != "s3cret pass" {
		t.Errorf("expected double-quoted value unwrapped, got %q", cfg.SSHPassword)
	}
	if cfg.RootPassword != "r00t" {
		t.Errorf("expected single-quoted value unwrapped, got %q", cfg.RootPassword)
	}
	if cfg.Addr() != "10.0.0.5:2222" {
		t.Errorf("unexpected addr %q", cfg.Addr())
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeConfig(t, "deploy.yaml", `
remoteHost: proxy-fe.example.org
remoteSshPort: 22
remoteUsername: deployer
rootPassword: hunter2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.RemoteHost != "proxy-fe.example.org" {
		t.Errorf("unexpected host %q", cfg.RemoteHost)
	}
	if cfg.RemotePort != 22 {
		t.Errorf("expected port 22, got %d", cfg.RemotePort)
	}
	if cfg.SSHPassword != "" {
		t.Errorf("expected empty ssh password, got %q", cfg.SSHPassword)
	}
	if cfg.RootPassword != "hunter2" {
		t.Errorf("unexpected root password %q", cfg.RootPassword)
	}
}

func TestEnvTextRendersYAMLConfig(t *testing.T) {
	path := writeConfig(t, "deploy.yaml", `
remoteHost: 10.0.0.5
remoteSshPort: 2222
remoteUsername: deployer
greeting: hello world
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text := cfg.EnvText()
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if !strings.Contains(line, "=") {
			t.Errorf("line is not KEY=VALUE: %q", line)
		}
	}

	// The rendered form must parse back as an env file, unknown keys
	// included.
	values, err := parseEnv([]byte(text))
	if err != nil {
		t.Fatalf("rendered env does not parse: %v", err)
	}
	for key, want := range map[string]string{
		"remoteHost":     "10.0.0.5",
		"remoteSshPort":  "2222",
		"remoteUsername": "deployer",
		"greeting":       "hello world",
	} {
		if values[key] != want {
			t.Errorf("key %s: expected %q, got %q", key, want, values[key])
		}
	}
}

func TestLoadYAMLRejectsNestedValues(t *testing.T) {
	path := writeConfig(t, "deploy.yaml", `
remoteHost: 10.0.0.5
remoteSshPort: 22
remoteUsername: deployer
extras:
  nested: true
`)

	_, err := Load(path)
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"", "''"},
		{"two words", "'two words'"},
		{"a$b", "'a$b'"},
		{"it's", `'it'\''s'`},
	}

	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestLoadMissingRequiredKeys(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantKey string
	}{
		{
			name:    "missing host",
			content: "remoteSshPort=22\nremoteUsername=deployer\n",
			wantKey: "remoteHost",
		},
		{
			name:    "missing port",
			content: "remoteHost=10.0.0.5\nremoteUsername=deployer\n",
			wantKey: "remoteSshPort",
		},
		{
			name:    "missing user",
			content: "remoteHost=10.0.0.5\nremoteSshPort=22\n",
			wantKey: "remoteUsername",
		},
		{
			name:    "empty host",
			content: "remoteHost=\nremoteSshPort=22\nremoteUsername=deployer\n",
			wantKey: "remoteHost",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "deploy.env", tt.content)

			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected *ConfigError, got %T", err)
			}
			if !strings.Contains(cerr.Reason, tt.wantKey) {
				t.Errorf("expected reason to name %q, got %q", tt.wantKey, cerr.Reason)
			}
		})
	}
}

func TestLoadInvalidPort(t *testing.T) {
	tests := []struct {
		name string
		port string
	}{
		{"not a number", "twotwo"},
		{"zero", "0"},
		{"negative", "-1"},
		{"too large", "70000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "deploy.env",
				"remoteHost=10.0.0.5\nremoteSshPort="+tt.port+"\nremoteUsername=deployer\n")

			_, err := Load(path)
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
		})
	}
}

func TestLoadUnreadableFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.env"))

	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if cerr.Reason != "unreadable" {
		t.Errorf("expected reason 'unreadable', got %q", cerr.Reason)
	}
}

func TestLoadMalformedLine(t *testing.T) {
	path := writeConfig(t, "deploy.env", "remoteHost=10.0.0.5\nthis is not a key value pair\n")

	_, err := Load(path)
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if cerr.Reason != "malformed" {
		t.Errorf("expected reason 'malformed', got %q", cerr.Reason)
	}
}

func TestStringRedactsSecrets(t *testing.T) {
	cfg := &Config{
		RemoteHost:   "10.0.0.5",
		RemotePort:   22,
		RemoteUser:   "deployer",
		SSHPassword:  "topsecret",
		RootPassword: "alsosecret",
	}

	s := cfg.String()
	if strings.Contains(s, "topsecret") || strings.Contains(s, "alsosecret") {
		t.Errorf("String() leaked a secret: %q", s)
	}
	if !strings.Contains(s, "deployer@10.0.0.5:22") {
		t.Errorf("expected target description, got %q", s)
	}
	if !strings.Contains(s, "password auth") {
		t.Errorf("expected auth mode, got %q", s)
	}
}
