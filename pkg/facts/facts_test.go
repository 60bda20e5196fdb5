package facts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/remoradev/remora/internal/config"
	"github.com/remoradev/remora/internal/transport"
)

const fakeSSH = `#!/bin/sh
seen=0
cmdargs=""
for a in "$@"; do
  if [ $seen -eq 1 ]; then cmdargs="$cmdargs $a"; fi
  [ "$a" = "--" ] && seen=1
done
case "$cmdargs" in
  *"id -un"*) echo deployer; exit 0 ;;
  *"id -u"*) echo "${FAKE_UID:-1000}"; exit 0 ;;
  *"hostname"*) echo proxy-fe; exit 0 ;;
  *"uname -s"*) echo Linux; exit 0 ;;
  *"uname -m"*) echo x86_64; exit 0 ;;
  *"uname -r"*) echo 6.1.0-18-amd64; exit 0 ;;
  *"os-release"*)
    echo 'ID=debian'
    echo 'VERSION_ID="12"'
    echo 'PRETTY_NAME="Debian GNU/Linux 12 (bookworm)"'
    exit 0
    ;;
  *"sudo -n true"*) exit "${FAKE_SUDO_EXIT:-1}" ;;
  *) exit 1 ;;
esac
`

func installFakeSSH(t *testing.T) {
	t.Helper()
	binDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(binDir, "ssh"), []byte(fakeSSH), 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", binDir)
}

func testTransport(t *testing.T) *transport.Transport {
	t.Helper()
	tr, err := transport.Select(&config.Config{
		RemoteHost: "10.0.0.5",
		RemotePort: 22,
		RemoteUser: "deployer",
	})
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestGather(t *testing.T) {
	installFakeSSH(t)
	t.Setenv("FAKE_UID", "1000")
	t.Setenv("FAKE_SUDO_EXIT", "0")

	got, err := Gather(context.Background(), testTransport(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]any{
		"uid":          "1000",
		"user":         "deployer",
		"hostname":     "proxy-fe",
		"os_type":      "Linux",
		"distribution": "debian",
		"escalation":   "passwordless-sudo",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("fact %s: expected %v, got %v", k, v, got[k])
		}
	}
}

func TestGatherEscalationFacts(t *testing.T) {
	tests := []struct {
		name     string
		uid      string
		sudoExit string
		want     string
	}{
		{"root", "0", "1", "direct-root"},
		{"sudoer", "1000", "0", "passwordless-sudo"},
		{"plain user", "1000", "1", "interactive-su"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			installFakeSSH(t)
			t.Setenv("FAKE_UID", tt.uid)
			t.Setenv("FAKE_SUDO_EXIT", tt.sudoExit)

			got, err := Gather(context.Background(), testTransport(t))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got["escalation"] != tt.want {
				t.Errorf("expected escalation %q, got %v", tt.want, got["escalation"])
			}
		})
	}
}

func TestParseOSRelease(t *testing.T) {
	content := `# comment
ID=debian
VERSION_ID="12"
PRETTY_NAME="Debian GNU/Linux 12 (bookworm)"

EMPTY_IGNORED
`
	got := parseOSRelease(content)

	if got["ID"] != "debian" {
		t.Errorf("expected ID debian, got %q", got["ID"])
	}
	if got["VERSION_ID"] != "12" {
		t.Errorf("expected quotes stripped, got %q", got["VERSION_ID"])
	}
	if got["PRETTY_NAME"] != "Debian GNU/Linux 12 (bookworm)" {
		t.Errorf("unexpected PRETTY_NAME %q", got["PRETTY_NAME"])
	}
	if _, ok := got["EMPTY_IGNORED"]; ok {
		t.Error("line without = should be ignored")
	}
}
