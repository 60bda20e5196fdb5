// Package facts gathers system information from the remote target.
package facts

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/remoradev/remora/internal/transport"
)

// Gather collects facts about the remote host over the transport. Probe
// failures degrade to missing keys; only a failure to reach the host at
// all is an error.
func Gather(ctx context.Context, tr *transport.Transport) (map[string]any, error) {
	facts := make(map[string]any)

	// Reachability gate: if the uid probe cannot run, nothing else will.
	uid, code, err := run(ctx, tr, "id", "-u")
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, errors.New("could not open remote session")
	}
	facts["uid"] = uid

	if user, code, err := run(ctx, tr, "id", "-un"); err == nil && code == 0 {
		facts["user"] = user
	}
	if hostname, code, err := run(ctx, tr, "hostname"); err == nil && code == 0 {
		facts["hostname"] = hostname
	}

	for k, v := range gatherOSInfo(ctx, tr) {
		facts[k] = v
	}

	// Which escalation strategy a deploy would pick, in probe order.
	switch {
	case uid == "0":
		facts["escalation"] = "direct-root"
	default:
		if _, code, err := run(ctx, tr, "sudo", "-n", "true"); err == nil && code == 0 {
			facts["escalation"] = "passwordless-sudo"
		} else {
			facts["escalation"] = "interactive-su"
		}
	}

	return facts, nil
}

// gatherOSInfo gathers operating system information.
func gatherOSInfo(ctx context.Context, tr *transport.Transport) map[string]any {
	info := make(map[string]any)

	osType, code, err := run(ctx, tr, "uname", "-s")
	if err != nil || code != 0 {
		return info
	}
	info["os_type"] = osType

	if osType == "Linux" {
		if content, code, err := run(ctx, tr, "cat", "/etc/os-release"); err == nil && code == 0 {
			osRelease := parseOSRelease(content)
			if id, ok := osRelease["ID"]; ok {
				info["distribution"] = id
			}
			if version, ok := osRelease["VERSION_ID"]; ok {
				info["distribution_version"] = version
			}
			if name, ok := osRelease["PRETTY_NAME"]; ok {
				info["os_name"] = name
			}
		}
	}

	if arch, code, err := run(ctx, tr, "uname", "-m"); err == nil && code == 0 {
		info["architecture"] = arch
	}
	if kernel, code, err := run(ctx, tr, "uname", "-r"); err == nil && code == 0 {
		info["kernel"] = kernel
	}

	return info
}

// parseOSRelease parses /etc/os-release format.
func parseOSRelease(content string) map[string]string {
	result := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, "="); idx > 0 {
			key := line[:idx]
			value := strings.Trim(line[idx+1:], "\"'")
			result[key] = value
		}
	}
	return result
}

// run executes one short remote command and returns its trimmed stdout
// and exit status.
func run(ctx context.Context, tr *transport.Transport, argv ...string) (string, int, error) {
	cmd := tr.Shell(ctx, false, argv...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return strings.TrimSpace(stdout.String()), ee.ExitCode(), nil
		}
		return "", -1, err
	}
	return strings.TrimSpace(stdout.String()), 0, nil
}
