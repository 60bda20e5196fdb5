// Package transport selects between key-based and password-based
// secure-shell transport and builds the command templates shared by
// remote execution and file copy.
package transport

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/remoradev/remora/internal/config"
)

// passwordHelper relays the ssh password to the OpenSSH client. It must
// be installed locally whenever password transport is requested.
const passwordHelper = "sshpass"

// DependencyError reports a missing local helper required by the chosen
// transport.
type DependencyError struct {
	Helper string
	Err    error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("required helper %q is not installed: %v", e.Helper, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// Transport builds ssh and scp invocations for one remote target. Both
// templates share one option set so the connect and copy paths cannot
// drift apart.
type Transport struct {
	host     string
	port     uint16
	user     string
	password string // ssh password; empty means key-based auth
}

// Select chooses the transport for cfg. Password transport requires the
// relay helper on PATH; its absence is fatal before any network action.
func Select(cfg *config.Config) (*Transport, error) {
	if cfg.SSHPassword != "" {
		if _, err := exec.LookPath(passwordHelper); err != nil {
			return nil, &DependencyError{Helper: passwordHelper, Err: err}
		}
	}

	return &Transport{
		host:     cfg.RemoteHost,
		port:     cfg.RemotePort,
		user:     cfg.RemoteUser,
		password: cfg.SSHPassword,
	}, nil
}

// PasswordAuth reports whether the transport authenticates with a
// password rather than a key.
func (t *Transport) PasswordAuth() bool {
	return t.password != ""
}

// Target returns the user@host description of the remote end.
func (t *Transport) Target() string {
	return fmt.Sprintf("%s@%s:%d", t.user, t.host, t.port)
}

// baseOptions is the option set shared by ssh and scp. Host-key
// verification prompts are disabled: trusting the host on first contact
// is the operator's responsibility, not the orchestrator's.
func (t *Transport) baseOptions() []string {
	opts := []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "LogLevel=ERROR",
	}
	if t.password == "" {
		// Fail instead of prompting when the key is not accepted.
		opts = append(opts, "-o", "BatchMode=yes")
	}
	return opts
}

// Shell returns a command running argv in one remote session. The remote
// argv is passed as an argument vector, never interpolated into a shell
// string. tty requests pseudo-terminal allocation, needed whenever the
// remote side may prompt for a password.
func (t *Transport) Shell(ctx context.Context, tty bool, argv ...string) *exec.Cmd {
	var args []string
	if tty {
		args = append(args, "-tt")
	}
	args = append(args, "-p", strconv.Itoa(int(t.port)), "-l", t.user)
	args = append(args, t.baseOptions()...)
	args = append(args, "--", t.host)
	args = append(args, argv...)

	return t.command(ctx, "ssh", args)
}

// Copy returns a command copying localPaths into remoteDir on the remote
// host.
func (t *Transport) Copy(ctx context.Context, localPaths []string, remoteDir string) *exec.Cmd {
	args := []string{"-P", strconv.Itoa(int(t.port))}
	args = append(args, t.baseOptions()...)
	args = append(args, localPaths...)
	args = append(args, fmt.Sprintf("%s@%s:%s/", t.user, t.host, remoteDir))

	return t.command(ctx, "scp", args)
}

// command wraps the invocation with the password relay helper in
// password mode. The password travels in the child environment
// (sshpass -e), never on the argv, so it cannot show up in process
// listings.
func (t *Transport) command(ctx context.Context, name string, args []string) *exec.Cmd {
	if t.password == "" {
		return exec.CommandContext(ctx, name, args...)
	}

	cmd := exec.CommandContext(ctx, passwordHelper, append([]string{"-e", name}, args...)...)
	cmd.Env = append(os.Environ(), "SSHPASS="+t.password)
	return cmd
}
