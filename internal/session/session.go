// Package session opens the remote session that executes the setup
// payload with root privileges.
//
// The session registers a remote-side cleanup guard before anything
// privileged runs, so the remote staging directory is removed on every
// exit path, including a crash mid-setup. Exactly one escalation
// strategy executes per run, chosen by ordered probes: an effective-root
// session runs the payload directly, a passwordless sudo probe comes
// next, and an interactive su with the configured root password is the
// final fallback.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/remoradev/remora/internal/output"
	"github.com/remoradev/remora/internal/staging"
	"github.com/remoradev/remora/internal/transfer"
	"github.com/remoradev/remora/internal/transport"
)

// Strategy is the privilege escalation mechanism selected for a run.
type Strategy int

const (
	// DirectRoot runs the payload directly: the session's effective
	// user is already root.
	DirectRoot Strategy = iota

	// PasswordlessSudo elevates through a non-interactive sudo.
	PasswordlessSudo

	// InteractiveSu switches user via su, feeding the configured root
	// password to the prompt.
	InteractiveSu
)

func (s Strategy) String() string {
	switch s {
	case DirectRoot:
		return "direct-root"
	case PasswordlessSudo:
		return "passwordless-sudo"
	case InteractiveSu:
		return "interactive-su"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// sshDisconnect is the OpenSSH client's exit status for a transport
// failure, as opposed to a remote command's own status.
const sshDisconnect = 255

// ExecutionError reports a non-zero payload exit or a session
// disconnection.
type ExecutionError struct {
	Strategy Strategy
	ExitCode int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("remote execution (%s) failed: %v", e.Strategy, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// passwordPrompt matches su's password prompt on the session output.
var passwordPrompt = regexp.MustCompile(`[Pp]assword`)

// Runner executes the transferred payload on the remote host.
type Runner struct {
	Transport *transport.Transport
	Out       *output.Output

	// RemoteOut receives the remote session's combined output.
	RemoteOut io.Writer
}

// New returns a Runner streaming remote output to stdout.
func New(tr *transport.Transport, out *output.Output) *Runner {
	return &Runner{
		Transport: tr,
		Out:       out,
		RemoteOut: os.Stdout,
	}
}

// Run opens one remote session against remoteDir and executes the
// payload via exactly one escalation strategy. It returns the strategy
// that ran, for the recap and for transcript assertions.
func (r *Runner) Run(ctx context.Context, remoteDir, rootPassword string) (Strategy, error) {
	// Only a directory this orchestrator generated may be interpolated
	// into the remote script.
	if !transfer.RemoteDirPattern.MatchString(remoteDir) {
		return 0, fmt.Errorf("refusing remote dir %q: not an orchestrator-generated path", remoteDir)
	}

	strategy, err := r.selectStrategy(ctx, rootPassword)
	if err != nil {
		return 0, err
	}
	r.Out.Info("escalation strategy: %s", strategy)

	script := buildScript(remoteDir, strategy)
	r.Out.Debug("remote script:\n%s", script)

	// Root needs no prompt, so no pseudo-terminal; the other two
	// strategies may prompt and get one.
	tty := strategy != DirectRoot
	cmd := r.Transport.Shell(ctx, tty, script)

	if strategy == InteractiveSu {
		err = r.runWithPassword(cmd, rootPassword)
	} else {
		cmd.Stdout = r.RemoteOut
		cmd.Stderr = r.RemoteOut
		err = cmd.Run()
	}

	if err != nil {
		return strategy, asExecutionError(strategy, err)
	}
	return strategy, nil
}

// selectStrategy evaluates the strategy predicates in their fixed order
// and returns the first match.
func (r *Runner) selectStrategy(ctx context.Context, rootPassword string) (Strategy, error) {
	code, stdout, err := r.probe(ctx, "id", "-u")
	if err != nil {
		return 0, &ExecutionError{Strategy: DirectRoot, ExitCode: -1, Err: fmt.Errorf("uid probe failed: %w", err)}
	}
	if code == sshDisconnect {
		return 0, &ExecutionError{Strategy: DirectRoot, ExitCode: code, Err: errors.New("could not open remote session")}
	}
	if code == 0 && strings.TrimSpace(stdout) == "0" {
		return DirectRoot, nil
	}

	code, _, err = r.probe(ctx, "sudo", "-n", "true")
	if err != nil {
		return 0, &ExecutionError{Strategy: PasswordlessSudo, ExitCode: -1, Err: fmt.Errorf("sudo probe failed: %w", err)}
	}
	if code == sshDisconnect {
		return 0, &ExecutionError{Strategy: PasswordlessSudo, ExitCode: code, Err: errors.New("session disconnected during sudo probe")}
	}
	if code == 0 {
		return PasswordlessSudo, nil
	}

	if rootPassword == "" {
		return 0, &ExecutionError{
			Strategy: InteractiveSu,
			ExitCode: -1,
			Err:      errors.New("no escalation path: not root, passwordless sudo unavailable, and no rootPassword configured"),
		}
	}
	return InteractiveSu, nil
}

// probe runs a short remote command and returns its exit status. Only a
// failure to spawn the client is an error; a non-zero remote status is a
// probe answer.
func (r *Runner) probe(ctx context.Context, argv ...string) (int, string, error) {
	cmd := r.Transport.Shell(ctx, false, argv...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var ee *exec.ExitError
		if !errors.As(err, &ee) {
			return -1, "", err
		}
		r.Out.Debug("probe %v exited %d: %s", argv, ee.ExitCode(), strings.TrimSpace(stderr.String()))
		return ee.ExitCode(), stdout.String(), nil
	}

	return 0, stdout.String(), nil
}

// buildScript renders the remote session script. remoteDir is validated
// by the caller; everything else is constant text, so no user-controlled
// value reaches the remote shell.
func buildScript(remoteDir string, strategy Strategy) string {
	lines := []string{
		"set -eu",
		// The guard fires on every session exit, privileged action or
		// not, so a crash mid-setup leaves no residue.
		fmt.Sprintf("trap 'rm -rf %s' EXIT", remoteDir),
		"cd " + remoteDir,
		"set -a",
		". ./" + staging.EnvFileName,
		"set +a",
		"chmod +x ./" + staging.PayloadName,
	}

	switch strategy {
	case DirectRoot:
		lines = append(lines, "./"+staging.PayloadName)
	case PasswordlessSudo:
		lines = append(lines, "sudo -n -E ./"+staging.PayloadName)
	case InteractiveSu:
		// su starts a fresh environment; re-source the env file and
		// invoke the payload by absolute path.
		inner := fmt.Sprintf("cd %[1]s && set -a && . %[1]s/%[2]s && set +a && exec %[1]s/%[3]s",
			remoteDir, staging.EnvFileName, staging.PayloadName)
		lines = append(lines, fmt.Sprintf("su root -c \"%s\"", inner))
	}

	return strings.Join(lines, "\n")
}

// runWithPassword starts cmd with a stdin pipe and writes the root
// password once a password prompt appears on the session output, the
// rest of which is forwarded untouched.
func (r *Runner) runWithPassword(cmd *exec.Cmd, password string) error {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = r.RemoteOut

	if err := cmd.Start(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer stdin.Close()

		// The prompt can straddle a read boundary, so the match runs
		// against a rolling tail of the output rather than each chunk
		// in isolation.
		const tailMax = 256
		sent := false
		tail := make([]byte, 0, tailMax)
		buf := make([]byte, 4096)
		for {
			n, readErr := stdout.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				r.RemoteOut.Write(chunk)
				if !sent {
					tail = append(tail, chunk...)
					if len(tail) > tailMax {
						tail = tail[len(tail)-tailMax:]
					}
					if passwordPrompt.Match(tail) {
						io.WriteString(stdin, password+"\n")
						sent = true
					}
				}
			}
			if readErr != nil {
				return
			}
		}
	}()

	// Drain the pipe fully before reaping; Wait closes it.
	<-done
	return cmd.Wait()
}

// asExecutionError maps a client error to the run's failure, keeping a
// remote payload status distinct from a transport disconnection.
func asExecutionError(strategy Strategy, err error) error {
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return &ExecutionError{Strategy: strategy, ExitCode: -1, Err: err}
	}

	code := ee.ExitCode()
	if code == sshDisconnect {
		return &ExecutionError{Strategy: strategy, ExitCode: code, Err: errors.New("session disconnected")}
	}
	return &ExecutionError{Strategy: strategy, ExitCode: code, Err: fmt.Errorf("payload exited with status %d", code)}
}
