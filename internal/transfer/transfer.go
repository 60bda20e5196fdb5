// Package transfer ships the staging bundle to a fresh remote staging
// directory.
package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/remoradev/remora/internal/staging"
	"github.com/remoradev/remora/internal/transport"
)

const remoteDirPrefix = "/tmp/tmp.setup."

// RemoteDirPattern matches every directory name this package can
// generate. The executor refuses to touch anything else.
var RemoteDirPattern = regexp.MustCompile(`^/tmp/tmp\.setup\.[0-9a-f]{12}$`)

// TransferError reports a failed remote directory creation or copy.
type TransferError struct {
	Op     string // "mkdir" or "copy"
	Dir    string
	Stderr string
	Err    error
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("transfer %s of %s failed: %v", e.Op, e.Dir, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// newRemoteDir generates a collision-resistant remote directory name.
// The suffix comes from a cryptographically random source so concurrent
// or prior runs on the same host can neither collide with nor guess it.
func newRemoteDir() (string, error) {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to generate remote directory name: %w", err)
	}
	return remoteDirPrefix + hex.EncodeToString(buf[:]), nil
}

// Push creates the remote staging directory and copies the bundle's
// artifacts into it. A failed mkdir aborts before any copy is attempted.
// A failed copy may leave the directory in an indeterminate state; that
// is acceptable because the executor registers its own cleanup guard
// scoped to the exact directory before taking any further action.
func Push(ctx context.Context, tr *transport.Transport, bundle *staging.Bundle) (string, error) {
	dir, err := newRemoteDir()
	if err != nil {
		return "", err
	}

	var stderr bytes.Buffer
	mkdir := tr.Shell(ctx, false, "mkdir", "-m", "700", dir)
	mkdir.Stderr = &stderr
	if err := mkdir.Run(); err != nil {
		return "", &TransferError{Op: "mkdir", Dir: dir, Stderr: stderr.String(), Err: err}
	}

	stderr.Reset()
	cp := tr.Copy(ctx, bundle.Files(), dir)
	cp.Stderr = &stderr
	if err := cp.Run(); err != nil {
		return "", &TransferError{Op: "copy", Dir: dir, Stderr: stderr.String(), Err: err}
	}

	return dir, nil
}
