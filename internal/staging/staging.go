// Package staging owns the local staging area for one deployment run.
package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Canonical artifact names inside the staging area. The remote session
// refers to these fixed names, so nothing user-controlled reaches the
// remote command line.
const (
	EnvFileName = "deploy.env"
	PayloadName = "setup.sh"
)

// Bundle is a scoped temporary directory holding exactly two artifacts:
// the environment file and the setup payload. It is created once,
// consumed by one transfer, and destroyed once.
type Bundle struct {
	dir string

	removeOnce sync.Once
	removeErr  error
}

// New creates the staging area and copies the environment file and the
// setup payload into it. Any failure removes what was created and aborts
// before any network action can occur.
func New(envFile, payloadFile string) (*Bundle, error) {
	dir, err := os.MkdirTemp("", "remora-stage-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	b := &Bundle{dir: dir}

	if err := copyFile(envFile, b.EnvPath(), 0600); err != nil {
		b.Remove()
		return nil, fmt.Errorf("failed to stage environment file: %w", err)
	}
	if err := copyFile(payloadFile, b.PayloadPath(), 0700); err != nil {
		b.Remove()
		return nil, fmt.Errorf("failed to stage setup payload: %w", err)
	}

	return b, nil
}

// NewFromEnv is like New but writes env as the environment artifact
// instead of copying a file. Used when the operator's configuration is
// not already in sourceable KEY=VALUE form.
func NewFromEnv(env []byte, payloadFile string) (*Bundle, error) {
	dir, err := os.MkdirTemp("", "remora-stage-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	b := &Bundle{dir: dir}

	if err := os.WriteFile(b.EnvPath(), env, 0600); err != nil {
		b.Remove()
		return nil, fmt.Errorf("failed to stage environment file: %w", err)
	}
	if err := copyFile(payloadFile, b.PayloadPath(), 0700); err != nil {
		b.Remove()
		return nil, fmt.Errorf("failed to stage setup payload: %w", err)
	}

	return b, nil
}

// Dir returns the staging directory path.
func (b *Bundle) Dir() string {
	return b.dir
}

// EnvPath returns the staged environment file path.
func (b *Bundle) EnvPath() string {
	return filepath.Join(b.dir, EnvFileName)
}

// PayloadPath returns the staged payload path.
func (b *Bundle) PayloadPath() string {
	return filepath.Join(b.dir, PayloadName)
}

// Files returns the staged artifact paths in transfer order.
func (b *Bundle) Files() []string {
	return []string{b.EnvPath(), b.PayloadPath()}
}

// Remove deletes the staging area. It is idempotent and safe to call
// from both a defer and a signal handler.
func (b *Bundle) Remove() error {
	b.removeOnce.Do(func() {
		b.removeErr = os.RemoveAll(b.dir)
	})
	return b.removeErr
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
