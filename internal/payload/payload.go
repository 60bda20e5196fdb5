// Package payload holds the scaffolding written by "remora init": a
// sample environment file and a default setup payload that hardens a
// Debian host and installs the two-layer proxy.
package payload

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed setup.sh
var defaultScript []byte

//go:embed deploy.env.example
var defaultEnv []byte

// Scaffold file names, matching what "remora" looks for by default.
const (
	EnvFileName = "deploy.env"
	ScriptName  = "setup.sh"
)

// WriteScaffold writes the sample environment file and the default
// setup payload into dir. Existing files are never overwritten.
func WriteScaffold(dir string) ([]string, error) {
	var written []string

	files := []struct {
		name    string
		content []byte
		mode    os.FileMode
	}{
		{EnvFileName, defaultEnv, 0600},
		{ScriptName, defaultScript, 0755},
	}

	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if _, err := os.Stat(path); err == nil {
			return written, fmt.Errorf("%s already exists, refusing to overwrite", path)
		}
		if err := os.WriteFile(path, f.content, f.mode); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
	}

	return written, nil
}
