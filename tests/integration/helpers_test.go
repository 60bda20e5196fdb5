package integration

import (
	"bytes"
	"context"
	"testing"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

// execInContainer runs a command in the container and returns stdout
func execInContainer(ctx context.Context, container testcontainers.Container, cmd []string) (int, string, error) {
	exitCode, reader, err := container.Exec(ctx, cmd)
	if err != nil {
		return exitCode, "", err
	}

	// Demux the Docker stream (stdout/stderr are multiplexed)
	var stdout, stderr bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdout, &stderr, reader)

	return exitCode, stdout.String(), nil
}

// assertFileExists checks that a file exists in the container
func assertFileExists(t *testing.T, ctx context.Context, container testcontainers.Container, path string) {
	t.Helper()
	exitCode, _, err := execInContainer(ctx, container, []string{"test", "-e", path})
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode, "file %s should exist", path)
}

// assertFileContains checks that a file contains all expected substrings
func assertFileContains(t *testing.T, ctx context.Context, container testcontainers.Container, path string, expected []string) {
	t.Helper()
	exitCode, content, err := execInContainer(ctx, container, []string{"cat", path})
	require.NoError(t, err)
	require.Equal(t, 0, exitCode, "failed to read file %s", path)

	for _, substr := range expected {
		assert.Contains(t, content, substr, "file %s should contain %q", path, substr)
	}
}

// assertNoStagingDirs checks that no transient staging directory was
// left behind on the remote side after a run.
func assertNoStagingDirs(t *testing.T, ctx context.Context, container testcontainers.Container) {
	t.Helper()
	exitCode, out, err := execInContainer(ctx, container, []string{"sh", "-c", "ls -d /tmp/tmp.setup.* 2>/dev/null"})
	require.NoError(t, err)
	assert.NotEqual(t, 0, exitCode, "staging dirs left behind: %s", out)
}
