// Package deployer drives the deployment pipeline: load config, select
// transport, stage locally, transfer, execute remotely. The run is
// strictly linear and single-attempt; any stage failure aborts the rest.
package deployer

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/remoradev/remora/internal/config"
	"github.com/remoradev/remora/internal/output"
	"github.com/remoradev/remora/internal/session"
	"github.com/remoradev/remora/internal/staging"
	"github.com/remoradev/remora/internal/transfer"
	"github.com/remoradev/remora/internal/transport"
)

// Deployer runs deployments.
type Deployer struct {
	// Output handles formatted diagnostics.
	Output *output.Output

	// RemoteOut receives the remote session's output.
	RemoteOut io.Writer
}

// New creates a new deployer writing diagnostics to stderr and remote
// output to stdout.
func New() *Deployer {
	return &Deployer{
		Output:    output.New(os.Stderr),
		RemoteOut: os.Stdout,
	}
}

// RunResult holds the result of a deployment run.
type RunResult struct {
	// Success is true if every stage completed.
	Success bool

	// Strategy is the escalation strategy that executed the payload.
	Strategy session.Strategy

	// Stats holds run statistics.
	Stats *Stats
}

// Stats holds run statistics.
type Stats struct {
	Completed int
	Failed    int
	Strategy  string
	StartTime time.Time
	EndTime   time.Time
}

// Duration returns the total run time.
func (s *Stats) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// GetCompleted returns the completed stage count (implements output.Stats).
func (s *Stats) GetCompleted() int { return s.Completed }

// GetFailed returns the failed stage count (implements output.Stats).
func (s *Stats) GetFailed() int { return s.Failed }

// GetStrategy returns the escalation strategy name (implements output.Stats).
func (s *Stats) GetStrategy() string { return s.Strategy }

// GetDuration returns the duration (implements output.Stats).
func (s *Stats) GetDuration() time.Duration { return s.Duration() }

// Run executes one deployment of the payload described by envPath and
// payloadPath. Local staging is removed on every return path; remote
// staging is removed by the session's own guard.
func (d *Deployer) Run(ctx context.Context, envPath, payloadPath string) (*RunResult, error) {
	stats := &Stats{StartTime: time.Now(), Strategy: "none"}
	result := &RunResult{Stats: stats}

	d.Output.RunStart(envPath)

	defer func() {
		stats.EndTime = time.Now()
		d.Output.Recap(stats)
	}()

	stage := func(name string, fn func() error) error {
		t0 := time.Now()
		d.Output.StageStart(name)
		if err := fn(); err != nil {
			stats.Failed++
			d.Output.Error("%s: %v", name, err)
			return err
		}
		stats.Completed++
		d.Output.StageDone(name, time.Since(t0))
		return nil
	}

	var cfg *config.Config
	if err := stage("load config", func() (err error) {
		cfg, err = config.Load(envPath)
		return err
	}); err != nil {
		return result, err
	}
	d.Output.Debug("target: %s", cfg)

	var tr *transport.Transport
	if err := stage("select transport", func() (err error) {
		tr, err = transport.Select(cfg)
		return err
	}); err != nil {
		return result, err
	}

	var bundle *staging.Bundle
	if err := stage("stage locally", func() (err error) {
		if config.IsYAML(envPath) {
			// The remote session sources the environment artifact with
			// sh, so the YAML form is rendered to KEY=VALUE lines.
			bundle, err = staging.NewFromEnv([]byte(cfg.EnvText()), payloadPath)
		} else {
			bundle, err = staging.New(envPath, payloadPath)
		}
		return err
	}); err != nil {
		return result, err
	}
	defer bundle.Remove()

	var remoteDir string
	if err := stage("transfer", func() (err error) {
		remoteDir, err = transfer.Push(ctx, tr, bundle)
		return err
	}); err != nil {
		return result, err
	}
	d.Output.Debug("remote staging dir: %s", remoteDir)

	runner := session.New(tr, d.Output)
	runner.RemoteOut = d.RemoteOut

	if err := stage("execute payload", func() (err error) {
		result.Strategy, err = runner.Run(ctx, remoteDir, cfg.RootPassword)
		if err == nil {
			stats.Strategy = result.Strategy.String()
		}
		return err
	}); err != nil {
		return result, err
	}

	result.Success = true
	return result, nil
}
