// Package services implements the spindle commands on top of the rebuild,
// server and scaffolding packages.
package services

import (
	"context"
	"time"

	"github.com/conneroisu/spindle/internal/config"
	"github.com/conneroisu/spindle/internal/logging"
	"github.com/conneroisu/spindle/internal/monitoring"
	"github.com/conneroisu/spindle/internal/rebuild"
	"github.com/conneroisu/spindle/internal/registry"
	"github.com/conneroisu/spindle/internal/script"
	"github.com/conneroisu/spindle/internal/watcher"
)

// BuildService runs build scripts once.
type BuildService struct {
	config   *config.Config
	logger   logging.Logger
	metrics  *monitoring.Metrics
	executor rebuild.Executor
}

// NewBuildService creates a new build service
func NewBuildService(cfg *config.Config, logger logging.Logger, metrics *monitoring.Metrics) *BuildService {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &BuildService{
		config:   cfg,
		logger:   logger.WithComponent("build"),
		metrics:  metrics,
		executor: script.NewExecutor(logger),
	}
}

// BuildOptions contains options for the build process
type BuildOptions struct {
	Path   string
	Output string
}

// BuildResult contains the result of a build operation
type BuildResult struct {
	Duration time.Duration
	Targets  []registry.SiteRecord
	Requests []registry.CommandRequest
	Success  bool
	Errors   []error
}

// Build runs every script at opts.Path. A missing path is returned as an
// error; script failures are reported in the result so every script gets
// its chance to run.
func (s *BuildService) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	op := logging.StartOperation(s.logger, "build")

	output := opts.Output
	if output == "" {
		output = s.config.Build.Output
	}

	// A one-shot build never polls, so the manager is never started.
	orch := rebuild.New(watcher.NewManager(s.config.Watch.Interval, s.logger), s.executor, s.logger, rebuild.Options{
		Pattern:       s.config.Build.Pattern,
		DefaultOutput: output,
		Ignore:        s.config.Watch.Ignore,
		Metrics:       s.metrics,
	})

	res, err := orch.BuildPath(ctx, opts.Path)
	if err != nil {
		op.EndWithError(ctx, err, "path", opts.Path)
		return nil, err
	}

	result := &BuildResult{
		Duration: op.Elapsed(),
		Targets:  res.Targets,
		Requests: res.Requests,
		Errors:   res.Failures.GetAllErrors(),
	}
	result.Success = len(result.Errors) == 0

	op.End(ctx, "targets", len(result.Targets), "failures", len(result.Errors))
	return result, nil
}
