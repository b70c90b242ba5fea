package services

import (
	"context"

	"github.com/conneroisu/spindle/internal/logging"
	"github.com/conneroisu/spindle/internal/scaffolding"
)

// InitService creates new sites.
type InitService struct {
	generator *scaffolding.Generator
	logger    logging.Logger
}

// NewInitService creates a new initialization service
func NewInitService(logger logging.Logger) *InitService {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &InitService{
		generator: scaffolding.NewGenerator(),
		logger:    logger.WithComponent("init"),
	}
}

// InitOptions contains options for project initialization
type InitOptions struct {
	ProjectDir string
	Name       string
	Template   string
	Force      bool
}

// InitProject writes a starter site and returns the files it created.
func (s *InitService) InitProject(opts InitOptions) ([]string, error) {
	written, err := s.generator.Generate(scaffolding.Options{
		Dir:      opts.ProjectDir,
		Name:     opts.Name,
		Template: opts.Template,
		Force:    opts.Force,
	})
	if err != nil {
		return written, err
	}
	for _, f := range written {
		s.logger.Debug(context.Background(), "Created", "file", f)
	}
	return written, nil
}

// Templates lists the available starter templates.
func (s *InitService) Templates() []scaffolding.ProjectTemplate {
	return s.generator.ListTemplates()
}
