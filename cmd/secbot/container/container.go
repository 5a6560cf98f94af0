package container

import (
	"github.com/secbot-io/secbot/cmd/secbot/handlers"
	"github.com/secbot-io/secbot/cmd/secbot/service"
	"github.com/secbot-io/secbot/common/bootstrap"
	"github.com/secbot-io/secbot/common/pipeline"
	"github.com/secbot-io/secbot/common/registry"
	"github.com/secbot-io/secbot/common/verdict"

	// Handler packages register themselves at init.
	_ "github.com/secbot-io/secbot/common/handlers/defectdojo"
	_ "github.com/secbot-io/secbot/common/handlers/gitleaks"
	_ "github.com/secbot-io/secbot/common/handlers/slack"
)

// Container wires all API services once at process start
type Container struct {
	Runtime *bootstrap.Runtime

	GitlabHandler   *handlers.GitlabHandler
	SecurityHandler *handlers.SecurityHandler
}

// NewContainer builds the service container
func NewContainer(rt *bootstrap.Runtime) (*Container, error) {
	input, err := registry.BuildInput("gitlab", rt.HandlerDeps())
	if err != nil {
		return nil, err
	}

	engine := pipeline.NewEngine(rt.Broker, rt.Logger, rt.Metrics)
	resolver := verdict.NewResolver(rt.Checks, rt.Scans, rt.Workflow, input, "gitlab", rt.Logger)
	gitlabService := service.NewGitlabService(rt, engine, resolver)

	return &Container{
		Runtime:         rt,
		GitlabHandler:   handlers.NewGitlabHandler(gitlabService, rt.Logger, rt.Metrics),
		SecurityHandler: handlers.NewSecurityHandler(gitlabService),
	}, nil
}
