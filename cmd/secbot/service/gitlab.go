package service

import (
	"context"

	"github.com/secbot-io/secbot/common/bootstrap"
	"github.com/secbot-io/secbot/common/gitlab"
	"github.com/secbot-io/secbot/common/models"
	"github.com/secbot-io/secbot/common/pipeline"
	"github.com/secbot-io/secbot/common/verdict"
)

// GitlabService turns accepted webhook events into pipeline dispatches and
// answers status queries.
type GitlabService struct {
	rt       *bootstrap.Runtime
	engine   *pipeline.Engine
	resolver *verdict.Resolver
}

// NewGitlabService creates the gitlab input service
func NewGitlabService(rt *bootstrap.Runtime, engine *pipeline.Engine, resolver *verdict.Resolver) *GitlabService {
	return &GitlabService{
		rt:       rt,
		engine:   engine,
		resolver: resolver,
	}
}

// HandleEvent matches the event against the workflow config, upserts the
// security check and dispatches the job's pipeline. An event no job
// matches is accepted silently.
func (s *GitlabService) HandleEvent(ctx context.Context, data *gitlab.EventData) error {
	job, err := s.rt.Workflow.MatchingJob("gitlab", data.Raw)
	if err != nil {
		return err
	}
	if job == nil {
		s.rt.Logger.Info("no matching workflow job", "event", string(data.Kind))
		return nil
	}

	host, err := data.Host()
	if err != nil {
		return err
	}
	gitlabCfg, err := s.rt.Config.GitlabForHost(host)
	if err != nil {
		return err
	}

	externalID := gitlab.SecurityID(gitlabCfg.Prefix, data.Project.GitSSHURL, data.Commit.ID)

	check, err := s.rt.Checks.GetOrCreate(ctx, &models.Check{
		ExternalID:  externalID,
		EventType:   data.Kind,
		EventJSON:   data.Raw,
		CommitHash:  data.Commit.ID,
		Branch:      data.TargetBranch,
		ProjectName: data.Repository.Name,
		Path:        data.Repository.Homepage,
		Prefix:      gitlabCfg.Prefix,
	})
	if err != nil {
		return err
	}

	input := &models.InputData{
		CheckID: check.ID,
		Event:   data.Kind,
		Payload: data.Raw,
	}
	return s.engine.Dispatch(ctx, job, input)
}

// Status resolves the consolidated verdict of a security check
func (s *GitlabService) Status(ctx context.Context, externalID string) (models.SecurityCheckStatus, error) {
	return s.resolver.Resolve(ctx, externalID)
}
