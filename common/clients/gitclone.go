package clients

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"

	"github.com/secbot-io/secbot/common/logger"
)

// GitCloner clones repositories for the duration of one scan invocation
type GitCloner struct {
	log *logger.Logger
}

// NewGitCloner creates a git cloner
func NewGitCloner(log *logger.Logger) *GitCloner {
	return &GitCloner{log: log}
}

// Clone clones the repository into a temporary directory and checks out
// the given reference. The returned cleanup removes the directory and must
// run on every exit path of the caller.
func (g *GitCloner) Clone(ctx context.Context, repositoryURL, reference, authToken string) (string, func(), error) {
	cloneURL, err := authenticatedURL(repositoryURL, authToken)
	if err != nil {
		return "", nil, err
	}

	dir, err := os.MkdirTemp("", "secbot-clone-")
	if err != nil {
		return "", nil, fmt.Errorf("create clone dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			g.log.Warn("failed to remove clone dir", "dir", dir, "error", err)
		}
	}

	if err := g.run(ctx, "", "git", "clone", "--quiet", cloneURL, dir); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("clone repository: %w", err)
	}
	if err := g.run(ctx, dir, "git", "checkout", "--quiet", reference); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("checkout %s: %w", reference, err)
	}

	return dir, cleanup, nil
}

func (g *GitCloner) run(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, string(output))
	}
	return nil
}

// authenticatedURL injects oauth2 credentials into an HTTP clone URL
func authenticatedURL(repositoryURL, authToken string) (string, error) {
	u, err := url.Parse(repositoryURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("parse repository url %q: %w", repositoryURL, err)
	}
	u.User = url.UserPassword("oauth2", authToken)
	return u.String(), nil
}
