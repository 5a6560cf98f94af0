package slack

import (
	"context"
	"encoding/json"
	"time"

	"github.com/secbot-io/secbot/common/clients"
	"github.com/secbot-io/secbot/common/models"
	"github.com/secbot-io/secbot/common/registry"
)

// HandlerName is the registry key of the Slack notifier.
const HandlerName = "slack"

func init() {
	registry.Register("gitlab", registry.RoleNotification, HandlerName, func(deps registry.Deps) any {
		return &Handler{
			deps:  deps,
			slack: clients.NewSlackClient(30 * time.Second),
		}
	})
}

// Config is the handler's typed config schema
type Config struct {
	RenderLimit int      `json:"render_limit"`
	Channels    []string `json:"channels"`
}

// Credentials is the handler's typed env schema
type Credentials struct {
	Token string `json:"token"`
}

// Handler delivers output summaries to Slack channels through the guarded
// per-(scan, channel) delivery: once a send is committed as sent it is not
// repeated, but a crash between send and commit can resend on retry.
type Handler struct {
	deps  registry.Deps
	slack *clients.SlackClient
}

// Run renders the message blocks once and performs the guarded delivery
// per configured channel. An output without findings produces no message.
func (h *Handler) Run(ctx context.Context, inv registry.Invocation, output *models.OutputResult) error {
	var cfg Config
	if err := registry.DecodeConfig(inv.Config, &cfg); err != nil {
		return err
	}
	var creds Credentials
	if err := registry.DecodeEnv(inv.Env, &creds); err != nil {
		return err
	}

	blocks := GenerateMessageBlocks(output, cfg.RenderLimit)
	if blocks == nil {
		return nil
	}

	payload, err := json.Marshal(blocks)
	if err != nil {
		return err
	}

	for _, channel := range cfg.Channels {
		channel := channel
		err := h.deps.Notifications.DeliverOnce(
			ctx,
			output.ScanResult.ScanID,
			channel,
			payload,
			func(ctx context.Context, stored json.RawMessage) error {
				if err := h.slack.PostMessage(ctx, creds.Token, channel, stored); err != nil {
					return err
				}
				if h.deps.Metrics != nil {
					h.deps.Metrics.ObserveNotification(channel)
				}
				return nil
			},
		)
		if err != nil {
			return err
		}
	}
	return nil
}
