package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/secbot-io/secbot/common/secerr"
)

const slackAPIURL = "https://slack.com/api/chat.postMessage"

// SlackClient posts messages via a bot token
type SlackClient struct {
	client *http.Client
	apiURL string
}

// NewSlackClient creates a Slack web API client
func NewSlackClient(timeout time.Duration) *SlackClient {
	return &SlackClient{
		client: &http.Client{Timeout: timeout},
		apiURL: slackAPIURL,
	}
}

// PostMessage sends block-kit blocks to a channel
func (c *SlackClient) PostMessage(ctx context.Context, token, channel string, blocks json.RawMessage) error {
	if token == "" {
		return fmt.Errorf("slack token is missing")
	}
	if channel == "" {
		return fmt.Errorf("slack channel is missing")
	}
	if len(blocks) == 0 {
		return fmt.Errorf("slack payload can't be empty")
	}

	body, err := json.Marshal(map[string]any{
		"channel": channel,
		"blocks":  blocks,
	})
	if err != nil {
		return fmt.Errorf("encode slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return secerr.Wrap(secerr.KindRuntime, "slack request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return secerr.Wrap(secerr.KindRuntime, "read slack response", err)
	}

	var status struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return secerr.Wrap(secerr.KindRuntime, "decode slack response", err)
	}
	if !status.OK {
		return secerr.Newf(secerr.KindRuntime, "slack rejected message: %s", status.Error)
	}
	return nil
}
