package gitlab

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Event is a supported GitLab webhook event kind.
type Event string

const (
	EventPush         Event = "Push Hook"
	EventTagPush      Event = "Tag Push Hook"
	EventMergeRequest Event = "Merge Request Hook"

	// System Hook events carry the concrete kind in the body.
	eventSystemHook = "System Hook"
)

// Author of a commit.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Commit metadata as delivered by the webhook.
type Commit struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	URL       string    `json:"url"`
	Author    Author    `json:"author"`
}

// Project metadata as delivered by the webhook.
type Project struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	WebURL            string `json:"web_url"`
	GitSSHURL         string `json:"git_ssh_url"`
	GitHTTPURL        string `json:"git_http_url"`
	Namespace         string `json:"namespace"`
	PathWithNamespace string `json:"path_with_namespace"`
}

// Repository metadata as delivered by the webhook.
type Repository struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Homepage string `json:"homepage"`
}

// ParseEventHeader resolves the event kind from the event header and, for
// System Hook deliveries, the request body. The second return value is
// false for event kinds we do not support; such deliveries are accepted
// and ignored.
func ParseEventHeader(header string, body []byte) (Event, bool) {
	if header == eventSystemHook {
		// GitLab uses different keys per kind: push and tag push carry
		// event_name, merge request carries event_type.
		var probe struct {
			EventName string `json:"event_name"`
			EventType string `json:"event_type"`
		}
		if err := json.Unmarshal(body, &probe); err != nil {
			return "", false
		}
		name := probe.EventName
		if name == "" {
			name = probe.EventType
		}
		switch name {
		case "push":
			return EventPush, true
		case "tag_push":
			return EventTagPush, true
		case "merge_request":
			return EventMergeRequest, true
		default:
			return "", false
		}
	}

	switch Event(header) {
	case EventPush, EventTagPush, EventMergeRequest:
		return Event(header), true
	default:
		return "", false
	}
}

// EventData is the normalized view over any supported webhook payload.
type EventData struct {
	Kind         Event
	Project      Project
	Repository   Repository
	Commit       Commit
	TargetBranch string
	// Path identifies the event for vendor engagements: the merge request
	// URL for MR events, the commit URL otherwise.
	Path string

	Raw json.RawMessage
}

// Host returns the host of the repository homepage URL.
func (d *EventData) Host() (string, error) {
	u, err := url.Parse(d.Repository.Homepage)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("parse repository homepage %q: %w", d.Repository.Homepage, err)
	}
	return u.Hostname(), nil
}

type pushPayload struct {
	Project    Project    `json:"project"`
	Repository Repository `json:"repository"`
	After      string     `json:"after"`
	Ref        string     `json:"ref"`
	Commits    []Commit   `json:"commits"`
}

type tagPushPayload struct {
	Project     Project    `json:"project"`
	Repository  Repository `json:"repository"`
	CheckoutSHA string     `json:"checkout_sha"`
	Ref         string     `json:"ref"`
	Commits     []Commit   `json:"commits"`
}

type mergeRequestPayload struct {
	Project          Project    `json:"project"`
	Repository       Repository `json:"repository"`
	ObjectAttributes struct {
		ID           int64  `json:"id"`
		URL          string `json:"url"`
		State        string `json:"state"`
		TargetBranch string `json:"target_branch"`
		SourceBranch string `json:"source_branch"`
		Action       string `json:"action"`
		LastCommit   Commit `json:"last_commit"`
	} `json:"object_attributes"`
}

// ParseEvent validates and normalizes a webhook payload for the given
// event kind. Push and tag push payloads whose selected commit is missing
// or whose ref is not of the expected kind are rejected, as are merge
// request payloads without a last commit; a merge request's target branch
// is taken as given, even when empty.
func ParseEvent(kind Event, body []byte) (*EventData, error) {
	switch kind {
	case EventPush:
		var p pushPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("parse push payload: %w", err)
		}
		commit, err := commitByID(p.Commits, p.After)
		if err != nil {
			return nil, err
		}
		branch, err := refLeaf(p.Ref, "heads")
		if err != nil {
			return nil, err
		}
		return &EventData{
			Kind:         kind,
			Project:      p.Project,
			Repository:   p.Repository,
			Commit:       commit,
			TargetBranch: branch,
			Path:         commit.URL,
			Raw:          body,
		}, nil

	case EventTagPush:
		var p tagPushPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("parse tag push payload: %w", err)
		}
		commit, err := commitByID(p.Commits, p.CheckoutSHA)
		if err != nil {
			return nil, err
		}
		tag, err := refLeaf(p.Ref, "tags")
		if err != nil {
			return nil, err
		}
		return &EventData{
			Kind:         kind,
			Project:      p.Project,
			Repository:   p.Repository,
			Commit:       commit,
			TargetBranch: tag,
			Path:         commit.URL,
			Raw:          body,
		}, nil

	case EventMergeRequest:
		var p mergeRequestPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("parse merge request payload: %w", err)
		}
		if p.ObjectAttributes.LastCommit.ID == "" {
			return nil, fmt.Errorf("merge request payload has no last commit")
		}
		return &EventData{
			Kind:         kind,
			Project:      p.Project,
			Repository:   p.Repository,
			Commit:       p.ObjectAttributes.LastCommit,
			TargetBranch: p.ObjectAttributes.TargetBranch,
			Path:         p.ObjectAttributes.URL,
			Raw:          body,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported event kind %q", kind)
	}
}

func commitByID(commits []Commit, id string) (Commit, error) {
	for _, commit := range commits {
		if commit.ID == id {
			return commit, nil
		}
	}
	return Commit{}, fmt.Errorf("commit %q not present in payload", id)
}

func refLeaf(ref, want string) (string, error) {
	parts := splitRef(ref)
	if len(parts) < 3 || parts[1] != want {
		return "", fmt.Errorf("unexpected ref %q", ref)
	}
	return parts[len(parts)-1], nil
}

func splitRef(ref string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(ref); i++ {
		if i == len(ref) || ref[i] == '/' {
			parts = append(parts, ref[start:i])
			start = i + 1
		}
	}
	return parts
}
