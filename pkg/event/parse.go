package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/go-playground/webhooks/v6/gitlab"
)

const (
	// EventHeader names the hook kind.
	EventHeader = "X-Gitlab-Event"
	// TokenHeader carries the secret token configured on the GitLab hook.
	TokenHeader = "X-Gitlab-Token"
)

var (
	ErrMissingEventHeader = errors.New("missing X-Gitlab-Event header")
	ErrUnsupportedEvent   = errors.New("unsupported X-Gitlab-Event type")
	ErrInvalidJSON        = errors.New("invalid json payload")
	ErrMissingField       = errors.New("missing required field")
	ErrInvalidToken       = errors.New("X-Gitlab-Token validation failed")
)

// MissingFieldError reports a required payload field that is absent, null or
// empty.
type MissingFieldError struct {
	Path string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %s", e.Path)
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// Parser verifies the X-Gitlab-Token header and decodes the five supported
// hooks into typed payloads.
type Parser struct {
	hook *gitlab.Webhook
}

// NewParser returns a Parser. An empty secret disables token verification.
func NewParser(secret string) (*Parser, error) {
	var options []gitlab.Option
	if secret != "" {
		options = append(options, gitlab.Options.Secret(secret))
	}
	hook, err := gitlab.New(options...)
	if err != nil {
		return nil, err
	}
	return &Parser{hook: hook}, nil
}

var defaultParser = &Parser{hook: new(gitlab.Webhook)}

// Parse validates a webhook request without token verification.
func Parse(header http.Header, body []byte) (*Event, error) {
	return defaultParser.Parse(header, body)
}

// Parse validates a webhook request and builds the matching Event.
func (p *Parser) Parse(header http.Header, body []byte) (*Event, error) {
	value := strings.TrimSpace(header.Get(EventHeader))
	typed, err := p.decodeTyped(header, value, body)
	if err != nil {
		return nil, err
	}
	kind, _ := KindFromHeader(value)

	payload, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	evt := &Event{
		Kind:      kind,
		Token:     header.Get(TokenHeader),
		ProjectID: projectID(payload),
		Payload:   payload,
	}

	projectPath := "repository.homepage"
	if !kind.MatchesExactly() {
		projectPath = "object_attributes.url"
	}
	if evt.ProjectURL, err = requireString(payload, projectPath); err != nil {
		return nil, err
	}

	switch pl := typed.(type) {
	case gitlab.PushEventPayload:
		evt.setPush(pl.UserName, pl.Ref, pl.TotalCommitsCount, pl.Commits)
	case gitlab.TagEventPayload:
		evt.setPush(pl.UserName, pl.Ref, pl.TotalCommitsCount, pl.Commits)
	case gitlab.IssueEventPayload:
		evt.Object, evt.User = objectFrom(pl.ObjectAttributes), userFrom(pl.User)
	case gitlab.CommentEventPayload:
		evt.Object, evt.User = objectFrom(pl.ObjectAttributes), userFrom(pl.User)
	case gitlab.MergeRequestEventPayload:
		evt.Object, evt.User = objectFrom(pl.ObjectAttributes), userFrom(pl.User)
	}
	return evt, nil
}

func (p *Parser) decodeTyped(header http.Header, value string, body []byte) (interface{}, error) {
	req, err := http.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set(EventHeader, value)

	typed, err := p.hook.Parse(req, supportedEvents...)
	switch {
	case err == nil:
		return typed, nil
	case errors.Is(err, gitlab.ErrGitLabTokenVerificationFailed):
		return nil, ErrInvalidToken
	case errors.Is(err, gitlab.ErrMissingGitLabEventHeader):
		return nil, ErrMissingEventHeader
	case errors.Is(err, gitlab.ErrEventNotFound):
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, value)
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
}

func (e *Event) setPush(userName, ref string, total int64, commits []gitlab.Commit) {
	e.UserName = userName
	e.Ref = ref
	e.TotalCommits = total

	raw, _ := e.Payload["commits"].([]interface{})
	e.Commits = make([]Commit, 0, len(commits))
	for i, commit := range commits {
		entry := Commit{
			ID:         commit.ID,
			Message:    commit.Message,
			AuthorName: commit.Author.Name,
		}
		if i < len(raw) {
			entry.Fields, _ = raw[i].(map[string]interface{})
		}
		if entry.Fields == nil {
			entry.Fields = map[string]interface{}{}
		}
		e.Commits = append(e.Commits, entry)
	}
}

func decodeObject(body []byte) (map[string]interface{}, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var payload map[string]interface{}
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: expected an object", ErrInvalidJSON)
	}
	if _, err := decoder.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after object", ErrInvalidJSON)
	}
	return payload, nil
}

func requireString(payload map[string]interface{}, path string) (string, error) {
	value, err := jsonpath.Get("$."+path, payload)
	if err != nil {
		return "", &MissingFieldError{Path: path}
	}
	text, ok := value.(string)
	if !ok || strings.TrimSpace(text) == "" {
		return "", &MissingFieldError{Path: path}
	}
	return text, nil
}

func projectID(payload map[string]interface{}) interface{} {
	if id, ok := payload["project_id"]; ok && id != nil {
		return id
	}
	if id, err := jsonpath.Get("$.project.id", payload); err == nil && id != nil {
		return id
	}
	return nil
}
