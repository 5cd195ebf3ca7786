package event

import (
	"github.com/go-playground/webhooks/v6/gitlab"
)

// Kind is the closed set of GitLab hooks the relay understands.
type Kind int

const (
	KindPush Kind = iota + 1
	KindTagPush
	KindIssue
	KindNote
	KindMergeRequest
)

var kindHeaders = map[gitlab.Event]Kind{
	gitlab.PushEvents:         KindPush,
	gitlab.TagEvents:          KindTagPush,
	gitlab.IssuesEvents:       KindIssue,
	gitlab.CommentEvents:      KindNote,
	gitlab.MergeRequestEvents: KindMergeRequest,
}

var supportedEvents = []gitlab.Event{
	gitlab.PushEvents,
	gitlab.TagEvents,
	gitlab.IssuesEvents,
	gitlab.CommentEvents,
	gitlab.MergeRequestEvents,
}

// KindFromHeader maps an X-Gitlab-Event value to a Kind.
func KindFromHeader(value string) (Kind, bool) {
	kind, ok := kindHeaders[gitlab.Event(value)]
	return kind, ok
}

func (k Kind) String() string {
	switch k {
	case KindPush:
		return "push"
	case KindTagPush:
		return "tag_push"
	case KindIssue:
		return "issue"
	case KindNote:
		return "note"
	case KindMergeRequest:
		return "merge_request"
	default:
		return "unknown"
	}
}

// Header returns the X-Gitlab-Event value for k.
func (k Kind) Header() string {
	for header, kind := range kindHeaders {
		if kind == k {
			return string(header)
		}
	}
	return ""
}

// MatchesExactly reports whether subscriptions match this kind by URL
// equality. Issue and merge request hooks only carry a resource URL, so they
// are matched by substring instead.
func (k Kind) MatchesExactly() bool {
	switch k {
	case KindPush, KindTagPush, KindNote:
		return true
	default:
		return false
	}
}

// Event is a validated GitLab webhook.
type Event struct {
	Kind Kind
	// ProjectURL identifies the originating project: repository.homepage for
	// push, tag push and note hooks, object_attributes.url otherwise.
	ProjectURL string
	// ProjectID is project_id or project.id, nil when the payload has neither.
	ProjectID interface{}
	// Token is the X-Gitlab-Token header value.
	Token string

	UserName     string
	Ref          string
	TotalCommits int64
	Commits      []Commit

	Object Object
	User   User

	// Payload is the decoded body; numbers are json.Number.
	Payload map[string]interface{}
}

// Commit is one entry of a push hook's commits list.
type Commit struct {
	ID         string
	Message    string
	AuthorName string
	// Fields is the commit object as sent by GitLab.
	Fields map[string]interface{}
}

// Object holds object_attributes of issue, merge request and note hooks.
type Object struct {
	ID           int64
	IID          int64
	Title        string
	URL          string
	State        string
	Action       string
	Note         string
	NoteableType string
	SourceBranch string
	TargetBranch string
}

func objectFrom(attrs gitlab.ObjectAttributes) Object {
	return Object{
		ID:           attrs.ID,
		IID:          attrs.IID,
		Title:        attrs.Title,
		URL:          attrs.URL,
		State:        attrs.State,
		Action:       attrs.Action,
		Note:         attrs.Note,
		NoteableType: attrs.NotebookType,
		SourceBranch: attrs.SourceBranch,
		TargetBranch: attrs.TargetBranch,
	}
}

// User is the acting user of issue, merge request and note hooks.
type User struct {
	Name     string
	Username string
}

func userFrom(user gitlab.User) User {
	return User{Name: user.Name, Username: user.UserName}
}
