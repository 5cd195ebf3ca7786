package render

import (
	"errors"
	"net/http"
	"testing"

	"gitlabrelay/pkg/event"
)

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer(8)
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	return r
}

func parse(t *testing.T, kind, body string) *event.Event {
	t.Helper()
	h := http.Header{}
	h.Set(event.EventHeader, kind)
	evt, err := event.Parse(h, []byte(body))
	if err != nil {
		t.Fatalf("parse %s: %v", kind, err)
	}
	return evt
}

const pushBody = `{
  "ref": "main",
  "user_name": "alice",
  "project_id": 15,
  "repository": {"homepage": "https://git.example.com/team/app"},
  "commits": [
    {"id": "b6568db1bc1dcd7f8b4d5a946b0b91f9dacd7327", "message": "first", "author": {"name": "Alice"}},
    {"id": "da1560886d4f094c3e6c9ef40349f7d38b5d27d7", "message": "second\nwith body", "author": {"name": "Bob"}}
  ],
  "total_commits_count": 2
}`

// TestRenderPushSummaryExact tests the summary line against a fixed template.
func TestRenderPushSummaryExact(t *testing.T) {
	r := newRenderer(t)
	evt := parse(t, "Push Hook", pushBody)
	tpl := Templates{TemplatePush: "[{project[name]}] {user_name} pushed {total_commits_count} commit(s) to {ref}:"}

	messages, err := r.Render("app", evt, tpl)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected only the summary without a commit template, got %v", messages)
	}
	if messages[0] != "[app] alice pushed 2 commit(s) to main:" {
		t.Fatalf("unexpected summary %q", messages[0])
	}
}

// TestRenderPushCommits tests one summary plus one message per commit in payload order.
func TestRenderPushCommits(t *testing.T) {
	r := newRenderer(t)
	evt := parse(t, "Push Hook", pushBody)
	tpl := Templates{
		TemplatePush:   "{project[name]} {project[id]} {total_commits_count}",
		TemplateCommit: "{project[name]} {short_id} {message} by {author[name]}",
	}

	messages, err := r.Render("app", evt, tpl)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := []string{
		"app 15 2",
		"app b6568db1bc first by Alice",
		"app da1560886d second with body by Bob",
	}
	if len(messages) != len(want) {
		t.Fatalf("expected %d messages, got %v", len(want), messages)
	}
	for i := range want {
		if messages[i] != want[i] {
			t.Fatalf("message %d: expected %q, got %q", i, want[i], messages[i])
		}
	}
}

// TestRenderBadCommitTemplateKeepsSiblings tests that one failing template does not drop the others.
func TestRenderBadCommitTemplateKeepsSiblings(t *testing.T) {
	r := newRenderer(t)
	evt := parse(t, "Push Hook", pushBody)
	tpl := DefaultTemplates().Merge(Templates{TemplateCommit: "{short_id} {nope}"})

	messages, err := r.Render("app", evt, tpl)
	if !errors.Is(err, ErrMissingPlaceholder) {
		t.Fatalf("expected missing placeholder error, got %v", err)
	}
	var missing *MissingPlaceholderError
	if !errors.As(err, &missing) || missing.Name != "nope" {
		t.Fatalf("expected placeholder name nope, got %v", err)
	}
	if len(messages) != 1 || messages[0] != "[app] alice pushed 2 commit(s) to main:" {
		t.Fatalf("expected the summary to survive, got %v", messages)
	}
}

// TestRenderIssueActions tests issue template selection by action.
func TestRenderIssueActions(t *testing.T) {
	r := newRenderer(t)
	cases := map[string]string{
		"open":   "[app] Issue #42 Crash created by Carol https://git.example.com/team/app/issues/42",
		"update": "[app] Issue #42 Crash changed by Carol https://git.example.com/team/app/issues/42",
		"close":  "[app] Issue #42 Crash changed by Carol https://git.example.com/team/app/issues/42",
		"delete": "[app] Issue #42 Crash deleted by Carol https://git.example.com/team/app/issues/42",
	}
	for action, want := range cases {
		body := `{"user":{"name":"Carol"},"object_attributes":{"id":301,"iid":42,"title":"Crash","action":"` + action + `","url":"https://git.example.com/team/app/issues/42"}}`
		messages, err := r.Render("app", parse(t, "Issue Hook", body), DefaultTemplates())
		if err != nil {
			t.Fatalf("%s: render: %v", action, err)
		}
		if len(messages) != 1 || messages[0] != want {
			t.Fatalf("%s: expected %q, got %v", action, want, messages)
		}
	}
}

// TestRenderOtherKinds tests the tag push, note and merge request defaults.
func TestRenderOtherKinds(t *testing.T) {
	r := newRenderer(t)
	cases := []struct {
		header string
		body   string
		want   string
	}{
		{
			"Tag Push Hook",
			`{"user_name":"alice","ref":"refs/tags/v1.0","repository":{"homepage":"https://git.example.com/team/app"}}`,
			"[app] alice created a new tag refs/tags/v1.0",
		},
		{
			"Note Hook",
			`{"user":{"name":"Dan"},"repository":{"homepage":"https://git.example.com/team/app"},"object_attributes":{"id":5,"note":"lgtm","noteable_type":"MergeRequest","url":"https://git.example.com/team/app/merge_requests/7#note_5"}}`,
			"[app] Dan commented on MergeRequest https://git.example.com/team/app/merge_requests/7#note_5",
		},
		{
			"Merge Request Hook",
			`{"user":{"name":"Eve"},"project":{"id":15,"name":"App"},"object_attributes":{"id":99,"iid":7,"title":"Fix build","action":"merge","url":"https://git.example.com/team/app/merge_requests/7"}}`,
			"[app] Merge request !7 Fix build merge by Eve https://git.example.com/team/app/merge_requests/7",
		},
	}
	for _, tc := range cases {
		messages, err := r.Render("app", parse(t, tc.header, tc.body), DefaultTemplates())
		if err != nil {
			t.Fatalf("%s: render: %v", tc.header, err)
		}
		if len(messages) != 1 || messages[0] != tc.want {
			t.Fatalf("%s: expected %q, got %v", tc.header, tc.want, messages)
		}
	}
}

// TestRenderDoesNotMutateEvent tests that the parsed payload is left untouched.
func TestRenderDoesNotMutateEvent(t *testing.T) {
	r := newRenderer(t)
	evt := parse(t, "Push Hook", pushBody)
	if _, err := r.Render("app", evt, DefaultTemplates()); err != nil {
		t.Fatalf("render: %v", err)
	}
	if _, ok := evt.Payload["project"]; ok {
		t.Fatalf("expected payload to stay free of the project object")
	}
	if _, ok := evt.Commits[0].Fields["short_id"]; ok {
		t.Fatalf("expected commit fields to stay free of short_id")
	}
}

// TestRenderDisabledTemplate tests that an empty format skips its message.
func TestRenderDisabledTemplate(t *testing.T) {
	r := newRenderer(t)
	evt := parse(t, "Push Hook", pushBody)
	messages, err := r.Render("app", evt, DefaultTemplates().Merge(Templates{TemplateCommit: ""}))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected commits to be disabled, got %v", messages)
	}
}

func TestTemplateSetFor(t *testing.T) {
	set := NewTemplateSet(Templates{TemplatePush: "global"}, map[string]Templates{
		"#Dev": {TemplatePush: "dev"},
	})
	if got := set.For("#dev")[TemplatePush]; got != "dev" {
		t.Fatalf("expected channel override, got %q", got)
	}
	if got := set.For("#dev")[TemplateCommit]; got != DefaultTemplates()[TemplateCommit] {
		t.Fatalf("expected default commit template for #dev, got %q", got)
	}
	if got := set.For("#ops")[TemplatePush]; got != "global" {
		t.Fatalf("expected global template, got %q", got)
	}
	var zero TemplateSet
	if got := zero.For("#ops")[TemplatePush]; got != DefaultTemplates()[TemplatePush] {
		t.Fatalf("expected defaults from zero set, got %q", got)
	}
}
