package internal

import (
	"net/http"
	"testing"

	"gitlabrelay/pkg/event"
)

func parseIssue(t *testing.T, body string) *event.Event {
	t.Helper()
	header := http.Header{}
	header.Set(event.EventHeader, "Issue Hook")
	evt, err := event.Parse(header, []byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return evt
}

const issueBody = `{"object_kind":"issue","user":{"name":"alice"},"project":{"id":15,"web_url":"https://git.example.com/g/app"},"object_attributes":{"id":301,"iid":7,"title":"Crash","url":"https://git.example.com/g/app/issues/7","action":"open","labels":["bug"]}}`

func TestFilterSetAllow(t *testing.T) {
	filters, err := NewFilterSet(FiltersConfig{Filters: map[string]string{
		"#dev":   `[object_attributes.action] == "open"`,
		"#ops":   `[object_attributes.action] == "close"`,
		"#stats": `[project.id] == 15 && event == "issue"`,
	}})
	if err != nil {
		t.Fatalf("new filter set: %v", err)
	}

	evt := parseIssue(t, issueBody)
	if !filters.Allow("#DEV", evt) {
		t.Fatalf("expected #dev to accept an opened issue")
	}
	if filters.Allow("#ops", evt) {
		t.Fatalf("expected #ops to reject an opened issue")
	}
	if !filters.Allow("#stats", evt) {
		t.Fatalf("expected numeric comparison to match")
	}
	if !filters.Allow("#other", evt) {
		t.Fatalf("expected channel without filter to accept")
	}
}

func TestFilterSetMissingField(t *testing.T) {
	filters, err := NewFilterSet(FiltersConfig{Filters: map[string]string{
		"dev": `missing == true`,
	}})
	if err != nil {
		t.Fatalf("new filter set: %v", err)
	}
	if filters.Allow("#dev", parseIssue(t, issueBody)) {
		t.Fatalf("expected evaluation error to reject")
	}
}

func TestFilterSetNonBoolean(t *testing.T) {
	filters, err := NewFilterSet(FiltersConfig{Filters: map[string]string{
		"#dev": `[object_attributes.iid] + 1`,
	}})
	if err != nil {
		t.Fatalf("new filter set: %v", err)
	}
	if filters.Allow("#dev", parseIssue(t, issueBody)) {
		t.Fatalf("expected non-boolean result to reject")
	}
}

func TestNewFilterSetInvalidExpression(t *testing.T) {
	_, err := NewFilterSet(FiltersConfig{Filters: map[string]string{"#dev": `action ==`}})
	if err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestNilFilterSetAllows(t *testing.T) {
	var filters *FilterSet
	if !filters.Allow("#dev", parseIssue(t, issueBody)) {
		t.Fatalf("expected nil filter set to accept")
	}
}
