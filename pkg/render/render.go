package render

import (
	"errors"
	"fmt"
	"strings"

	"gitlabrelay/pkg/event"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	shortIDLength    = 10
	defaultCacheSize = 256
)

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Renderer turns events into chat lines. It is safe for concurrent use.
type Renderer struct {
	cache *lru.Cache[string, *compiled]
}

// NewRenderer creates a Renderer that keeps up to cacheSize parsed templates.
func NewRenderer(cacheSize int) (*Renderer, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, *compiled](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Renderer{cache: cache}, nil
}

// Format expands tpl against data. Line breaks in the result are folded
// into spaces so a payload cannot smuggle extra chat lines.
func (r *Renderer) Format(tpl string, data map[string]interface{}) (string, error) {
	c, err := r.compiled(tpl)
	if err != nil {
		return "", err
	}
	out, err := c.execute(data)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(lineBreaks.Replace(out)), nil
}

func (r *Renderer) compiled(tpl string) (*compiled, error) {
	if c, ok := r.cache.Get(tpl); ok {
		return c, nil
	}
	c, err := compile(tpl)
	if err != nil {
		return nil, err
	}
	r.cache.Add(tpl, c)
	return c, nil
}

// Render produces the messages for evt announced under slug. Messages whose
// template fails are skipped; their errors are joined into the returned
// error while the remaining messages are still returned.
func (r *Renderer) Render(slug string, evt *event.Event, tpl Templates) ([]string, error) {
	if evt == nil {
		return nil, errors.New("nil event")
	}
	project := projectContext(evt, slug)
	base := baseContext(evt, project)

	var (
		messages []string
		errs     error
	)
	emit := func(name string, data map[string]interface{}) {
		format := tpl[name]
		if format == "" {
			return
		}
		text, err := r.Format(format, data)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("template %s: %w", name, err))
			return
		}
		messages = append(messages, text)
	}

	switch evt.Kind {
	case event.KindPush:
		emit(TemplatePush, base)
		for _, commit := range evt.Commits {
			emit(TemplateCommit, commitContext(commit, project))
		}
	case event.KindTagPush:
		emit(TemplateTagPush, base)
	case event.KindIssue:
		base["issue"] = map[string]interface{}{
			"id":      objectID(evt.Object),
			"subject": evt.Object.Title,
			"title":   evt.Object.Title,
			"state":   evt.Object.State,
			"action":  evt.Object.Action,
		}
		base["url"] = evt.Object.URL
		emit(issueTemplate(evt.Object.Action), base)
	case event.KindMergeRequest:
		base["merge_request"] = map[string]interface{}{
			"id":            objectID(evt.Object),
			"title":         evt.Object.Title,
			"state":         evt.Object.State,
			"action":        evt.Object.Action,
			"source_branch": evt.Object.SourceBranch,
			"target_branch": evt.Object.TargetBranch,
		}
		base["url"] = evt.Object.URL
		emit(TemplateMergeRequest, base)
	case event.KindNote:
		base["note"] = map[string]interface{}{
			"id":            evt.Object.ID,
			"body":          evt.Object.Note,
			"noteable_type": evt.Object.NoteableType,
		}
		base["url"] = evt.Object.URL
		emit(TemplateNote, base)
	default:
		return nil, fmt.Errorf("unknown event kind %d", evt.Kind)
	}
	return messages, errs
}

func issueTemplate(action string) string {
	switch action {
	case "open":
		return TemplateIssueCreated
	case "delete", "destroy":
		return TemplateIssueDeleted
	default:
		return TemplateIssueChanged
	}
}

func objectID(obj event.Object) int64 {
	if obj.IID != 0 {
		return obj.IID
	}
	return obj.ID
}

// projectContext merges {id, name: slug} over the payload's project object.
func projectContext(evt *event.Event, slug string) map[string]interface{} {
	project := map[string]interface{}{}
	if existing, ok := evt.Payload["project"].(map[string]interface{}); ok {
		for key, value := range existing {
			project[key] = value
		}
	}
	if evt.ProjectID != nil {
		project["id"] = evt.ProjectID
	}
	project["name"] = slug
	return project
}

func baseContext(evt *event.Event, project map[string]interface{}) map[string]interface{} {
	data := make(map[string]interface{}, len(evt.Payload)+3)
	for key, value := range evt.Payload {
		data[key] = value
	}
	data["project"] = project
	return data
}

func commitContext(commit event.Commit, project map[string]interface{}) map[string]interface{} {
	data := make(map[string]interface{}, len(commit.Fields)+2)
	for key, value := range commit.Fields {
		data[key] = value
	}
	data["short_id"] = shortID(commit.ID)
	data["project"] = project
	return data
}

func shortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength]
}
