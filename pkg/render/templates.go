package render

import "gitlabrelay/pkg/chat"

// Template names.
const (
	TemplatePush         = "push"
	TemplateCommit       = "commit"
	TemplateTagPush      = "tag-push"
	TemplateIssueCreated = "issue-created"
	TemplateIssueChanged = "issue-changed"
	TemplateIssueDeleted = "issue-deleted"
	TemplateNote         = "note"
	TemplateMergeRequest = "merge-request"
)

// Templates maps template names to format strings. An empty format string
// disables the message.
type Templates map[string]string

// DefaultTemplates returns the built-in formats.
func DefaultTemplates() Templates {
	return Templates{
		TemplatePush:         "[{project[name]}] {user_name} pushed {total_commits_count} commit(s) to {ref}:",
		TemplateCommit:       "[{project[name]}] {short_id} {message} by {author[name]}",
		TemplateTagPush:      "[{project[name]}] {user_name} created a new tag {ref}",
		TemplateIssueCreated: "[{project[name]}] Issue #{issue[id]} {issue[subject]} created by {user[name]} {url}",
		TemplateIssueChanged: "[{project[name]}] Issue #{issue[id]} {issue[subject]} changed by {user[name]} {url}",
		TemplateIssueDeleted: "[{project[name]}] Issue #{issue[id]} {issue[subject]} deleted by {user[name]} {url}",
		TemplateNote:         "[{project[name]}] {user[name]} commented on {note[noteable_type]} {url}",
		TemplateMergeRequest: "[{project[name]}] Merge request !{merge_request[id]} {merge_request[title]} {merge_request[action]} by {user[name]} {url}",
	}
}

// Merge returns a copy of t with overrides applied on top.
func (t Templates) Merge(overrides Templates) Templates {
	out := make(Templates, len(t)+len(overrides))
	for name, format := range t {
		out[name] = format
	}
	for name, format := range overrides {
		out[name] = format
	}
	return out
}

// TemplateSet holds process-wide templates and per-channel overrides.
type TemplateSet struct {
	defaults Templates
	channels map[string]Templates
}

// NewTemplateSet builds a TemplateSet. Channel keys are matched
// case-insensitively.
func NewTemplateSet(defaults Templates, channels map[string]Templates) TemplateSet {
	set := TemplateSet{
		defaults: DefaultTemplates().Merge(defaults),
		channels: make(map[string]Templates, len(channels)),
	}
	for channel, overrides := range channels {
		set.channels[chat.ChannelKey(channel)] = set.defaults.Merge(overrides)
	}
	return set
}

// For returns the templates that apply to channel.
func (s TemplateSet) For(channel string) Templates {
	if tpl, ok := s.channels[chat.ChannelKey(channel)]; ok {
		return tpl
	}
	if s.defaults == nil {
		return DefaultTemplates()
	}
	return s.defaults
}
