package internal

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"gitlabrelay/pkg/chat"
	"gitlabrelay/pkg/event"

	"github.com/Knetic/govaluate"
)

// FilterSet holds the compiled per-channel filter expressions. Channels
// without a filter accept every event.
//
// Expressions see the flattened payload; dotted names need brackets, for
// example [object_attributes.action] == "open". The event kind is exposed
// as "event".
type FilterSet struct {
	filters map[string]*govaluate.EvaluableExpression
	logger  *log.Logger
}

func NewFilterSet(cfg FiltersConfig) (*FilterSet, error) {
	filters := make(map[string]*govaluate.EvaluableExpression, len(cfg.Filters))
	for channel, when := range cfg.Filters {
		when = strings.TrimSpace(when)
		if when == "" {
			continue
		}
		expr, err := govaluate.NewEvaluableExpression(when)
		if err != nil {
			return nil, fmt.Errorf("filter for %s: %w", channel, err)
		}
		filters[chat.ChannelKey(channel)] = expr
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &FilterSet{filters: filters, logger: logger}, nil
}

// Allow reports whether evt should be delivered to channel. An expression
// that fails to evaluate, or yields a non-boolean, rejects the event.
func (f *FilterSet) Allow(channel string, evt *event.Event) bool {
	if f == nil || evt == nil {
		return true
	}
	expr, ok := f.filters[chat.ChannelKey(channel)]
	if !ok {
		return true
	}

	result, err := expr.Evaluate(filterParameters(evt))
	if err != nil {
		f.logger.Printf("filter eval failed channel=%s event=%s: %v", channel, evt.Kind, err)
		return false
	}
	allowed, _ := result.(bool)
	return allowed
}

func filterParameters(evt *event.Event) map[string]interface{} {
	params := Flatten(evt.Payload)
	for key, value := range params {
		if number, ok := value.(json.Number); ok {
			if f, err := number.Float64(); err == nil {
				params[key] = f
			}
		}
	}
	params["event"] = evt.Kind.String()
	return params
}
