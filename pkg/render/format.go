package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
)

var (
	// ErrMalformedTemplate is returned for unbalanced braces or brackets and
	// for empty placeholders.
	ErrMalformedTemplate  = errors.New("malformed template")
	ErrMissingPlaceholder = errors.New("missing placeholder")
)

// MissingPlaceholderError names a placeholder the render context lacks.
type MissingPlaceholderError struct {
	Name string
}

func (e *MissingPlaceholderError) Error() string {
	return fmt.Sprintf("missing placeholder {%s}", e.Name)
}

func (e *MissingPlaceholderError) Is(target error) bool {
	return target == ErrMissingPlaceholder
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type segment struct {
	literal string
	field   string
	path    string
}

type compiled struct {
	segments []segment
}

// compile splits a template into literal text and placeholders. Placeholders
// use the {name}, {name[key]}, {name.key} and {list[0]} forms; {{ and }}
// produce literal braces and any !conversion or :spec suffix is ignored.
func compile(tpl string) (*compiled, error) {
	out := &compiled{}
	var literal strings.Builder
	flush := func() {
		if literal.Len() > 0 {
			out.segments = append(out.segments, segment{literal: literal.String()})
			literal.Reset()
		}
	}

	for i := 0; i < len(tpl); i++ {
		c := tpl[i]
		switch c {
		case '{':
			if i+1 < len(tpl) && tpl[i+1] == '{' {
				literal.WriteByte('{')
				i++
				continue
			}
			end, err := closingBrace(tpl, i+1)
			if err != nil {
				return nil, err
			}
			field := stripConversion(tpl[i+1 : end])
			path, err := fieldPath(field)
			if err != nil {
				return nil, err
			}
			flush()
			out.segments = append(out.segments, segment{field: field, path: path})
			i = end
		case '}':
			if i+1 < len(tpl) && tpl[i+1] == '}' {
				literal.WriteByte('}')
				i++
				continue
			}
			return nil, fmt.Errorf("%w: single '}' at offset %d", ErrMalformedTemplate, i)
		default:
			literal.WriteByte(c)
		}
	}
	flush()
	return out, nil
}

func closingBrace(tpl string, start int) (int, error) {
	depth := 0
	for i := start; i < len(tpl); i++ {
		switch tpl[i] {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case '{':
			if depth == 0 {
				return 0, fmt.Errorf("%w: nested '{' at offset %d", ErrMalformedTemplate, i)
			}
		case '}':
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: unclosed '{' at offset %d", ErrMalformedTemplate, start-1)
}

func stripConversion(field string) string {
	depth := 0
	for i := 0; i < len(field); i++ {
		switch field[i] {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case '!', ':':
			if depth == 0 {
				return field[:i]
			}
		}
	}
	return field
}

// fieldPath turns a placeholder name into a JSONPath expression.
func fieldPath(field string) (string, error) {
	if field == "" {
		return "", fmt.Errorf("%w: empty placeholder", ErrMalformedTemplate)
	}
	var keys []string
	i := strings.IndexAny(field, ".[")
	if i < 0 {
		keys = append(keys, field)
	} else {
		if i == 0 {
			return "", fmt.Errorf("%w: placeholder %q has no name", ErrMalformedTemplate, field)
		}
		keys = append(keys, field[:i])
		rest := field[i:]
		for rest != "" {
			switch rest[0] {
			case '.':
				rest = rest[1:]
				end := strings.IndexAny(rest, ".[")
				if end < 0 {
					end = len(rest)
				}
				if end == 0 {
					return "", fmt.Errorf("%w: empty attribute in %q", ErrMalformedTemplate, field)
				}
				keys = append(keys, rest[:end])
				rest = rest[end:]
			case '[':
				end := strings.IndexByte(rest, ']')
				if end <= 1 {
					return "", fmt.Errorf("%w: bad index in %q", ErrMalformedTemplate, field)
				}
				keys = append(keys, rest[1:end])
				rest = rest[end+1:]
			default:
				return "", fmt.Errorf("%w: unexpected %q in %q", ErrMalformedTemplate, rest[0], field)
			}
		}
	}

	var path strings.Builder
	path.WriteByte('$')
	for _, key := range keys {
		switch {
		case isIndex(key):
			path.WriteString("[" + key + "]")
		case identifier.MatchString(key):
			path.WriteString("." + key)
		default:
			path.WriteString("[" + strconv.Quote(key) + "]")
		}
	}
	return path.String(), nil
}

func isIndex(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (c *compiled) execute(data map[string]interface{}) (string, error) {
	var out strings.Builder
	for _, seg := range c.segments {
		if seg.path == "" {
			out.WriteString(seg.literal)
			continue
		}
		value, err := jsonpath.Get(seg.path, data)
		if err != nil {
			return "", &MissingPlaceholderError{Name: seg.field}
		}
		out.WriteString(stringify(value))
	}
	return out.String(), nil
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case int, int64, int32, uint, uint64:
		return fmt.Sprint(v)
	case map[string]interface{}, []interface{}:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	default:
		return fmt.Sprint(v)
	}
}
