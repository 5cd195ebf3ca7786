package webhook

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"runtime/debug"
	"strings"

	"gitlabrelay/internal"
	"gitlabrelay/pkg/chat"
	"gitlabrelay/pkg/event"
	"gitlabrelay/pkg/render"
	"gitlabrelay/pkg/route"
)

const (
	msgBadPath     = "Error: You need to provide the network name and the channel in the url."
	msgInvalidData = "Error: Invalid data sent."
	msgBadToken    = "Error: Invalid token."
)

// GitLabConfig wires a GitLabHandler.
type GitLabConfig struct {
	// Prefix is the mount path, for example "/gitlab/".
	Prefix string
	// Secret, when set, must equal the X-Gitlab-Token header.
	Secret      string
	MaxBody     int64
	DebugEvents bool

	Session   *chat.Session
	Router    *route.Router
	Renderer  *render.Renderer
	Templates render.TemplateSet
	Filters   *internal.FilterSet
	Sink      chat.Sink
	Logger    *log.Logger
}

// GitLabHandler accepts GitLab webhooks on <prefix><network>/<channel> and
// announces them to every joined channel with a matching subscription.
type GitLabHandler struct {
	prefix      string
	parser      *event.Parser
	maxBody     int64
	debugEvents bool
	session     *chat.Session
	router      *route.Router
	renderer    *render.Renderer
	templates   render.TemplateSet
	filters     *internal.FilterSet
	sink        chat.Sink
	logger      *log.Logger
}

// NewGitLabHandler creates a new GitLabHandler.
func NewGitLabHandler(cfg GitLabConfig) (*GitLabHandler, error) {
	if cfg.Session == nil || cfg.Router == nil || cfg.Renderer == nil || cfg.Sink == nil {
		return nil, errors.New("gitlab handler: session, router, renderer and sink are required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "/gitlab/"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	parser, err := event.NewParser(cfg.Secret)
	if err != nil {
		return nil, err
	}
	return &GitLabHandler{
		prefix:      prefix,
		parser:      parser,
		maxBody:     cfg.MaxBody,
		debugEvents: cfg.DebugEvents,
		session:     cfg.Session,
		router:      cfg.Router,
		renderer:    cfg.Renderer,
		templates:   cfg.Templates,
		filters:     cfg.Filters,
		sink:        cfg.Sink,
		logger:      logger,
	}, nil
}

// ServeHTTP handles an incoming HTTP request.
func (h *GitLabHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	w.Header().Set(requestIDHeader, reqID)
	logger := internal.WithRequestID(h.logger, reqID)
	defer func() {
		if rec := recover(); rec != nil {
			logger.Printf("panic: %v\n%s", rec, debug.Stack())
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	network, channel, ok := h.scope(r.URL.Path)
	if !ok {
		writeText(w, http.StatusForbidden, msgBadPath)
		return
	}
	if network != h.session.Network() || !h.session.Joined(channel) {
		http.NotFound(w, r)
		return
	}

	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	evt, err := h.parser.Parse(r.Header, rawBody)
	if errors.Is(err, event.ErrInvalidToken) {
		logger.Printf("gitlab token mismatch network=%s channel=%s", network, channel)
		writeText(w, http.StatusForbidden, msgBadToken)
		return
	}

	if h.debugEvents {
		logDebugEvent(logger, "gitlab", r.Header.Get(event.EventHeader), rawBody)
	}

	switch {
	case errors.Is(err, event.ErrUnsupportedEvent):
		internal.IncRequest("unsupported")
		logger.Printf("gitlab event ignored: %v", err)
		writeText(w, http.StatusOK, "OK")
		return
	case err != nil:
		internal.IncParseError(parseErrorReason(err))
		logger.Printf("gitlab parse failed: %v", err)
		writeText(w, http.StatusForbidden, msgInvalidData)
		return
	}
	internal.IncRequest(evt.Kind.String())

	ctx := internal.ContextWithRequestID(r.Context(), reqID)
	h.dispatch(ctx, logger, evt)

	writeText(w, http.StatusOK, "OK")
}

// scope splits <prefix><network>/<channel>. Segments after the channel are
// ignored.
func (h *GitLabHandler) scope(path string) (string, string, bool) {
	if !strings.HasPrefix(path, h.prefix) {
		return "", "", false
	}
	parts := strings.Split(strings.TrimPrefix(path, h.prefix), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	channel := chat.NormalizeChannel(parts[1])
	if channel == "" {
		return "", "", false
	}
	return parts[0], channel, true
}

func (h *GitLabHandler) dispatch(ctx context.Context, logger *log.Logger, evt *event.Event) {
	targets, err := h.router.Route(ctx, evt, h.session.Channels())
	if err != nil {
		logger.Printf("route failed: %v", err)
	}
	logger.Printf("event kind=%s project=%s targets=%d", evt.Kind, evt.ProjectURL, len(targets))

	network := h.session.Network()
	for _, target := range targets {
		if !h.filters.Allow(target.Channel, evt) {
			continue
		}
		lines, err := h.renderer.Render(target.Slug, evt, h.templates.For(target.Channel))
		if err != nil {
			internal.IncRenderError(target.Channel)
			logger.Printf("render failed channel=%s slug=%s: %v", target.Channel, target.Slug, err)
		}
		for _, line := range lines {
			msg := chat.Message{Network: network, Channel: target.Channel, Text: line}
			if err := h.sink.Send(ctx, msg); err != nil {
				logger.Printf("send failed channel=%s: %v", target.Channel, err)
			}
		}
	}
}

func parseErrorReason(err error) string {
	switch {
	case errors.Is(err, event.ErrMissingEventHeader):
		return "missing_header"
	case errors.Is(err, event.ErrInvalidJSON):
		return "invalid_json"
	case errors.Is(err, event.ErrMissingField):
		return "missing_field"
	default:
		return "other"
	}
}
