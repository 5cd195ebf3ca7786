package webhook

import (
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

// requestID reuses a caller-supplied request id or mints a new one.
func requestID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(requestIDHeader)); id != "" && len(id) <= 128 {
		return id
	}
	return uuid.NewString()
}

// logDebugEvent records the event name and payload size, never the payload.
func logDebugEvent(logger *log.Logger, provider, event string, body []byte) {
	logger.Printf("debug event provider=%s name=%q bytes=%d", provider, event, len(body))
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(text))
}
