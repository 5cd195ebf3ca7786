package internal

import "expvar"

var (
	requestsTotal = expvar.NewMap("gitlabrelay_requests_total")
	parseErrors   = expvar.NewMap("gitlabrelay_parse_errors_total")
	renderErrors  = expvar.NewMap("gitlabrelay_render_errors_total")
	messagesTotal = expvar.NewMap("gitlabrelay_messages_total")
	publishErrors = expvar.NewMap("gitlabrelay_publish_errors_total")
	bridgeErrors  = expvar.NewMap("gitlabrelay_bridge_errors_total")
)

func IncRequest(kind string) {
	requestsTotal.Add(kind, 1)
}

func IncParseError(reason string) {
	parseErrors.Add(reason, 1)
}

func IncRenderError(channel string) {
	renderErrors.Add(channel, 1)
}

func IncMessage(channel string) {
	messagesTotal.Add(channel, 1)
}

func IncPublishError(driver string) {
	publishErrors.Add(driver, 1)
}

// IncBridgeError counts inbound bridge messages that failed, by event type.
func IncBridgeError(kind string) {
	bridgeErrors.Add(kind, 1)
}
