package bridge

import "gitlabrelay/internal"

type Logger interface {
	Printf(format string, args ...interface{})
}

var defaultLogger Logger = internal.NewLogger("bridge")
