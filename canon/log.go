package canon

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention in the `canon` package:
// Info:
//     abnormal events only. Silent on normal operation.
//     this includes:
//     - connection loss and socket errors
//     - frames that fail to decode
//     - consumer callback panics
// V(1):
//     per-subscription lifecycle events tagged with the subscription id,
//     e.g. open, reconnect scheduled, disconnect
// V(2):
//     per-frame events and dial and fetch timing traces
// `LogFn` loggers are gated by `GlobalLogLevel` instead of glog verbosity.
// The state mirror logs this way.

const LogLevelUrgent = 0
const LogLevelInfo = 50
const LogLevelDebug = 100

var GlobalLogLevel = LogLevelUrgent

type LogFunction func(string, ...any)

func LogFn(level int, tag string) LogFunction {
	return func(format string, a ...any) {
		if level <= GlobalLogLevel {
			m := fmt.Sprintf(format, a...)
			glog.InfoDepth(1, fmt.Sprintf("%s: %s", tag, m))
		}
	}
}

func SubLogFn(level int, log LogFunction, tag string) LogFunction {
	return func(format string, a ...any) {
		if level <= GlobalLogLevel {
			m := fmt.Sprintf(format, a...)
			log("%s: %s", tag, m)
		}
	}
}
