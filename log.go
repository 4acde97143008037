package livequery

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention in the `livequery` package:
// Info:
//     essential events for abnormal behavior. This level should be silent
//     on normal operation.
//     this includes:
//     - abandoned refetches (store unavailable)
//     - panics recovered from observer callbacks
// V(1):
//     key lifecycle events with ids that can be used to filter
//     this includes:
//     - refetch execution and handle swaps
//     - teardown
// V(2):
//     per-notification trace events. frequent; normally off.

type LogFunction func(format string, a ...any)

func LogFn(tag string) LogFunction {
	return func(format string, a ...any) {
		m := fmt.Sprintf(format, a...)
		glog.Infof("%s: %s", tag, m)
	}
}

func VLogFn(verbosity glog.Level, tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(verbosity) {
			m := fmt.Sprintf(format, a...)
			glog.Infof("%s: %s", tag, m)
		}
	}
}
