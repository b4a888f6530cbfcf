package logging

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const traceparentHeader = "traceparent"

// W3C Trace Context: {version}-{trace-id}-{parent-id}-{trace-flags}
var traceparentRe = regexp.MustCompile(`^([0-9a-f]{2})-([0-9a-f]{32})-([0-9a-f]{16})-([0-9a-f]{2})$`)

// traceContext is the parsed form of a traceparent header.
type traceContext struct {
	TraceID string
	SpanID  string
	Sampled bool
}

// parseTraceparent returns ok=false for malformed headers and for the all-zero
// trace or span IDs, which W3C Trace Context declares invalid.
func parseTraceparent(header string) (traceContext, bool) {
	m := traceparentRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(header)))
	if m == nil || m[1] == "ff" {
		return traceContext{}, false
	}
	if strings.Trim(m[2], "0") == "" || strings.Trim(m[3], "0") == "" {
		return traceContext{}, false
	}
	flags := m[4]
	return traceContext{
		TraceID: m[2],
		SpanID:  m[3],
		Sampled: len(flags) == 2 && (hexNibble(flags[1])&0x1) == 1,
	}, true
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	return 0
}

// fields renders tc as log fields. With a project ID the Cloud Logging special
// keys are used so entries group under the trace in Cloud Trace.
func (tc traceContext) fields(projectID string) []zap.Field {
	if projectID == "" {
		return []zap.Field{
			zap.String("traceId", tc.TraceID),
			zap.String("spanId", tc.SpanID),
			zap.Bool("traceSampled", tc.Sampled),
		}
	}
	return []zap.Field{
		zap.String("logging.googleapis.com/trace", "projects/"+projectID+"/traces/"+tc.TraceID),
		zap.String("logging.googleapis.com/spanId", tc.SpanID),
		zap.Bool("logging.googleapis.com/trace_sampled", tc.Sampled),
	}
}
