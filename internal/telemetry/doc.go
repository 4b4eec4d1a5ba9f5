// Package telemetry forwards the trace of every routed request to a sink:
// each attempt, the token cost of a served request, and an error trace when
// no provider could serve it. Sinks write to the log or to a Redis stream.
package telemetry
