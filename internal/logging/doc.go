// Package logging is govcore's structured logger: a thin zap wrapper whose
// methods take a context so every line carries the decision cycle, the agent
// and the trace it belongs to.
//
//	ctx = logging.WithCycleID(ctx, 1042)
//	logger.Info(ctx, "decision executed", zap.String("action", "scale_up"))
//
// emits
//
//	{"level":"info","ts":"...","msg":"decision executed","service":"govcore",
//	 "cycle.id":1042,"trace_id":"...","span_id":"...","action":"scale_up"}
//
// Lines go to stdout, to an OpenTelemetry LoggerProvider, or both. Below
// error level they are sampled per tick so a 500ms control loop cannot
// flood the sink. Errors are never sampled.
//
// Sensitive values are masked at encode time twice over: fields whose key
// names a credential are replaced outright, and string values are passed
// through the secrets scrubber.
//
// Tests use NewTestLogger and its Assert helpers.
package logging
