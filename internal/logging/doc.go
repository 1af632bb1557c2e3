// Package logging provides structured logging with OpenTelemetry
// integration.
//
// Logger wraps Zap and adds a Trace level below Debug, stdout and OTEL
// outputs, redaction of secrets and per-level sampling. Context methods
// attach correlation fields automatically:
//
//	ctx = logging.WithRunID(ctx, result.RunID)
//	logger.Info(ctx, "patterns published", zap.Int("count", n))
//
// produces
//
//	{"level":"info","msg":"patterns published","service":"athena",
//	 "trace_id":"4bf9...","run_id":"7c1e...","count":12}
//
// Contexts passed to a learning run's sinks already carry the run ID.
// Library packages such as learning take a plain *zap.Logger; pass them
// Underlying().
//
// Error and above are never sampled. Requesting debug or trace output
// through FromSettings disables sampling altogether.
package logging
