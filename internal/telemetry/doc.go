// Package telemetry sets up OpenTelemetry tracing and metrics for athena.
//
// Spans and metrics are exported over OTLP (gRPC or HTTP/protobuf) to a
// collector. Metrics use cumulative temporality.
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry), logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	orch, err := learning.NewOrchestrator(lc, ev, logger,
//	    learning.WithTracer(tel.Tracer("athena/learning")))
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
