// Package telemetry sets up optional OpenTelemetry export for the harness.
//
// When enabled, sessions are traced (one "harness.session" span per
// session) and the token budget and HTTP instruments are exported over OTLP,
// using gRPC or HTTP/protobuf. When disabled, or when a provider cannot be
// created, the global no-op providers stay in place and the harness runs
// unchanged.
//
//	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
