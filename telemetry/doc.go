// Package telemetry wires OpenTelemetry spans and counters into the
// checkpointer services.
//
// Both use the global providers, so nothing is exported unless the host
// application installs a tracer or meter provider:
//
//	otel.SetTracerProvider(tp)
//	otel.SetMeterProvider(mp)
package telemetry
