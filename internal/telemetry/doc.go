// Package telemetry wires govd to an OTLP collector.
//
// New always installs the W3C propagator, since cycle traces cross NATS
// through message headers. With export enabled it also installs OTLP tracer
// and meter providers globally; components obtain tracers with
// otel.Tracer(name) and never hold a *Telemetry.
//
//	telemetry:
//	  enabled: true
//	  endpoint: localhost:4317
//	  protocol: grpc            # or http/protobuf
//	  service: {name: govcore, version: 0.1.0, instance: gov-1}
//	  attributes: {deployment.environment: prod}
//	  trace_ratio: 0.25
//	  metric_interval: 15s      # 0 keeps metrics on Prometheus only
//
// An exporter that cannot be built leaves that signal on the no-op
// provider; Health lists it and /health reports it without failing.
package telemetry
