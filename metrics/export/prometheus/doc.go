// Package prometheus renders goRealtime engine metrics in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] accepts a [goRealtime.Engine] and exposes an
// [http.Handler]. Counter names are prefixed gorealtime_*_total; the single
// histogram is gorealtime_auth_latency_seconds and the live connection count
// is the gorealtime_active_connections gauge.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
