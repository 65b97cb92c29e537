// Package prometheus renders client counters and latency histograms in the
// Prometheus text exposition format.
//
// Counters are named lbclient_*_total. The two histograms are
// lbclient_request_latency_seconds and lbclient_refresh_latency_seconds and
// appear only when latency histograms are enabled on the client.
//
// # What this package must NOT do
//
//   - Register in a global Prometheus registry. Callers mount Handler.
//   - Mutate client state.
package prometheus
