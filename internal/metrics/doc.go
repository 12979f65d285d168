// Package metrics exports relay statistics to Prometheus.
//
// Key metrics:
//   - Session connection state, frame and dispatch rates
//   - Outbound queue depth and evictions
//   - Journal insert/conflict/drop counts
//   - Bridge publish and drop counts
//
// Values are read from component snapshots at scrape time; the components
// keep plain counters and never see Prometheus types.
package metrics
