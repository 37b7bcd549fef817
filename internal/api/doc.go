// Package api hosts the operator status server of a running crawl. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the frontier counters and ETA of the current run.
//   - GET and PUT /v1/pace to read or retune the inter-claim delay while
//     workers are running.
package api
