// Package api hosts the operator HTTP interface. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sessions and /v1/sessions/{id} for parsing session audit.
//   - POST /v1/crawls/{distributor} to start a crawl by hand.
package api
