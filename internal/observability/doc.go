// Package observability builds the service's zap logger and the Prometheus
// collectors for gate decisions.
package observability
