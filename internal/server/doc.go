// Package server implements the HTTP API used to monitor a running receiver:
// health, per-pipeline statistics, recording progress, configuration and
// Prometheus metrics.
package server
