// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, metrics, and debug introspection layer for the
// arbiter daemon.
//
// Provides concurrent-safe state handling primitives including:
//   - Typed configuration snapshots with reload listeners
//   - Prometheus collectors for arbitration state
//   - Debug probe registration and state export
//   - A loopback-only HTTP listener serving all of the above
package control
