// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, hot reload, runtime metrics and debug introspection for the
// relay.
//
// Provides concurrent-safe state handling primitives including:
//   - Config loading from YAML with defaults and validation
//   - A live key/value snapshot with synchronous reload listeners
//   - Prometheus collectors for the relay loop, on a private registry
//   - Named debug probes for state export
package control
