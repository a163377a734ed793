// Package internaldefs holds the shared metric definitions used by the
// Prometheus and OTel exporters: exposition names, help strings, and
// histogram bucket handling. Internal to the exporters; not a public API.
package internaldefs
