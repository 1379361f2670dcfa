// Package stores provides the persistence layer of the scripting host.
// It includes a SQLite-backed key-value store holding serialized ScriptValues
// and the run history written by the orchestrator. Each workspace owns one
// database file; every mutation commits before the call returns.
package stores
