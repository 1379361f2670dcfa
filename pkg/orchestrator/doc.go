// Package orchestrator runs scripts inside a workspace.
//
// An Orchestrator moves through four states:
//
//	Uninitialized --Initialize--> Ready --Run--> Executing --> Ready
//	                     \                            \
//	                      `--> Faulted <---------------`  (engine panic)
//
// Initialize resolves the engine for the workspace's configured kind from
// an engine.Factory, builds the capability surface (store, http, fs,
// process, package) wrapped in telemetry and policy middleware, and binds
// it. Run executes one script at a time; a second Run while one is
// executing fails with a concurrency error instead of queueing. Every run
// is recorded in the workspace's run history.
//
// Engines are shared across orchestrators through the factory, so Run
// rebinds the surface while holding the engine before it executes.
package orchestrator
