// Package capability defines the host objects scripts can call: store, http,
// fs, process and package.
//
// Each object is an engine-agnostic descriptor. Methods take and return
// value.Value, so every engine binds the same names with the same argument
// and result shapes. Methods suffixed with "Async" are started on a Future
// by the engine instead of being called inline.
//
// Errors are *hosterr.HostError values stamped with the "object.method"
// operation. Expected operational outcomes, such as package manager
// failures or process exit codes reported by exec, are returned as result
// objects rather than raised.
package capability
