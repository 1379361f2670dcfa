// Package engine defines the script engine abstraction and the factory that
// caches one engine per kind.
//
// # Backends
//
// Each backend lives in its own package and wraps one script technology:
//
//   - js: ECMAScript 5.1+ via goja. Async capability methods return Promises
//     that are resolved on the engine goroutine. The result is the
//     completion value of the program, awaited when it is a Promise.
//   - starlark: go.starlark.net. The result is the global named "result".
//   - lua: Lua 5.2 via go-lua. The result is the first value the chunk
//     returns.
//   - expr: expr-lang expressions. The result is the expression value.
//
// In starlark, lua and expr, async methods return a task whose wait()
// blocks the script until the operation settles.
//
// # Concurrency
//
// Engines are shared by every orchestrator in the process. Guarded
// serializes access with a mutex, and Exclusive lets a caller bind its
// capability surface and execute without another caller interleaving.
//
// # Interrupts
//
// Cancelling the context passed to Execute interrupts js and starlark
// scripts. lua and expr have no interrupt: a cancelled context is only
// noticed at the next capability call, so a tight loop in those engines runs
// until it finishes. Capability calls themselves honour the context.
//
// # Object key order
//
// js and starlark keep object keys in insertion order. Lua tables and expr
// maps have no order, so objects built by lua or expr scripts come back with
// their keys sorted. An empty table written by a lua script becomes an empty
// array, while an empty object passed into lua stays an object.
package engine
