// Package policy gates capability calls with Open Policy Agent (OPA).
//
// Every capability call a script makes can be routed through an Engine
// before it reaches the host. The engine evaluates the deny set of each
// enabled Rego policy against an Input describing the call:
//
//	{
//	  "workspace": "demo",
//	  "object": "process",
//	  "member": "runCommand",
//	  "op": "process.runCommand",
//	  "args": [null, null, "rm -rf /"]
//	}
//
// Deny entries whose severity is error or critical block the call with a
// permission_denied host error. Lower severities are logged as warnings.
//
// # Usage
//
//	gate, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := gate.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//	surface = surface.With(gate.Middleware("demo"))
//
// # Built-in Policies
//
//  1. root-removal (critical) blocks process calls that run rm against /
//  2. plaintext-credentials (warning) flags Authorization headers sent over
//     plain http to a non-local host
//
// # Custom Policies
//
// Policies are Rego v1 modules that define a deny set. An entry is either a
// message string, which takes the policy's severity, or an object:
//
//	# Refuse writes outside the workspace tmp directory.
//	# severity: error
//	package froyo.custom.fs_tmp_only
//
//	import rego.v1
//
//	deny contains "writes are restricted to tmp/" if {
//	    input.object == "fs"
//	    input.member == "writeText"
//	    not startswith(input.args[0], "tmp/")
//	}
//
// Loader.Watch reloads a policy directory when its files change; pass
// Engine.ReplaceLoaded as the reload callback.
package policy
