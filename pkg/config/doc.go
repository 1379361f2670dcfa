// Package config loads froyo's global settings and decodes CUE
// configuration files.
//
// Settings resolve in increasing precedence from built-in defaults, an
// optional config.cue in the froyo home directory, FROYO_* environment
// variables and command-line flags:
//
//	settings, err := config.Load(ctx, config.LoadOptions{
//	    Flags:    cmd.Flags(),
//	    FlagKeys: map[string]string{"log-level": "log.level"},
//	})
//
// A config.cue file is validated against the #Settings schema before it is
// merged:
//
//	default_engine: "starlark"
//	log: level: "debug"
//	metrics: address: "127.0.0.1:9464"
//
// CUEParser decodes any CUE document against a registered schema and the
// target struct's validate tags. The workspace package uses it for
// workspace.cue files with the #Workspace schema.
package config
