// Package workspace manages named workspaces: a directory holding a
// workspace.yaml (or workspace.cue) config and the workspace's own store.
//
// Layout under the froyo home directory:
//
//	active                      name of the active workspace
//	workspaces/<name>/workspace.yaml
//	workspaces/<name>/state.db
//
// A Manager opens workspaces into immutable Contexts and swaps the active
// one atomically. Watch reloads the active workspace when its config file
// changes on disk.
package workspace
