// Package packages drives the host's native package manager on behalf of
// scripts.
package packages

import (
	"context"
	"errors"
)

// Result describes the outcome of a package operation.
type Result struct {
	Success     bool     `json:"success"`
	Message     string   `json:"message"`
	PackageName string   `json:"packageName"`
	Version     string   `json:"version"`
	Path        string   `json:"path"`
	List        []string `json:"list"`
}

// Manager performs package operations. Implementations return an error when
// the backend fails; callers decide how to surface it.
type Manager interface {
	Name() string
	Install(ctx context.Context, name, version string) (*Result, error)
	Uninstall(ctx context.Context, name string) (*Result, error)
	Update(ctx context.Context, name string) (*Result, error)
	Search(ctx context.Context, query string) (*Result, error)
	List(ctx context.Context) ([]string, error)
}

// ErrUnavailable is returned by every operation of Unavailable.
var ErrUnavailable = errors.New("no supported package manager found")

// Unavailable is the Manager used when the host has no supported package
// manager.
type Unavailable struct{}

func (Unavailable) Name() string { return "none" }

func (Unavailable) Install(context.Context, string, string) (*Result, error) {
	return nil, ErrUnavailable
}

func (Unavailable) Uninstall(context.Context, string) (*Result, error) {
	return nil, ErrUnavailable
}

func (Unavailable) Update(context.Context, string) (*Result, error) {
	return nil, ErrUnavailable
}

func (Unavailable) Search(context.Context, string) (*Result, error) {
	return nil, ErrUnavailable
}

func (Unavailable) List(context.Context) ([]string, error) {
	return nil, ErrUnavailable
}
