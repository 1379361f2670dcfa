package engine

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/scripthost/pkg/hosterr"
)

// Options configures a backend.
type Options struct {
	// Logger receives script output such as print() and console.log().
	Logger zerolog.Logger
}

// ScriptError builds the error returned for a script fault. When cause is a
// host error that the script raised and did not handle, it stays in the
// chain so hosterr.IsKind and hosterr.Root still find it.
func ScriptError(kind Kind, message, location string, cause error) error {
	var he *hosterr.HostError
	if errors.As(cause, &he) {
		if he.Kind == hosterr.KindEngine {
			if he.Location == "" {
				he.Location = location
			}
			return he
		}
		return hosterr.NewEngineError(fmt.Sprintf("%s: uncaught %s error", kind, he.Kind), cause).
			WithLocation(location)
	}
	return hosterr.NewEngineError(fmt.Sprintf("%s: %s", kind, message), cause).WithLocation(location)
}

// Interrupted builds the error returned when ctx stopped a script.
func Interrupted(kind Kind, cause error) error {
	return hosterr.NewEngineError(fmt.Sprintf("%s: script interrupted", kind), cause).
		WithDetail("interrupted", true)
}
