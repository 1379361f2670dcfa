package capability

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"
)

// NewFS exposes read-only filesystem access. Relative paths resolve against
// root; an empty root means the process working directory.
func NewFS(root string) *Object {
	const name = NameFS
	resolve := func(p string) string {
		if root == "" || filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Join(root, p)
	}

	return &Object{
		Name: name,
		Methods: []Method{
			syncMethod(name, "exists", func(_ context.Context, args Args) (value.Value, error) {
				p, err := args.String(0)
				if err != nil {
					return value.Null(), err
				}
				_, err = os.Stat(resolve(p))
				switch {
				case err == nil:
					return value.Bool(true), nil
				case errors.Is(err, fs.ErrNotExist):
					return value.Bool(false), nil
				default:
					return value.Null(), hosterr.NewIOError("failed to stat "+p, err)
				}
			}),
			syncMethod(name, "readText", func(_ context.Context, args Args) (value.Value, error) {
				p, err := args.String(0)
				if err != nil {
					return value.Null(), err
				}
				data, err := os.ReadFile(resolve(p))
				if err != nil {
					if errors.Is(err, fs.ErrNotExist) {
						return value.Null(), hosterr.NewNotFoundError("file not found: "+p, err)
					}
					return value.Null(), hosterr.NewIOError("failed to read "+p, err)
				}
				return value.String(string(data)), nil
			}),
		},
	}
}
