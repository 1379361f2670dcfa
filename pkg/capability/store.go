package capability

import (
	"context"

	"github.com/openfroyo/scripthost/pkg/stores"
	"github.com/openfroyo/scripthost/pkg/value"
)

// NewStore exposes a key-value store to scripts.
func NewStore(kv stores.KeyValueStore) *Object {
	const name = NameStore
	return &Object{
		Name: name,
		Methods: []Method{
			syncMethod(name, "get", func(ctx context.Context, args Args) (value.Value, error) {
				key, err := args.String(0)
				if err != nil {
					return value.Null(), err
				}
				v, _, err := kv.Get(ctx, key)
				return v, err
			}),
			syncMethod(name, "set", func(ctx context.Context, args Args) (value.Value, error) {
				key, err := args.String(0)
				if err != nil {
					return value.Null(), err
				}
				return value.Null(), kv.Set(ctx, key, args.At(1))
			}),
			syncMethod(name, "delete", func(ctx context.Context, args Args) (value.Value, error) {
				key, err := args.String(0)
				if err != nil {
					return value.Null(), err
				}
				removed, err := kv.Delete(ctx, key)
				return value.Bool(removed), err
			}),
			syncMethod(name, "clear", func(ctx context.Context, _ Args) (value.Value, error) {
				return value.Null(), kv.Clear(ctx)
			}),
			syncMethod(name, "keys", func(ctx context.Context, _ Args) (value.Value, error) {
				keys, err := kv.Keys(ctx)
				if err != nil {
					return value.Null(), err
				}
				return value.Strings(keys), nil
			}),
			syncMethod(name, "values", func(ctx context.Context, _ Args) (value.Value, error) {
				values, err := kv.Values(ctx)
				if err != nil {
					return value.Null(), err
				}
				return value.Array(values...), nil
			}),
		},
	}
}
