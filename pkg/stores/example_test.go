package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/openfroyo/scripthost/pkg/stores"
	"github.com/openfroyo/scripthost/pkg/value"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: ":memory:", // Use in-memory database for example
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_Set demonstrates storing and reading a value.
func ExampleSQLiteStore_Set() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	token := value.FromObject(value.NewObject().
		Set("token", value.String("abc123")).
		Set("expires", value.Int(3600)))

	if err := store.Set(ctx, "auth", token); err != nil {
		log.Fatal(err)
	}

	got, found, err := store.Get(ctx, "auth")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(found, got)
	// Output: true {"token":"abc123","expires":3600}
}
