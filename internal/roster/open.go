package roster

import (
	"context"
	"fmt"

	"facerecog/internal/config"
	"facerecog/internal/store"
)

// Open connects the backend selected by cfg.StoreDriver. The returned close
// func is never nil.
func Open(ctx context.Context, cfg config.App) (Store, func() error, error) {
	switch cfg.StoreDriver {
	case "mongo":
		m, err := store.NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			if m != nil {
				_ = m.Close(context.Background())
			}
			return nil, func() error { return nil }, fmt.Errorf("connect mongo: %w", err)
		}
		closeFn := func() error { return m.Close(context.Background()) }
		return NewMongoRepository(m.Database), closeFn, nil
	case "postgres", "sqlite":
		db, err := store.NewDB(ctx, cfg.StoreDriver, cfg.DatabaseURL)
		if err != nil {
			_ = db.Close()
			return nil, func() error { return nil }, fmt.Errorf("connect %s: %w", cfg.StoreDriver, err)
		}
		return NewRepository(db.Client, Dialect(cfg.StoreDriver)), db.Close, nil
	default:
		return nil, func() error { return nil }, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}
