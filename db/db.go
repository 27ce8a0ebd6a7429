package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// The queries object for interacting with database and cache
type Queries struct {
	DB    *gorm.DB
	Cache *redis.Client
}

// Constructor for Queries
func NewQueries() *Queries {
	return &Queries{}
}

func gormConfig() *gorm.Config {
	return &gorm.Config{TranslateError: true}
}

// Connect to the database of the given driver: postgres or sqlite
func (queries *Queries) Connect(driver, dsn string) error {
	switch driver {
	case "postgres":
		return queries.ConnectDB(dsn)
	case "sqlite":
		return queries.ConnectSQLite(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// Connect to Postgres
func (queries *Queries) ConnectDB(connStr string) error {
	conn, err := gorm.Open(postgres.Open(connStr), gormConfig())
	if err != nil {
		return err
	}

	queries.DB = conn
	return nil
}

// Connect to SQLite, used for local development and tests
func (queries *Queries) ConnectSQLite(dsn string) error {
	conn, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return err
	}

	queries.DB = conn
	return nil
}

// Run database auto migration
func (queries *Queries) AutoMigration() error {
	return queries.DB.AutoMigrate(AllModels()...)
}

// Connect to Redis
func (queries *Queries) ConnectRedis(ctx context.Context, opt *redis.Options) error {
	queries.Cache = redis.NewClient(opt)
	_, err := queries.Cache.Ping(ctx).Result()
	if err != nil {
		return err
	}
	return nil
}

// Set cache value. If expired = 0, it will set the expiration time to 1 hour instead of no expiration
func (queries *Queries) SetCache(ctx context.Context, key string, val string, expired time.Duration) error {
	if expired == 0 {
		expired = time.Hour
	}
	return queries.Cache.Set(ctx, key, val, expired).Err()
}

// Get cache value
func (queries *Queries) GetCache(ctx context.Context, key string) (string, error) {
	val, err := queries.Cache.Get(ctx, key).Result()

	// If actually found value, return the val
	if err == nil {
		return val, nil
	}

	// If redis error
	if !errors.Is(err, redis.Nil) {
		return "", err
	}

	// If the value of the key simply don't exists, or expired
	return "", &ErrorCacheMiss{Key: key}
}

// Try to take a short lived lock. Returns false if someone else holds it.
// Without Redis every lock is granted.
func (queries *Queries) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if queries.Cache == nil {
		return true, nil
	}
	return queries.Cache.SetNX(ctx, "lock:"+key, "1", ttl).Result()
}

func (queries *Queries) ReleaseLock(ctx context.Context, key string) error {
	if queries.Cache == nil {
		return nil
	}
	return queries.Cache.Del(ctx, "lock:"+key).Err()
}

// Map gorm's not found to ErrNotFound, keeping the context
func NotFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
	}
	return err
}
