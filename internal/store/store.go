package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

const (
	sqliteDriverName = "sqlite"
	libsqlDriverName = "libsql"

	busyTimeoutMS          = 5000
	defaultPoolSize        = 4
	defaultAcquireTimeout  = 5 * time.Second
	defaultConnMaxLifetime = 5 * time.Minute
	pingTimeout            = 10 * time.Second

	maxOpenConnsEnvKey    = "DBIMAGE_DB_MAX_OPEN_CONNS"
	acquireTimeoutEnvKey  = "DBIMAGE_DB_ACQUIRE_TIMEOUT"
	connMaxLifetimeEnvKey = "DBIMAGE_DB_CONN_MAX_LIFETIME"
)

// Options configures the process-scoped connection pool.
type Options struct {
	// URL is the connection string. libsql://, http(s):// and ws(s)://
	// URLs use the libsql client; file: URLs and bare paths use SQLite.
	URL string

	// PoolSize bounds concurrently checked-out connections.
	PoolSize int

	// AcquireTimeout bounds how long an operation waits for a pooled
	// connection before failing with ErrUnavailable.
	AcquireTimeout time.Duration

	ConnMaxLifetime time.Duration

	// SkipSchema opens the pool without applying migrations.
	SkipSchema bool

	Logger *slog.Logger
}

// Store is the content-addressable image store over database/sql.
//
// A Store is created once per process by Open and released by Close; it is
// safe for concurrent use and is passed by reference to every component.
type Store struct {
	db             *sql.DB
	driver         string
	acquireTimeout time.Duration
	logger         *slog.Logger
}

// Open creates the connection pool, verifies connectivity and ensures the
// schema exists.
func Open(ctx context.Context, opts Options) (*Store, error) {
	driver, dsn, err := driverDSN(opts.URL)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	st := &Store{
		db:             db,
		driver:         driver,
		acquireTimeout: positiveDuration(opts.AcquireTimeout, durationFromEnv(acquireTimeoutEnvKey, defaultAcquireTimeout)),
		logger:         logger,
	}
	configureDB(db, opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, unavailable("connect", err)
	}

	if !opts.SkipSchema {
		if err := st.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	logger.Debug("store opened", "driver", driver, "url", redactURL(opts.URL))
	return st, nil
}

// Close drains and closes the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Driver reports the database/sql driver chosen for the connection string.
func (s *Store) Driver() string {
	return s.driver
}

// Ping verifies the backing database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		if err := conn.PingContext(ctx); err != nil {
			return unavailable("ping", err)
		}
		return nil
	})
}

// withConn checks out one pooled connection for the duration of fn and
// returns it to the pool on every exit path.
func (s *Store) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store is not configured: %w", ErrUnavailable)
	}
	acquireCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	conn, err := s.db.Conn(acquireCtx)
	cancel()
	if err != nil {
		return unavailable("acquire connection", err)
	}
	defer conn.Close()
	return fn(conn)
}

func configureDB(db *sql.DB, opts Options) {
	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = intFromEnv(maxOpenConnsEnvKey, defaultPoolSize)
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)
	db.SetConnMaxLifetime(positiveDuration(opts.ConnMaxLifetime, durationFromEnv(connMaxLifetimeEnvKey, defaultConnMaxLifetime)))
}

// driverDSN picks the driver for a connection string. SQLite pragmas are
// passed through the DSN so every pooled connection gets them.
func driverDSN(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("database url is required")
	}

	u, err := url.Parse(raw)
	if err != nil || len(u.Scheme) <= 1 {
		// Bare path (or a Windows drive letter).
		return sqliteDriverName, sqliteDSN(raw, nil), nil
	}

	switch strings.ToLower(u.Scheme) {
	case "libsql", "http", "https", "ws", "wss":
		return libsqlDriverName, raw, nil
	case "file":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" {
			return "", "", fmt.Errorf("database url %q has no path", raw)
		}
		return sqliteDriverName, sqliteDSN(path, u.Query()), nil
	default:
		return "", "", fmt.Errorf("unsupported database url scheme %q", u.Scheme)
	}
}

func sqliteDSN(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	query.Add("_pragma", "journal_mode(WAL)")
	query.Add("_pragma", "synchronous(NORMAL)")
	query.Add("_pragma", "foreign_keys(1)")
	if query.Get("_txlock") == "" {
		query.Set("_txlock", "immediate")
	}
	return "file:" + path + "?" + query.Encode()
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}
	q := u.Query()
	if q.Has("authToken") {
		q.Set("authToken", "REDACTED")
		u.RawQuery = q.Encode()
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}

func intFromEnv(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func durationFromEnv(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return def
		}
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func positiveDuration(value, def time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return def
}
