// Package db is the SaveContext storage engine: projects, sessions, context
// items, checkpoints, plans and the issue graph, persisted in SQLite.
package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/marcus/savecontext/internal/models"
	_ "modernc.org/sqlite"
)

const (
	dbFile = "savecontext.db"

	// DriverModernc is the pure-Go driver and the default
	DriverModernc = "sqlite"
	// DriverMattn is the cgo driver, available only in cgo builds
	DriverMattn = "sqlite3"

	defaultBusyTimeout = 5 * time.Second
)

// drivers maps a database/sql driver name to its DSN builder
var drivers = map[string]func(path string, busyMillis int) string{
	DriverModernc: moderncDSN,
}

func moderncDSN(path string, busy int) string {
	return "file:" + path +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(" + strconv.Itoa(busy) + ")&_txlock=immediate"
}

// Options tunes how the database is opened
type Options struct {
	Driver      string
	BusyTimeout time.Duration // SQLite busy handler wait
	LockTimeout time.Duration // cross-process write lock wait
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Driver == "" {
		o.Driver = DriverModernc
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = defaultBusyTimeout
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = defaultLockTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// DB wraps the database connection
type DB struct {
	conn    *sql.DB
	baseDir string
	opts    Options
	logger  *slog.Logger

	// writeMu serializes writers inside this process; the file lock
	// serializes them across processes.
	writeMu sync.Mutex
	now     func() time.Time
}

// Path returns the database file path inside baseDir
func Path(baseDir string) string {
	return filepath.Join(baseDir, dbFile)
}

// Open opens an existing database and runs any pending migrations
func Open(baseDir string) (*DB, error) {
	return OpenWithOptions(baseDir, Options{})
}

// OpenWithOptions is Open with explicit options
func OpenWithOptions(baseDir string, opts Options) (*DB, error) {
	if _, err := os.Stat(Path(baseDir)); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: run 'sc init' first")
	}
	return open(baseDir, opts)
}

// Initialize creates the database if needed and runs migrations
func Initialize(baseDir string) (*DB, error) {
	return InitializeWithOptions(baseDir, Options{})
}

// InitializeWithOptions is Initialize with explicit options
func InitializeWithOptions(baseDir string, opts Options) (*DB, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return open(baseDir, opts)
}

func open(baseDir string, opts Options) (*DB, error) {
	opts = opts.withDefaults()
	dsn, ok := drivers[opts.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported sqlite driver %q", opts.Driver)
	}

	conn, err := sql.Open(opts.Driver, dsn(Path(baseDir), int(opts.BusyTimeout/time.Millisecond)))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := &DB{
		conn:    conn,
		baseDir: baseDir,
		opts:    opts,
		logger:  opts.Logger.With("component", "db"),
		now:     time.Now,
	}

	// Schema creation and migrations go through the write lock so two
	// processes opening a fresh file cannot race.
	err = db.withWriteLock(func() error {
		if _, err := conn.Exec(schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		_, err := db.RunMigrations()
		return err
	})
	if err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

// Close closes the database
func (db *DB) Close() error {
	return db.conn.Close()
}

// SetMaxOpenConns sets the maximum number of open connections to the database.
func (db *DB) SetMaxOpenConns(n int) {
	db.conn.SetMaxOpenConns(n)
}

// BaseDir returns the base directory for the database
func (db *DB) BaseDir() string {
	return db.baseDir
}

// GetSchemaVersion returns the applied schema version
func (db *DB) GetSchemaVersion() (int, error) {
	var value string
	err := db.conn.QueryRow(`SELECT value FROM schema_info WHERE key = 'version'`).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

func setSchemaVersion(q queryer, v int) error {
	_, err := q.Exec(`INSERT INTO schema_info (key, value) VALUES ('version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, strconv.Itoa(v))
	return err
}

// RunMigrations applies pending migrations and returns how many ran
func (db *DB) RunMigrations() (int, error) {
	current, err := db.GetSchemaVersion()
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if current == 0 {
		// Fresh database: the base schema is version 1
		current = 1
		if err := setSchemaVersion(db.conn, current); err != nil {
			return 0, fmt.Errorf("set schema version: %w", err)
		}
	}

	applied := 0
	for _, m := range Migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.conn.Begin()
		if err != nil {
			return applied, fmt.Errorf("migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if err := setSchemaVersion(tx, m.Version); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("migration %d: %w", m.Version, err)
		}
		db.logger.Debug("applied migration", "version", m.Version, "description", m.Description)
		applied++
	}
	return applied, nil
}

// withWriteLock executes fn while holding an exclusive write lock.
// This prevents concurrent writes from multiple processes.
func (db *DB) withWriteLock(fn func() error) error {
	locker := newWriteLocker(db.baseDir)
	if err := locker.acquire(db.opts.LockTimeout); err != nil {
		db.logger.Warn("write lock timeout", "timeout", db.opts.LockTimeout)
		return err
	}
	defer locker.release()
	return fn()
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// mutation is the state shared by the statements of one write transaction
type mutation struct {
	tx     *sql.Tx
	op     string
	actor  string
	now    time.Time
	events []models.Event
}

// record queues an audit event, written before commit
func (m *mutation) record(entityType, entityID, eventType, oldValue, newValue string) {
	m.events = append(m.events, models.Event{
		EntityType: entityType,
		EntityID:   entityID,
		EventType:  eventType,
		Actor:      m.actor,
		OldValue:   oldValue,
		NewValue:   newValue,
		CreatedAt:  m.now,
	})
}

// mutate runs fn inside a single immediate transaction under the write lock.
// Any error rolls back everything fn did; audit events are committed with
// the data they describe.
func (db *DB) mutate(op, actor string, fn func(m *mutation) error) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	return db.withWriteLock(func() error {
		tx, err := db.conn.Begin()
		if err != nil {
			return classify(op, err)
		}
		m := &mutation{tx: tx, op: op, actor: actor, now: db.now()}

		if err := fn(m); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				db.logger.Warn("rollback failed", "op", op, "err", rbErr)
			}
			return classify(op, err)
		}
		if err := insertEvents(tx, m.events); err != nil {
			tx.Rollback()
			return classify(op, err)
		}
		if err := tx.Commit(); err != nil {
			return classify(op, err)
		}
		db.logger.Debug("mutation committed", "op", op, "actor", actor, "events", len(m.events))
		return nil
	})
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64)
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
