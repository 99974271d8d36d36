package module

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tliron/commonlog"

	_ "modernc.org/sqlite"
)

// ErrModuleNotFound indicates the requested module is not in the store.
var ErrModuleNotFound = errors.New("module not found")

var log = commonlog.GetLogger("xvm.module")

// Store persists encoded modules in a SQLite database, keyed by module name.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// StoreEntry describes one stored module without decoding it.
type StoreEntry struct {
	Name    string
	Size    int
	Updated time.Time
}

// OpenStore opens (creating if needed) a module store at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS modules (
		name    TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		data    BLOB NOT NULL,
		updated INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened module store %s", dbPath)
	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put encodes and saves a module, replacing any module with the same name.
func (s *Store) Put(ctx context.Context, m *Module) error {
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := Marshal(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO modules (name, version, data, updated) VALUES (?, ?, ?, ?)",
		m.Name, FormatVersion, data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving module %s: %w", m.Name, err)
	}
	return nil
}

// Get loads and decodes the named module.
func (s *Store) Get(ctx context.Context, name string) (*Module, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM modules WHERE name = ?", name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
		}
		return nil, fmt.Errorf("querying module %s: %w", name, err)
	}
	return Unmarshal(data)
}

// List returns all stored modules ordered by name.
func (s *Store) List(ctx context.Context) ([]StoreEntry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, length(data), updated FROM modules ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing modules: %w", err)
	}
	defer rows.Close()

	var entries []StoreEntry
	for rows.Next() {
		var e StoreEntry
		var updated int64
		if err := rows.Scan(&e.Name, &e.Size, &updated); err != nil {
			return nil, fmt.Errorf("scanning module row: %w", err)
		}
		e.Updated = time.Unix(updated, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes the named module.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM modules WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting module %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return nil
}
