package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/decisiongraph/core/pkg/canonical"
	"github.com/decisiongraph/core/pkg/cell"
	"github.com/decisiongraph/core/pkg/chain"
	"github.com/decisiongraph/core/pkg/dgerr"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cells (
	position   INTEGER PRIMARY KEY,
	cell_id    TEXT NOT NULL UNIQUE,
	cell_type  TEXT NOT NULL,
	namespace  TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	body       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cells_type ON cells(cell_type);
CREATE INDEX IF NOT EXISTS idx_cells_namespace ON cells(namespace);
`

// SQLiteStore persists a chain in an embedded SQLite database. The chain is
// single-writer, so the store serializes appends behind one mutex rather
// than relying on database-level locking.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the store at path. ":memory:" gives
// an ephemeral store for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, dgerr.Wrap(dgerr.KindInternal, "open sqlite store", err)
	}
	// The append path is strictly serialized; one connection keeps the
	// in-memory variant coherent as well.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, dgerr.Wrap(dgerr.KindInternal, "apply sqlite schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return dgerr.Wrap(dgerr.KindInternal, "close sqlite store", err)
	}
	return nil
}

// AppendCell persists one committed cell at the next position.
func (s *SQLiteStore) AppendCell(ctx context.Context, cl *cell.Cell) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := canonical.Marshal(cl)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cells (position, cell_id, cell_type, namespace, timestamp, body)
		VALUES ((SELECT COALESCE(MAX(position), -1) + 1 FROM cells), ?, ?, ?, ?, ?)`,
		cl.CellID, string(cl.Header.CellType), cl.Fact.Namespace, cl.Header.Timestamp, string(body),
	)
	if err != nil {
		return dgerr.Wrap(dgerr.KindInternal, "insert cell", err)
	}
	return nil
}

// Load replays every stored cell in position order through a fresh chain's
// commit gate.
func (s *SQLiteStore) Load(ctx context.Context, graphID string) (*chain.Chain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT body FROM cells ORDER BY position ASC`)
	if err != nil {
		return nil, dgerr.Wrap(dgerr.KindInternal, "query cells", err)
	}
	defer func() { _ = rows.Close() }()

	ch := chain.New(graphID)
	pos := 0
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, dgerr.Wrap(dgerr.KindInternal, "scan cell row", err)
		}
		var cl cell.Cell
		if err := json.Unmarshal([]byte(body), &cl); err != nil {
			return nil, dgerr.Wrap(dgerr.KindIntegrityFail, "malformed stored cell", err).
				WithDetail("position", pos)
		}
		if err := ch.Append(&cl); err != nil {
			return nil, dgerr.AsError(err).WithDetail("position", pos)
		}
		pos++
	}
	if err := rows.Err(); err != nil {
		return nil, dgerr.Wrap(dgerr.KindInternal, "iterate cells", err)
	}
	return ch, nil
}

// Count returns the number of stored cells.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cells`).Scan(&n); err != nil {
		return 0, dgerr.Wrap(dgerr.KindInternal, "count cells", err)
	}
	return n, nil
}
