package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/giantswarm/appmock/internal/core"
	"github.com/giantswarm/appmock/internal/fileutil"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS transitions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	instance_id TEXT    NOT NULL,
	key         TEXT    NOT NULL,
	kind        INTEGER NOT NULL,
	from_state  INTEGER NOT NULL,
	to_state    INTEGER NOT NULL,
	err         TEXT    NOT NULL,
	at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS transitions_instance ON transitions (instance_id, id);
`

const insertTransition = `
INSERT INTO transitions (instance_id, key, kind, from_state, to_state, err, at)
VALUES (?, ?, ?, ?, ?, ?, ?);
`

const selectTransitions = `
SELECT instance_id, key, kind, from_state, to_state, err, at
FROM transitions WHERE instance_id = ? ORDER BY id;
`

const selectFailed = `
SELECT DISTINCT instance_id FROM transitions
WHERE to_state IN (?, ?) ORDER BY instance_id;
`

// Compile-time interface compliance check.
var _ core.TransitionRecorder = (*Journal)(nil)

// Journal is a SQLite-backed core.TransitionRecorder. It is safe for
// concurrent use; writes are serialized on one connection.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path must not be empty")
	}
	if err := fileutil.EnsureDirForFile(path); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)&_pragma=synchronous(NORMAL)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// RecordTransition appends t.
func (j *Journal) RecordTransition(ctx context.Context, t core.Transition) error {
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.ExecContext(ctx, insertTransition,
		t.InstanceID, t.Key, int(t.Kind), int(t.From), int(t.To), t.Err, at.UnixNano())
	if err != nil {
		return fmt.Errorf("record transition of %s: %w", t.InstanceID, err)
	}
	return nil
}

// Transitions returns the transitions of one instance in recording order.
func (j *Journal) Transitions(ctx context.Context, instanceID string) ([]core.Transition, error) {
	rows, err := j.db.QueryContext(ctx, selectTransitions, instanceID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []core.Transition
	for rows.Next() {
		var (
			t              core.Transition
			kind, from, to int
			at             int64
		)
		if err := rows.Scan(&t.InstanceID, &t.Key, &kind, &from, &to, &t.Err, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.Kind = core.Kind(kind)
		t.From = core.State(from)
		t.To = core.State(to)
		t.At = time.Unix(0, at)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return out, nil
}

// Failed returns the ids of instances that ever reached Failed or
// CloseFailed.
func (j *Journal) Failed(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, selectFailed, int(core.StateFailed), int(core.StateCloseFailed))
	if err != nil {
		return nil, fmt.Errorf("query failed instances: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan instance id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
