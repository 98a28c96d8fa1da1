// Package graphstore maintains a SQLite-backed index over a Plan's item
// dependency edges. It is a derived cache, not a source of truth: the
// authoritative plan lives in plan.json via statestore, and graphstore
// is rebuilt from it on load. Its only job is answering "which todo
// items have every dependency complete" without an O(n) scan of the
// plan on every dispatch tick as plans grow large.
package graphstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/antigravity-dev/aurelia/internal/model"
)

const (
	pragmaJournalModeWAL = `PRAGMA journal_mode = WAL;`
	pragmaForeignKeysOn  = `PRAGMA foreign_keys = ON;`

	itemTableSchema = `CREATE TABLE IF NOT EXISTS plan_items (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		instruction TEXT NOT NULL DEFAULT '',
		parent_branch TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'todo',
		assigned_candidate_id TEXT NOT NULL DEFAULT '',
		assigned_branch TEXT NOT NULL DEFAULT ''
	);`

	edgeTableSchema = `CREATE TABLE IF NOT EXISTS plan_item_edges (
		item_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (item_id, depends_on_id),
		FOREIGN KEY (item_id) REFERENCES plan_items(id) ON DELETE CASCADE,
		FOREIGN KEY (depends_on_id) REFERENCES plan_items(id) ON DELETE CASCADE
	);`

	insertItemSQL = `INSERT INTO plan_items (
		id, description, instruction, parent_branch, priority, status,
		assigned_candidate_id, assigned_branch
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`

	insertEdgeSQL = `INSERT OR IGNORE INTO plan_item_edges (item_id, depends_on_id) VALUES (?, ?);`

	deleteAllItemsSQL = `DELETE FROM plan_items;`
	deleteAllEdgesSQL = `DELETE FROM plan_item_edges;`

	readyItemsSQL = `SELECT id FROM plan_items AS i
		WHERE lower(i.status) = 'todo'
		  AND NOT EXISTS (
			SELECT 1
			FROM plan_item_edges e
			JOIN plan_items dep ON dep.id = e.depends_on_id
			WHERE e.item_id = i.id
			  AND lower(dep.status) != 'complete'
		)
		ORDER BY i.priority ASC;`
)

// Store is a derived, rebuildable dependency index over a Plan's items.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures its schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("graphstore: open: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, pragmaJournalModeWAL); err != nil {
		return fmt.Errorf("graphstore: set journal mode WAL: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, pragmaForeignKeysOn); err != nil {
		return fmt.Errorf("graphstore: enable foreign keys: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, itemTableSchema); err != nil {
		return fmt.Errorf("graphstore: create plan_items table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, edgeTableSchema); err != nil {
		return fmt.Errorf("graphstore: create plan_item_edges table: %w", err)
	}
	return nil
}

// Rebuild replaces the entire index with plan's current items and
// dependency edges. Called whenever the authoritative plan changes
// (after OnPlanningCompleted, MarkAssigned, OnCandidateCompleted).
func (s *Store) Rebuild(ctx context.Context, plan *model.Plan) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("graphstore: store is not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("graphstore: begin rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteAllEdgesSQL); err != nil {
		return fmt.Errorf("graphstore: clear edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, deleteAllItemsSQL); err != nil {
		return fmt.Errorf("graphstore: clear items: %w", err)
	}

	if plan == nil {
		return tx.Commit()
	}

	for _, item := range plan.Items {
		_, err := tx.ExecContext(ctx, insertItemSQL,
			item.ID,
			item.Description,
			item.Instruction,
			item.ParentBranch,
			item.Priority,
			string(item.Status),
			item.AssignedCandidateID,
			item.AssignedBranch,
		)
		if err != nil {
			return fmt.Errorf("graphstore: insert item %q: %w", item.ID, err)
		}
	}
	for _, item := range plan.Items {
		for _, dep := range item.DependsOn {
			if _, err := tx.ExecContext(ctx, insertEdgeSQL, item.ID, dep); err != nil {
				return fmt.Errorf("graphstore: insert edge %s->%s: %w", item.ID, dep, err)
			}
		}
	}

	return tx.Commit()
}

// ReadyItemIDs returns the IDs of todo items whose dependencies are all
// complete, ordered by ascending priority (lowest number first).
func (s *Store) ReadyItemIDs(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("graphstore: store is not initialized")
	}

	rows, err := s.db.QueryContext(ctx, readyItemsSQL)
	if err != nil {
		return nil, fmt.Errorf("graphstore: query ready items: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("graphstore: scan ready item: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("graphstore: query ready items: %w", err)
	}
	return ids, nil
}

// HasCycle reports whether adding an edge from itemID to dependsOnID
// would create a dependency cycle, via a recursive reachability query
// seeded from the candidate dependency.
func (s *Store) HasCycle(ctx context.Context, itemID, dependsOnID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("graphstore: store is not initialized")
	}
	if itemID == dependsOnID {
		return true, nil
	}

	const cycleCheckSQL = `
		WITH RECURSIVE reachable(item_id) AS (
			SELECT depends_on_id FROM plan_item_edges WHERE item_id = ?
			UNION ALL
			SELECT e.depends_on_id
			FROM plan_item_edges e
			INNER JOIN reachable r ON e.item_id = r.item_id
		)
		SELECT 1 FROM reachable WHERE item_id = ? LIMIT 1;`

	var marker int
	err := s.db.QueryRowContext(ctx, cycleCheckSQL, dependsOnID, itemID).Scan(&marker)
	if err == nil {
		return true, nil
	}
	if err == sql.ErrNoRows {
		return false, nil
	}
	return false, fmt.Errorf("graphstore: cycle check: %w", err)
}
