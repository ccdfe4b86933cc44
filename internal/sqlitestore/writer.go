package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lslebodn/assayist/graph"
	"github.com/lslebodn/assayist/internal/cas"
	"github.com/lslebodn/assayist/store"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type writer struct {
	q execer
}

// PutNode inserts a node if it doesn't already exist (idempotent).
func (db *DB) PutNode(ctx context.Context, n *graph.Node) error {
	return writer{q: db.conn}.PutNode(ctx, n)
}

// PutEdge inserts an edge if it doesn't already exist (idempotent).
func (db *DB) PutEdge(ctx context.Context, e graph.Edge) error {
	return writer{q: db.conn}.PutEdge(ctx, e)
}

// Ingest runs fn inside a single transaction. Nothing is written unless fn
// returns nil.
func (db *DB) Ingest(ctx context.Context, fn func(store.Writer) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(writer{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (w writer) PutNode(ctx context.Context, n *graph.Node) error {
	id, err := graph.NodeID(n.Kind, n.Props)
	if err != nil {
		return err
	}
	if n.ID != id {
		return fmt.Errorf("node id %s does not match its natural key (want %s)", n.ID, id)
	}

	props, err := cas.CanonicalJSON(n.Props)
	if err != nil {
		return fmt.Errorf("marshaling props: %w", err)
	}

	createdAt := n.CreatedAt
	if createdAt == 0 {
		createdAt = cas.NowMs()
	}

	_, err = w.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO nodes (id, kind, props, created_at)
		VALUES (?, ?, ?, ?)
	`, n.ID, string(n.Kind), string(props), createdAt)
	if err != nil {
		return fmt.Errorf("inserting node: %w", err)
	}
	return nil
}

func (w writer) PutEdge(ctx context.Context, e graph.Edge) error {
	srcKind, err := w.kindOf(ctx, e.Src)
	if err != nil {
		return err
	}
	dstKind, err := w.kindOf(ctx, e.Dst)
	if err != nil {
		return err
	}
	if err := graph.ValidateEdge(e.Type, srcKind, dstKind); err != nil {
		return err
	}

	createdAt := e.CreatedAt
	if createdAt == 0 {
		createdAt = cas.NowMs()
	}

	_, err = w.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO edges (src, type, dst, created_at)
		VALUES (?, ?, ?, ?)
	`, e.Src, string(e.Type), e.Dst, createdAt)
	if err != nil {
		return fmt.Errorf("inserting edge: %w", err)
	}
	return nil
}

func (w writer) kindOf(ctx context.Context, id string) (graph.NodeKind, error) {
	var kind string
	err := w.q.QueryRowContext(ctx, `SELECT kind FROM nodes WHERE id = ?`, id).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", store.ErrMissingEndpoint, id)
	}
	if err != nil {
		return "", fmt.Errorf("querying node kind: %w", err)
	}
	return graph.NodeKind(kind), nil
}
