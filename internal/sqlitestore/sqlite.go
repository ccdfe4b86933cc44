// Package sqlitestore provides a SQLite-backed provenance graph store.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/lslebodn/assayist/graph"
	"github.com/lslebodn/assayist/store"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

const defaultCacheSize = 4096

// Options configures a DB.
type Options struct {
	// CacheSize bounds the node cache. Zero uses the default, negative disables it.
	CacheSize int
	// Logger receives debug output about executed traversals. Optional.
	Logger *logrus.Logger
}

// DB wraps a SQLite connection pool holding a provenance graph.
//
// Nodes are immutable once written, so they are cached by id. Cached nodes are
// shared and must not be modified by callers.
type DB struct {
	conn  *sql.DB
	path  string
	cache *lru.Cache[string, *graph.Node]
	log   *logrus.Logger
}

var (
	_ store.Store  = (*DB)(nil)
	_ store.Writer = (*DB)(nil)
)

// Open opens or creates the database at dbPath and applies the schema.
func Open(dbPath string, opts Options) (*DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		conn.SetMaxOpenConns(1)
	}

	// Fail early if connection is bad
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	db := &DB{conn: conn, path: dbPath, log: opts.Logger}
	if db.log == nil {
		db.log = logrus.New()
		db.log.SetOutput(io.Discard)
	}

	size := opts.CacheSize
	if size == 0 {
		size = defaultCacheSize
	}
	if size > 0 {
		db.cache, err = lru.New[string, *graph.Node](size)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("creating node cache: %w", err)
		}
	}

	return db, nil
}

// dsn turns pragmas.sql into _pragma parameters so that every connection in
// the pool gets them, not only the first one.
func dsn(path string) string {
	q := url.Values{}
	for _, line := range strings.Split(pragmasSQL, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		line = strings.TrimSuffix(strings.TrimPrefix(line, "PRAGMA "), ";")
		name, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		q.Add("_pragma", fmt.Sprintf("%s(%s)", name, val))
	}
	return "file:" + path + "?" + q.Encode()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// ----- Reads -----

// Match returns every node of kind whose properties equal all of props.
func (db *DB) Match(ctx context.Context, kind graph.NodeKind, props map[string]string) ([]*graph.Node, error) {
	want := store.Hop{Kind: kind, Where: props}

	if id, ok := keyedID(kind, props); ok {
		nodes, err := db.getNodes(ctx, []string{id})
		if err != nil {
			return nil, err
		}
		return filterNodes(nodes, want), nil
	}

	where, args := nodeFilter("n", want)
	rows, err := db.conn.QueryContext(ctx,
		`SELECT n.id, n.kind, n.props, n.created_at FROM nodes n`+where+` ORDER BY n.id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("matching %s nodes: %w", kind, err)
	}
	defer rows.Close()

	return db.collectNodes(rows)
}

// MatchAny returns every node of kind whose prop is one of values.
func (db *DB) MatchAny(ctx context.Context, kind graph.NodeKind, prop string, values []string) ([]*graph.Node, error) {
	values = dedupe(values)
	if len(values) == 0 {
		return nil, nil
	}

	if key := graph.NaturalKey(kind); len(key) == 1 && key[0] == prop {
		ids := make([]string, 0, len(values))
		for _, v := range values {
			id, err := graph.NodeID(kind, map[string]string{prop: v})
			if err != nil {
				// An empty key can never match a stored node.
				continue
			}
			ids = append(ids, id)
		}
		return db.getNodes(ctx, ids)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, kind, props, created_at FROM nodes
		WHERE kind = ? AND json_extract(props, ?) IN (SELECT value FROM json_each(?))
		ORDER BY id
	`, string(kind), jsonPath(prop), jsonArray(values))
	if err != nil {
		return nil, fmt.Errorf("matching %s nodes by %s: %w", kind, prop, err)
	}
	defer rows.Close()

	return db.collectNodes(rows)
}

// Neighbors follows exactly one hop from each origin.
func (db *DB) Neighbors(ctx context.Context, from []string, hop store.Hop) (map[string][]*graph.Node, error) {
	out := make(map[string][]*graph.Node)
	from = dedupe(from)
	if len(from) == 0 {
		return out, nil
	}

	seeds := jsonArray(from)
	var legs []string
	var args []any
	if hop.Direction == store.Outgoing || hop.Direction == store.Both {
		legs = append(legs, `SELECT e.src AS origin, e.dst AS target FROM edges e
			WHERE e.type = ? AND e.src IN (SELECT value FROM json_each(?))`)
		args = append(args, string(hop.Edge), seeds)
	}
	if hop.Direction == store.Incoming || hop.Direction == store.Both {
		legs = append(legs, `SELECT e.dst AS origin, e.src AS target FROM edges e
			WHERE e.type = ? AND e.dst IN (SELECT value FROM json_each(?))`)
		args = append(args, string(hop.Edge), seeds)
	}
	if len(legs) == 0 {
		return nil, fmt.Errorf("unsupported direction %s", hop.Direction)
	}

	where, fargs := nodeFilter("n", hop)
	args = append(args, fargs...)

	rows, err := db.conn.QueryContext(ctx, `
		SELECT DISTINCT n.id, n.kind, n.props, n.created_at, h.origin
		FROM (`+strings.Join(legs, " UNION ALL ")+`) h
		JOIN nodes n ON n.id = h.target`+where+`
		ORDER BY h.origin, n.id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s neighbors: %w", hop.Edge, err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var origin string
		n, err := scanNode(rows, &origin)
		if err != nil {
			return nil, err
		}
		out[origin] = append(out[origin], db.remember(n))
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s neighbors: %w", hop.Edge, err)
	}

	db.log.WithFields(logrus.Fields{
		"edge":    hop.Edge,
		"dir":     hop.Direction,
		"origins": len(from),
		"rows":    count,
	}).Debug("neighbors")

	return out, nil
}

// Reach walks path.Edge between MinHops and MaxHops times using a recursive
// CTE. The depth bound guarantees termination on cyclic data.
func (db *DB) Reach(ctx context.Context, from []string, path store.Path) ([]store.Reached, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	from = dedupe(from)
	if len(from) == 0 {
		return nil, nil
	}

	args := []any{jsonArray(from)}
	var steps []string
	if path.Direction == store.Outgoing || path.Direction == store.Both {
		steps = append(steps, `SELECT e.dst, w.depth + 1 FROM walk w
			JOIN edges e ON e.src = w.id AND e.type = ? WHERE w.depth < ?`)
		args = append(args, string(path.Edge), path.MaxHops)
	}
	if path.Direction == store.Incoming || path.Direction == store.Both {
		steps = append(steps, `SELECT e.src, w.depth + 1 FROM walk w
			JOIN edges e ON e.dst = w.id AND e.type = ? WHERE w.depth < ?`)
		args = append(args, string(path.Edge), path.MaxHops)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("unsupported direction %s", path.Direction)
	}

	where, fargs := nodeFilter("n", path.Hop)
	if where == "" {
		where = " WHERE w.depth >= ?"
	} else {
		where += " AND w.depth >= ?"
	}
	args = append(args, fargs...)
	args = append(args, path.MinHops)

	rows, err := db.conn.QueryContext(ctx, `
		WITH RECURSIVE walk(id, depth) AS (
			SELECT value, 0 FROM json_each(?)
			UNION `+strings.Join(steps, " UNION ")+`
		)
		SELECT n.id, n.kind, n.props, n.created_at, MIN(w.depth) AS depth
		FROM walk w JOIN nodes n ON n.id = w.id`+where+`
		GROUP BY n.id
		ORDER BY depth, n.id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", path.Edge, err)
	}
	defer rows.Close()

	var out []store.Reached
	for rows.Next() {
		var depth int
		n, err := scanNode(rows, &depth)
		if err != nil {
			return nil, err
		}
		out = append(out, store.Reached{Node: db.remember(n), Depth: depth})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s walk: %w", path.Edge, err)
	}

	db.log.WithFields(logrus.Fields{
		"edge":    path.Edge,
		"dir":     path.Direction,
		"hops":    fmt.Sprintf("%d..%d", path.MinHops, path.MaxHops),
		"origins": len(from),
		"reached": len(out),
	}).Debug("reach")

	return out, nil
}

// Counts returns the number of nodes per kind and edges per type.
func (db *DB) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM nodes GROUP BY kind
		UNION ALL
		SELECT type, COUNT(*) FROM edges GROUP BY type
	`)
	if err != nil {
		return nil, fmt.Errorf("counting graph: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

// getNodes loads nodes by id, serving what it can from the cache.
func (db *DB) getNodes(ctx context.Context, ids []string) ([]*graph.Node, error) {
	var out []*graph.Node
	var missing []string
	for _, id := range dedupe(ids) {
		if db.cache != nil {
			if n, ok := db.cache.Get(id); ok {
				out = append(out, n)
				continue
			}
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		rows, err := db.conn.QueryContext(ctx, `
			SELECT id, kind, props, created_at FROM nodes
			WHERE id IN (SELECT value FROM json_each(?))
		`, jsonArray(missing))
		if err != nil {
			return nil, fmt.Errorf("querying nodes: %w", err)
		}
		defer rows.Close()

		loaded, err := db.collectNodes(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, loaded...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (db *DB) collectNodes(rows *sql.Rows) ([]*graph.Node, error) {
	var nodes []*graph.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, db.remember(n))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading nodes: %w", err)
	}
	return nodes, nil
}

// remember caches n, returning the cached copy when one already exists.
func (db *DB) remember(n *graph.Node) *graph.Node {
	if db.cache == nil {
		return n
	}
	if cached, ok := db.cache.Get(n.ID); ok {
		return cached
	}
	db.cache.Add(n.ID, n)
	return n
}

type scanner interface {
	Scan(dest ...any) error
}

// scanNode reads id, kind, props, created_at followed by any extra columns.
func scanNode(s scanner, extra ...any) (*graph.Node, error) {
	var n graph.Node
	var kind, props string
	dest := append([]any{&n.ID, &kind, &props, &n.CreatedAt}, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scanning node: %w", err)
	}
	n.Kind = graph.NodeKind(kind)
	if err := json.Unmarshal([]byte(props), &n.Props); err != nil {
		return nil, fmt.Errorf("unmarshaling props of %s: %w", n.ID, err)
	}
	return &n, nil
}

// keyedID returns the node id when props carry every natural key property.
func keyedID(kind graph.NodeKind, props map[string]string) (string, bool) {
	key := graph.NaturalKey(kind)
	if len(key) == 0 {
		return "", false
	}
	for _, k := range key {
		if _, ok := props[k]; !ok {
			return "", false
		}
	}
	id, err := graph.NodeID(kind, props)
	if err != nil {
		return "", false
	}
	return id, true
}

// nodeFilter renders the target pattern of a hop as a WHERE clause over alias.
func nodeFilter(alias string, hop store.Hop) (string, []any) {
	var conds []string
	var args []any
	if hop.Kind != "" {
		conds = append(conds, alias+".kind = ?")
		args = append(args, string(hop.Kind))
	}
	keys := make([]string, 0, len(hop.Where))
	for k := range hop.Where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		conds = append(conds, "IFNULL(json_extract("+alias+".props, ?), '') = ?")
		args = append(args, jsonPath(k), hop.Where[k])
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func filterNodes(nodes []*graph.Node, hop store.Hop) []*graph.Node {
	var out []*graph.Node
	for _, n := range nodes {
		if hop.Matches(n) {
			out = append(out, n)
		}
	}
	return out
}

func jsonPath(key string) string {
	return fmt.Sprintf("$.%q", key)
}

func jsonArray(values []string) string {
	data, _ := json.Marshal(values)
	return string(data)
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
