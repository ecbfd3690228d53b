package treestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const notifyChannel = "tree_changes"

// PostgresStore implements Store on a single JSONB leaf table. Change
// notifications ride LISTEN/NOTIFY on a dedicated connection so watchers
// see writes from every API instance sharing the database.
type PostgresStore struct {
	db          *sql.DB
	databaseURL string

	mu       sync.Mutex
	watchers map[int]watcher
	nextID   int

	listenCtx    context.Context
	listenCancel context.CancelFunc
}

// OpenPostgres connects, ensures the schema and starts the listener.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := ensureSchema(ctx, db); err != nil {
		return nil, err
	}

	listenCtx, listenCancel := context.WithCancel(context.Background())
	s := &PostgresStore{
		db:           db,
		databaseURL:  databaseURL,
		watchers:     make(map[int]watcher),
		listenCtx:    listenCtx,
		listenCancel: listenCancel,
	}
	go s.listen()
	return s, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tree_nodes (
			path  TEXT PRIMARY KEY,
			value JSONB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure tree_nodes: %w", err)
	}
	return nil
}

// Get returns the subtree rooted at path.
func (s *PostgresStore) Get(ctx context.Context, path string) (Node, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM tree_nodes WHERE path = $1`, path).Scan(&raw)
	if err == nil {
		return decodeLeaf(string(raw)), nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, value FROM tree_nodes WHERE path LIKE $1 ESCAPE '\'`,
		likeEscape(path)+"/%")
	if err != nil {
		return nil, fmt.Errorf("get subtree %s: %w", path, err)
	}
	defer rows.Close()

	root := map[string]Node{}
	found := false
	for rows.Next() {
		var leafPath string
		var leafRaw []byte
		if err := rows.Scan(&leafPath, &leafRaw); err != nil {
			return nil, fmt.Errorf("scan subtree %s: %w", path, err)
		}
		found = true
		insertLeaf(root, leafPath[len(path)+1:], decodeLeaf(string(leafRaw)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subtree %s: %w", path, err)
	}
	if !found {
		return nil, nil
	}
	return root, nil
}

// Set replaces the subtree at path and notifies listeners on commit.
func (s *PostgresStore) Set(ctx context.Context, path string, value any) error {
	leaves := map[string]any{}
	flatten(path, value, leaves)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set %s: %w", path, err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM tree_nodes WHERE path = $1 OR path LIKE $2 ESCAPE '\'`,
		path, likeEscape(path)+"/%")
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear %s: %w", path, err)
	}

	for leafPath, leafValue := range leaves {
		encoded, err := json.Marshal(leafValue)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode %s: %w", leafPath, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tree_nodes (path, value) VALUES ($1, $2)`,
			leafPath, encoded); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert %s: %w", leafPath, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, path); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("notify %s: %w", path, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set %s: %w", path, err)
	}
	return nil
}

// Subscribe registers a watch on path; the callback fires once immediately.
func (s *PostgresStore) Subscribe(path string, fn func()) (func(), error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = watcher{path: path, fn: fn}
	s.mu.Unlock()

	go fn()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	s.listenCancel()
	return s.db.Close()
}

// listen holds the LISTEN connection, reconnecting with backoff until the
// store is closed.
func (s *PostgresStore) listen() {
	for {
		if s.listenCtx.Err() != nil {
			return
		}
		if err := s.listenOnce(); err != nil && s.listenCtx.Err() == nil {
			log.Printf("treestore: listener error, reconnecting: %v", err)
			time.Sleep(time.Second)
		}
	}
}

func (s *PostgresStore) listenOnce() error {
	conn, err := pgx.Connect(s.listenCtx, s.databaseURL)
	if err != nil {
		return fmt.Errorf("listener connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(s.listenCtx, `LISTEN `+notifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	for {
		notification, err := conn.WaitForNotification(s.listenCtx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		s.fanout(notification.Payload)
	}
}

func (s *PostgresStore) fanout(changed string) {
	s.mu.Lock()
	var fns []func()
	for _, w := range s.watchers {
		if pathsOverlap(changed, w.path) {
			fns = append(fns, w.fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		go fn()
	}
}

func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
