package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

// changeChannel is the redis pub/sub channel carrying collection names whose
// contents changed in some process.
const changeChannel = "schedboard:changed"

// SQLiteStore is the durable Store binding: one documents table keyed by
// (collection, id) with JSON field payloads. Live listeners are driven by an
// in-process hub; with a redis client attached, change notifications also fan
// out across processes so every open board re-reads on remote edits.
type SQLiteStore struct {
	db     *sql.DB
	logger *zerolog.Logger

	mu        sync.Mutex
	listeners map[int]*sqliteListener
	nextID    int

	rdb    *redis.Client
	cancel context.CancelFunc
}

type sqliteListener struct {
	collection string
	filters    []filter
	onNext     func(Snapshot)
	onError    func(error)
	closed     bool
	// deliverMu serializes deliveries so one listener sees snapshots in order.
	deliverMu sync.Mutex
}

// OpenSQLite opens (or creates) the documents database at path.
func OpenSQLite(path string, logger *zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		fields TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	)`); err != nil {
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection)`); err != nil {
		return nil, fmt.Errorf("create collection index: %w", err)
	}
	return &SQLiteStore{
		db:        db,
		logger:    logger,
		listeners: make(map[int]*sqliteListener),
	}, nil
}

// UseRedisFanout attaches a redis client: local commits publish changed
// collection names, and a subscriber goroutine re-notifies local listeners
// when another process publishes.
func (s *SQLiteStore) UseRedisFanout(rdb *redis.Client) {
	ctx, cancel := context.WithCancel(context.Background())
	s.rdb = rdb
	s.cancel = cancel

	sub := rdb.Subscribe(ctx, changeChannel)
	go func() {
		for msg := range sub.Channel() {
			s.notify(msg.Payload)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()
}

// Close tears down the fan-out subscriber and the database handle.
func (s *SQLiteStore) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.db.Close()
}

func (s *SQLiteStore) Collection(name string) Collection {
	return &sqliteCollection{store: s, name: name}
}

func (s *SQLiteStore) Batch() Batch {
	return &sqliteBatch{store: s}
}

func (s *SQLiteStore) readCollection(ctx context.Context, collection string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, fields FROM documents WHERE collection = ? ORDER BY id", collection)
	if err != nil {
		return nil, NewError(KindUnavailable, "query "+collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, NewError(KindInternal, "scan "+collection, err)
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return nil, NewError(KindInternal, "decode "+collection+"/"+id, err)
		}
		docs = append(docs, Document{ID: id, Fields: fields})
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) runQuery(ctx context.Context, collection string, filters []filter) ([]Document, error) {
	docs, err := s.readCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	var out []Document
	for _, d := range docs {
		if matchAll(d.Fields, filters) {
			out = append(out, d)
		}
	}
	return out, nil
}

// notify re-runs every listener's query on the changed collection and
// delivers fresh snapshots.
func (s *SQLiteStore) notify(collection string) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	targets := make([]*sqliteListener, 0, len(ids))
	for _, id := range ids {
		if l := s.listeners[id]; l.collection == collection && !l.closed {
			targets = append(targets, l)
		}
	}
	s.mu.Unlock()

	for _, l := range targets {
		l.deliverMu.Lock()
		docs, err := s.runQuery(context.Background(), collection, l.filters)
		if err != nil {
			l.onError(err)
		} else {
			l.onNext(Snapshot{Docs: docs})
		}
		l.deliverMu.Unlock()
	}
}

// changed publishes a local mutation to the fan-out channel and notifies
// local listeners.
func (s *SQLiteStore) changed(collections map[string]bool) {
	for col := range collections {
		s.notify(col)
		if s.rdb != nil {
			if err := s.rdb.Publish(context.Background(), changeChannel, col).Err(); err != nil && s.logger != nil {
				s.logger.Warn().Err(err).Str("collection", col).Msg("fanout publish failed")
			}
		}
	}
}

type sqliteCollection struct {
	store   *SQLiteStore
	name    string
	filters []filter
}

func (c *sqliteCollection) Where(field, op string, value any) Query {
	next := &sqliteCollection{store: c.store, name: c.name}
	next.filters = append(append([]filter(nil), c.filters...), filter{field, op, value})
	return next
}

func (c *sqliteCollection) Get(ctx context.Context) ([]Document, error) {
	return c.store.runQuery(ctx, c.name, c.filters)
}

func (c *sqliteCollection) OnSnapshot(onNext func(Snapshot), onError func(error)) func() {
	s := c.store
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	l := &sqliteListener{collection: c.name, filters: c.filters, onNext: onNext, onError: onError}
	s.listeners[id] = l
	s.mu.Unlock()

	l.deliverMu.Lock()
	docs, err := s.runQuery(context.Background(), c.name, c.filters)
	if err != nil {
		onError(err)
	} else {
		onNext(Snapshot{Docs: docs})
	}
	l.deliverMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			l.closed = true
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (c *sqliteCollection) Doc(id string) Doc {
	return &sqliteDoc{store: c.store, collection: c.name, id: id}
}

type sqliteDoc struct {
	store      *SQLiteStore
	collection string
	id         string
}

func (d *sqliteDoc) Get(ctx context.Context) (Document, error) {
	var raw string
	err := d.store.db.QueryRowContext(ctx,
		"SELECT fields FROM documents WHERE collection = ? AND id = ?",
		d.collection, d.id).Scan(&raw)
	if err == sql.ErrNoRows {
		return Document{}, NewError(KindNotFound, "doc get "+d.collection+"/"+d.id, nil)
	}
	if err != nil {
		return Document{}, NewError(KindUnavailable, "doc get "+d.collection+"/"+d.id, err)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return Document{}, NewError(KindInternal, "decode "+d.collection+"/"+d.id, err)
	}
	return Document{ID: d.id, Fields: fields}, nil
}

func (d *sqliteDoc) Set(ctx context.Context, fields map[string]any, merge bool) error {
	if merge {
		existing, err := d.Get(ctx)
		if err == nil {
			for k, v := range fields {
				existing.Fields[k] = v
			}
			fields = existing.Fields
		} else if !IsNotFound(err) {
			return err
		}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return NewError(KindInternal, "encode "+d.collection+"/"+d.id, err)
	}
	_, err = d.store.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, fields) VALUES (?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET fields = excluded.fields`,
		d.collection, d.id, string(raw))
	if err != nil {
		return NewError(KindUnavailable, "doc set "+d.collection+"/"+d.id, err)
	}
	d.store.changed(map[string]bool{d.collection: true})
	return nil
}

func (d *sqliteDoc) Delete(ctx context.Context) error {
	_, err := d.store.db.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = ? AND id = ?", d.collection, d.id)
	if err != nil {
		return NewError(KindUnavailable, "doc delete "+d.collection+"/"+d.id, err)
	}
	d.store.changed(map[string]bool{d.collection: true})
	return nil
}

type batchOp struct {
	collection string
	id         string
	fields     map[string]any
	merge      bool
	delete     bool
}

type sqliteBatch struct {
	store *SQLiteStore
	ops   []batchOp
}

func (b *sqliteBatch) Set(collection, id string, fields map[string]any, merge bool) {
	b.ops = append(b.ops, batchOp{collection: collection, id: id, fields: CloneFields(fields), merge: merge})
}

func (b *sqliteBatch) Delete(collection, id string) {
	b.ops = append(b.ops, batchOp{collection: collection, id: id, delete: true})
}

func (b *sqliteBatch) Len() int { return len(b.ops) }

func (b *sqliteBatch) Commit(ctx context.Context) error {
	if len(b.ops) > MaxBatchOps {
		return NewError(KindFailedPrecondition, "batch commit",
			fmt.Errorf("%d ops exceeds provider limit of %d", len(b.ops), MaxBatchOps))
	}
	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return NewError(KindUnavailable, "batch begin", err)
	}
	defer tx.Rollback()

	changed := make(map[string]bool)
	for _, op := range b.ops {
		changed[op.collection] = true
		if op.delete {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM documents WHERE collection = ? AND id = ?", op.collection, op.id); err != nil {
				return NewError(KindUnavailable, "batch delete", err)
			}
			continue
		}
		fields := op.fields
		if op.merge {
			var raw string
			err := tx.QueryRowContext(ctx,
				"SELECT fields FROM documents WHERE collection = ? AND id = ?",
				op.collection, op.id).Scan(&raw)
			if err == nil {
				var existing map[string]any
				if err := json.Unmarshal([]byte(raw), &existing); err == nil {
					for k, v := range fields {
						existing[k] = v
					}
					fields = existing
				}
			} else if err != sql.ErrNoRows {
				return NewError(KindUnavailable, "batch merge read", err)
			}
		}
		enc, err := json.Marshal(fields)
		if err != nil {
			return NewError(KindInternal, "batch encode", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, fields) VALUES (?, ?, ?)
			ON CONFLICT(collection, id) DO UPDATE SET fields = excluded.fields`,
			op.collection, op.id, string(enc)); err != nil {
			return NewError(KindUnavailable, "batch set", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return NewError(KindUnavailable, "batch commit", err)
	}
	b.ops = nil
	b.store.changed(changed)
	return nil
}
