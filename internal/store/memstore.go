package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemStore is the in-memory Store binding. Listeners are notified
// synchronously from the mutating call, in registration order, so tests see
// deterministic snapshot delivery.
type MemStore struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]any
	listeners   map[int]*memListener
	nextID      int
}

type memListener struct {
	collection string
	filters    []filter
	onNext     func(Snapshot)
	onError    func(error)
	closed     bool
}

type filter struct {
	field string
	op    string
	value any
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		collections: make(map[string]map[string]map[string]any),
		listeners:   make(map[int]*memListener),
	}
}

func (s *MemStore) Collection(name string) Collection {
	return &memCollection{store: s, name: name}
}

func (s *MemStore) Batch() Batch {
	return &memBatch{store: s}
}

// EmitError delivers err to every live listener on the collection. Test hook
// standing in for the provider reporting a subscription failure.
func (s *MemStore) EmitError(collection string, err error) {
	s.mu.Lock()
	var targets []*memListener
	for _, l := range s.listeners {
		if l.collection == collection && !l.closed {
			targets = append(targets, l)
		}
	}
	s.mu.Unlock()
	for _, l := range targets {
		l.onError(err)
	}
}

// ListenerCount reports live listeners on the collection.
func (s *MemStore) ListenerCount(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.listeners {
		if l.collection == collection && !l.closed {
			n++
		}
	}
	return n
}

func (s *MemStore) docs(collection string) map[string]map[string]any {
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]map[string]any)
	}
	return s.collections[collection]
}

// runQuery evaluates filters over a collection under the store lock.
func (s *MemStore) runQuery(collection string, filters []filter) []Document {
	var out []Document
	for id, fields := range s.docs(collection) {
		if matchAll(fields, filters) {
			out = append(out, Document{ID: id, Fields: CloneFields(fields)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func matchAll(fields map[string]any, filters []filter) bool {
	for _, f := range filters {
		v, ok := fields[f.field]
		if !ok || !matchFilter(v, f.op, f.value) {
			return false
		}
	}
	return true
}

// notify re-evaluates every listener on the collection and delivers the full
// current result set.
func (s *MemStore) notify(collection string) {
	s.mu.Lock()
	type delivery struct {
		l    *memListener
		snap Snapshot
	}
	var deliveries []delivery
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		l := s.listeners[id]
		if l.collection != collection || l.closed {
			continue
		}
		deliveries = append(deliveries, delivery{l, Snapshot{Docs: s.runQuery(collection, l.filters)}})
	}
	s.mu.Unlock()
	for _, d := range deliveries {
		d.l.onNext(d.snap)
	}
}

type memCollection struct {
	store   *MemStore
	name    string
	filters []filter
}

func (c *memCollection) Where(field, op string, value any) Query {
	next := &memCollection{store: c.store, name: c.name}
	next.filters = append(append([]filter(nil), c.filters...), filter{field, op, value})
	return next
}

func (c *memCollection) Get(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewError(KindDeadlineExceeded, "get "+c.name, err)
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.store.runQuery(c.name, c.filters), nil
}

func (c *memCollection) OnSnapshot(onNext func(Snapshot), onError func(error)) func() {
	s := c.store
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	l := &memListener{collection: c.name, filters: c.filters, onNext: onNext, onError: onError}
	s.listeners[id] = l
	initial := Snapshot{Docs: s.runQuery(c.name, c.filters)}
	s.mu.Unlock()

	onNext(initial)

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

func (c *memCollection) Doc(id string) Doc {
	return &memDoc{store: c.store, collection: c.name, id: id}
}

type memDoc struct {
	store      *MemStore
	collection string
	id         string
}

func (d *memDoc) Get(ctx context.Context) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, NewError(KindDeadlineExceeded, "doc get", err)
	}
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	fields, ok := d.store.docs(d.collection)[d.id]
	if !ok {
		return Document{}, NewError(KindNotFound, "doc get "+d.collection+"/"+d.id, nil)
	}
	return Document{ID: d.id, Fields: CloneFields(fields)}, nil
}

func (d *memDoc) Set(ctx context.Context, fields map[string]any, merge bool) error {
	if err := ctx.Err(); err != nil {
		return NewError(KindDeadlineExceeded, "doc set", err)
	}
	d.store.mu.Lock()
	d.store.applySet(d.collection, d.id, fields, merge)
	d.store.mu.Unlock()
	d.store.notify(d.collection)
	return nil
}

func (d *memDoc) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return NewError(KindDeadlineExceeded, "doc delete", err)
	}
	d.store.mu.Lock()
	delete(d.store.docs(d.collection), d.id)
	d.store.mu.Unlock()
	d.store.notify(d.collection)
	return nil
}

func (s *MemStore) applySet(collection, id string, fields map[string]any, merge bool) {
	docs := s.docs(collection)
	if merge {
		if existing, ok := docs[id]; ok {
			merged := CloneFields(existing)
			for k, v := range fields {
				merged[k] = v
			}
			docs[id] = merged
			return
		}
	}
	docs[id] = CloneFields(fields)
}

type memBatch struct {
	store *MemStore
	ops   []func()
	cols  map[string]bool
	n     int
}

func (b *memBatch) Set(collection, id string, fields map[string]any, merge bool) {
	copied := CloneFields(fields)
	b.ops = append(b.ops, func() { b.store.applySet(collection, id, copied, merge) })
	b.touch(collection)
}

func (b *memBatch) Delete(collection, id string) {
	b.ops = append(b.ops, func() { delete(b.store.docs(collection), id) })
	b.touch(collection)
}

func (b *memBatch) touch(collection string) {
	if b.cols == nil {
		b.cols = make(map[string]bool)
	}
	b.cols[collection] = true
	b.n++
}

func (b *memBatch) Len() int { return b.n }

func (b *memBatch) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return NewError(KindDeadlineExceeded, "batch commit", err)
	}
	if b.n > MaxBatchOps {
		return NewError(KindFailedPrecondition, "batch commit",
			fmt.Errorf("%d ops exceeds provider limit of %d", b.n, MaxBatchOps))
	}
	b.store.mu.Lock()
	for _, op := range b.ops {
		op()
	}
	b.store.mu.Unlock()
	for col := range b.cols {
		b.store.notify(col)
	}
	b.ops, b.cols, b.n = nil, nil, 0
	return nil
}
