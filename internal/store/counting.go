package store

import (
	"context"
	"sync/atomic"

	"github.com/takanerehabili-creator/Completed-version-sub000/internal/metrics"
)

// CountingStore decorates a Store and counts reads and snapshot deliveries.
// It is a wrapper built at composition time; the wrapped binding is never
// mutated.
type CountingStore struct {
	inner Store

	reads     atomic.Int64
	snapshots atomic.Int64
}

// NewCountingStore wraps inner.
func NewCountingStore(inner Store) *CountingStore {
	return &CountingStore{inner: inner}
}

// Reads reports the number of Get calls issued so far.
func (s *CountingStore) Reads() int64 { return s.reads.Load() }

// Snapshots reports the number of snapshot deliveries observed so far.
func (s *CountingStore) Snapshots() int64 { return s.snapshots.Load() }

func (s *CountingStore) Collection(name string) Collection {
	return &countingCollection{store: s, name: name, inner: s.inner.Collection(name)}
}

func (s *CountingStore) Batch() Batch {
	return s.inner.Batch()
}

type countingCollection struct {
	store *CountingStore
	name  string
	inner Collection
}

func (c *countingCollection) Where(field, op string, value any) Query {
	return &countingQuery{store: c.store, name: c.name, inner: c.inner.Where(field, op, value)}
}

func (c *countingCollection) Get(ctx context.Context) ([]Document, error) {
	c.store.reads.Add(1)
	metrics.IncStoreRead(c.name)
	return c.inner.Get(ctx)
}

func (c *countingCollection) OnSnapshot(onNext func(Snapshot), onError func(error)) func() {
	return c.inner.OnSnapshot(func(snap Snapshot) {
		c.store.snapshots.Add(1)
		onNext(snap)
	}, onError)
}

func (c *countingCollection) Doc(id string) Doc {
	return &countingDoc{store: c.store, name: c.name, inner: c.inner.Doc(id)}
}

type countingQuery struct {
	store *CountingStore
	name  string
	inner Query
}

func (q *countingQuery) Where(field, op string, value any) Query {
	return &countingQuery{store: q.store, name: q.name, inner: q.inner.Where(field, op, value)}
}

func (q *countingQuery) Get(ctx context.Context) ([]Document, error) {
	q.store.reads.Add(1)
	metrics.IncStoreRead(q.name)
	return q.inner.Get(ctx)
}

func (q *countingQuery) OnSnapshot(onNext func(Snapshot), onError func(error)) func() {
	return q.inner.OnSnapshot(func(snap Snapshot) {
		q.store.snapshots.Add(1)
		onNext(snap)
	}, onError)
}

type countingDoc struct {
	store *CountingStore
	name  string
	inner Doc
}

func (d *countingDoc) Get(ctx context.Context) (Document, error) {
	d.store.reads.Add(1)
	metrics.IncStoreRead(d.name)
	return d.inner.Get(ctx)
}

func (d *countingDoc) Set(ctx context.Context, fields map[string]any, merge bool) error {
	return d.inner.Set(ctx, fields, merge)
}

func (d *countingDoc) Delete(ctx context.Context) error {
	return d.inner.Delete(ctx)
}
