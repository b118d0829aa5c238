// Package store defines the document-store contract the scheduling engine
// consumes: named collections with composable equality/range filters, live
// snapshot listeners delivering the full result set on every change, and
// atomically committed batches with a provider-side op cap.
package store

import (
	"context"
	"errors"
	"fmt"
)

// MaxBatchOps is the provider-side limit on operations per committed batch.
// Large deletes must chunk around it.
const MaxBatchOps = 500

// Document is one record: an id plus its field map.
type Document struct {
	ID     string
	Fields map[string]any
}

// Snapshot carries the full current result set of a subscribed query,
// not a diff.
type Snapshot struct {
	Docs []Document
}

// Query is a filtered read over a collection. Where returns a narrowed copy;
// the receiver is unchanged.
type Query interface {
	Where(field, op string, value any) Query
	Get(ctx context.Context) ([]Document, error)
	// OnSnapshot registers a live listener. onNext fires with the current
	// result set immediately and again after every matching change; onError
	// receives subscription failures. The returned unsubscribe is idempotent.
	OnSnapshot(onNext func(Snapshot), onError func(error)) (unsubscribe func())
}

// Collection is a named document set. It is itself an unfiltered Query.
type Collection interface {
	Query
	Doc(id string) Doc
}

// Doc addresses a single document.
type Doc interface {
	Get(ctx context.Context) (Document, error)
	Set(ctx context.Context, fields map[string]any, merge bool) error
	Delete(ctx context.Context) error
}

// Batch accumulates writes committed atomically.
type Batch interface {
	Set(collection, id string, fields map[string]any, merge bool)
	Delete(collection, id string)
	Len() int
	Commit(ctx context.Context) error
}

// Store is the root handle.
type Store interface {
	Collection(name string) Collection
	Batch() Batch
}

// Kind classifies store errors the way the provider reports them.
type Kind string

const (
	KindUnavailable        Kind = "unavailable"
	KindFailedPrecondition Kind = "failed-precondition"
	KindUnauthenticated    Kind = "unauthenticated"
	KindDeadlineExceeded   Kind = "deadline-exceeded"
	KindPermissionDenied   Kind = "permission-denied"
	KindNotFound           Kind = "not-found"
	KindInternal           Kind = "internal"
)

// Error is a store failure with its provider kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("store: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified store error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind of a store error, KindInternal for anything else.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsTransient reports whether the error kind is one of the fixed set that
// warrants an automatic subscription reconnect. Everything else, notably
// permission-denied, is permanent.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindUnavailable, KindFailedPrecondition, KindUnauthenticated, KindDeadlineExceeded:
		return true
	}
	return false
}

// IsNotFound reports whether the error is a missing-document error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// matchFilter evaluates one where-filter against a field value. Values the
// comparison cannot order never satisfy a relational op.
func matchFilter(value any, op string, want any) bool {
	cmp, ordered := compare(value, want)
	if !ordered {
		return false
	}
	switch op {
	case "==":
		return cmp == 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

// compare orders two field values. Strings order lexically (the engine's
// dates are ISO strings, so this is also date order); numbers numerically.
// The second result is false for mismatched or unordered types, except
// trivially equal comparable values.
func compare(a, b any) (int, bool) {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			switch {
			case as < bs:
				return -1, true
			case as > bs:
				return 1, true
			}
			return 0, true
		}
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	if a == b {
		return 0, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// CloneFields deep-copies a document field map one level down, enough for
// the flat field sets this engine persists (slices are copied, nested maps
// are not used).
func CloneFields(f map[string]any) map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		if s, ok := v.([]any); ok {
			out[k] = append([]any(nil), s...)
			continue
		}
		out[k] = v
	}
	return out
}
