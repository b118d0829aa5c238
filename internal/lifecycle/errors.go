package lifecycle

import (
	"errors"
	"fmt"

	"github.com/takanerehabili-creator/Completed-version-sub000/internal/model"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/store"
)

// ValidationError rejects a draft locally before it reaches the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError rejects a write that would collide with existing records.
// Conflicts identifies the colliding events when the collision is against
// events; for other record kinds only Reason is set.
type ConflictError struct {
	Reason    string
	Conflicts []model.Event
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) > 0 {
		return fmt.Sprintf("%s: %d conflicting record(s)", e.Reason, len(e.Conflicts))
	}
	return e.Reason
}

// ConcurrentModificationError signals a lost-update race: the stored record
// changed after the caller's edit session began. The caller must decide
// whether to overwrite; the engine never picks a winner.
type ConcurrentModificationError struct {
	Submitted model.Event
	Stored    model.Event
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("event %s was modified at %s, after the edit session began",
		e.Stored.ID, e.Stored.LastModified.Format("15:04:05"))
}

// NotFoundError signals an operation on an id no longer present.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("event %s no longer exists", e.ID)
}

// StoreError wraps a failure from the underlying store. Writes are never
// auto-retried; the caller must re-invoke.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Transient reports whether the underlying store error kind is one the
// provider considers retryable.
func (e *StoreError) Transient() bool { return store.IsTransient(e.Err) }

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsConcurrentModification(err error) bool {
	var target *ConcurrentModificationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}
