package post

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure once, where it happens.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindNotFound: the post is absent in the store.
	KindNotFound
	// KindInsufficientCache is internal only; it routes a read to the store.
	KindInsufficientCache
	// KindStoreUnavailable is fatal to the request.
	KindStoreUnavailable
	// KindCacheUnavailable is recovered locally by degrading to the store path.
	KindCacheUnavailable
	KindConflict
	KindInvalidInput
	KindForbidden
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInsufficientCache:
		return "insufficient_cache"
	case KindStoreUnavailable:
		return "store_unavailable"
	case KindCacheUnavailable:
		return "cache_unavailable"
	case KindConflict:
		return "conflict"
	case KindInvalidInput:
		return "invalid_input"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Error is the single error value produced by the post stack.
type Error struct {
	Kind ErrorKind
	Op   string
	// Field names the unique constraint or input field involved, if any.
	Field string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

var (
	// ErrCacheAbsent: the ranked set or snapshot does not exist (never built or expired).
	ErrCacheAbsent = errors.New("ranked cache absent")
	// ErrSnapshotDiverged: the ranked set references ids missing from the snapshot.
	ErrSnapshotDiverged = errors.New("ranked set and snapshot diverged")
	// ErrNotCached: the id is not in the ranked set.
	ErrNotCached = errors.New("post not cached")
)

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func NotFound(op string, id int64) error {
	return newError(KindNotFound, op, fmt.Errorf("post %d not found", id))
}

func Insufficient(op string) error {
	return newError(KindInsufficientCache, op, nil)
}

func StoreUnavailable(op string, err error) error {
	return newError(KindStoreUnavailable, op, err)
}

func CacheUnavailable(op string, err error) error {
	return newError(KindCacheUnavailable, op, err)
}

func Conflict(op, field string) error {
	return &Error{Kind: KindConflict, Op: op, Field: field, Err: fmt.Errorf("%s already taken", field)}
}

func InvalidInput(op, field, msg string) error {
	return &Error{Kind: KindInvalidInput, Op: op, Field: field, Err: errors.New(msg)}
}

func Forbidden(op string) error {
	return newError(KindForbidden, op, errors.New("operation not permitted for principal"))
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
