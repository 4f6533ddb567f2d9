package store

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// ErrBusy is returned (wrapped) when SQLite's busy-timeout has been exhausted waiting
// for the write lock. Spec section 4.2/7 treats this as the one error a caller should
// retry locally rather than surface as fatal.
var ErrBusy = errors.New("store: busy")

// classifyBusy wraps a raw sqlite3 error as ErrBusy when it is SQLITE_BUSY, so callers
// can use errors.Is(err, store.ErrBusy) without reaching into driver internals.
func classifyBusy(err error) error {
	if err == nil {
		return nil
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) && sqErr.Code == sqlite3.ErrBusy {
		return errBusyWrap{err}
	}
	return err
}

type errBusyWrap struct{ err error }

func (e errBusyWrap) Error() string { return e.err.Error() }
func (e errBusyWrap) Unwrap() error { return e.err }
func (e errBusyWrap) Is(target error) bool { return target == ErrBusy }
