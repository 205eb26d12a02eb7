package box

import "github.com/cockroachdb/errors"

// ErrStorage marks every error that originated in the store. The store's own
// error stays reachable through errors.Is and errors.As.
var ErrStorage = errors.New("objectbox: storage failure")

func storageErrorf(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrStorage)
}
