package archive

import "errors"

var (
	ErrNotFound   = errors.New("archive: not found")
	ErrInvalidID  = errors.New("archive: invalid license id")
	ErrIDMismatch = errors.New("archive: license id mismatch")
	ErrImmutable  = errors.New("archive: immutable object mismatch")
	ErrRejected   = errors.New("archive: license rejected")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
