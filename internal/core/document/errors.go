package document

import "errors"

var (
	// ErrRevisionAhead means a client claimed a base revision the server has
	// not reached. That can only happen with a buggy or malicious client.
	ErrRevisionAhead = errors.New("base revision ahead of canonical revision")
)
