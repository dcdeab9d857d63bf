package storage

import "errors"

var (
	ErrDocumentNotFound   = errors.New("document not found")
	ErrVersionNotFound    = errors.New("version not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrDuplicateRevision  = errors.New("revision already logged")
	ErrDuplicateVersion   = errors.New("version already stored")
)
