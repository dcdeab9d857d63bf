package access

import "errors"

var (
	ErrNotOwner            = errors.New("principal is not a document owner")
	ErrAlreadyCollaborator = errors.New("principal is already a collaborator")
	ErrInvalidToken        = errors.New("invalid access token")
)
