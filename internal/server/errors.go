package server

import "errors"

// Server-specific errors
var (
	ErrServerClosed         = errors.New("server is closed")
	ErrServerNotRunning     = errors.New("server is not running")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrMaxConnections       = errors.New("maximum connections reached")
	ErrUnauthorized         = errors.New("unauthorized")
)
