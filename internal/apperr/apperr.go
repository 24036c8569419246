// Package apperr defines the error kinds shared by the social subsystem.
//
// Call sites wrap a sentinel with context, e.g.
//
//	fmt.Errorf("%w: stake %d below minimum %d", apperr.ErrValidation, amount, MinStake)
//
// and callers branch with errors.Is.
package apperr

import "errors"

var (
	ErrValidation        = errors.New("validation error")
	ErrPermission        = errors.New("permission denied")
	ErrNotFound          = errors.New("not found")
	ErrState             = errors.New("invalid state")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrConnection        = errors.New("connection error")
	ErrServer            = errors.New("server error")
)

// ServerError is a failure acknowledged by the social server. Message is passed through untouched.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

// Is lets errors.Is(err, ErrServer) match any ServerError.
func (e *ServerError) Is(target error) bool {
	return target == ErrServer
}
