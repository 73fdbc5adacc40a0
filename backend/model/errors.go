package model

import "errors"

var (
	ErrValidation    = errors.New("validation failed")
	ErrAuth          = errors.New("wrong password")
	ErrCapacity      = errors.New("room is full")
	ErrNotAuthorized = errors.New("not authorized")
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("too many attempts, try again later")
)

// Error codes carried by error envelopes.
const (
	CodeValidation  = "validation"
	CodeAuth        = "auth"
	CodeCapacity    = "capacity"
	CodeRateLimited = "rate-limited"
)

// ErrorCode maps err to the code reported to the requester. Second return is false
// for errors that must never be surfaced (authorization, absent participants).
func ErrorCode(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation, true
	case errors.Is(err, ErrAuth):
		return CodeAuth, true
	case errors.Is(err, ErrCapacity):
		return CodeCapacity, true
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited, true
	}
	return "", false
}
