package domain

import "errors"

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingFields   = errors.New("missing fields")
	ErrRoomNameTooLong = errors.New("room name exceeds 32 bytes")
	ErrNotFound        = errors.New("not found")
)

var (
	ErrMalformedRow       = errors.New("malformed row")
	ErrSchemaRegistration = errors.New("failed to register schema")
	ErrPublishFailed      = errors.New("failed to publish chat message")
)
