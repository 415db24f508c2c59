package model

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicateProviderName  = errors.New("duplicate provider name")
	ErrDuplicateKey           = errors.New("duplicate api key")
	ErrKeyGenerationExhausted = errors.New("api key generation exhausted")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidInput           = errors.New("invalid input")
)
