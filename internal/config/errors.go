package config

import "errors"

var (
	ErrMissingStreamURL = errors.New("stream_url must not be empty")
	ErrInvalidValue     = errors.New("invalid config value")
)
