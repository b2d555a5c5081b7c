package main

import "errors"

var (
	// ErrRepositoryUnavailable is returned when the record store cannot be reached,
	// times out, or keeps failing after the fetch layer exhausted its retries.
	ErrRepositoryUnavailable = errors.New("repository unavailable")

	// ErrMalformedRecord marks a single record that could not be decoded. Callers
	// skip the record and continue.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrUnknownMeasure is returned for a measure code with no definition.
	ErrUnknownMeasure = errors.New("unknown measure")
)
