package domain

import "errors"

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrSourceNotFound    = errors.New("source not found")
	ErrSourceDisabled    = errors.New("source disabled")
	ErrJobNotFound       = errors.New("job not found")
	ErrFetch             = errors.New("fetch failed")
	ErrMaterialize       = errors.New("materialize failed")
	ErrNamingExhausted   = errors.New("naming exhausted")
	ErrStoreIO           = errors.New("fingerprint store io")
	ErrCancelled         = errors.New("job cancelled")
	ErrInvalidTransition = errors.New("invalid job state transition")
)
