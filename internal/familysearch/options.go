package familysearch

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	MinDepth        = 1
	MaxDepth        = 5
	DefaultDepth    = 3
	DefaultCacheTTL = 86400 * time.Second
	MaxIdentifiers  = 10
	// DefaultBatchSize is how many searches SearchMany runs at once.
	DefaultBatchSize = 5
)

// Options tunes one search.
type Options struct {
	MaxDepth       int
	IncludeSpouses bool
	// CacheTTL is how long the finished result is cached. Zero disables the
	// cache write.
	CacheTTL time.Duration
}

// DefaultOptions returns depth 3, spouses included and a one day TTL.
func DefaultOptions() Options {
	return Options{
		MaxDepth:       DefaultDepth,
		IncludeSpouses: true,
		CacheTTL:       DefaultCacheTTL,
	}
}

// Validate checks the documented bounds.
func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.MaxDepth, validation.Required, validation.Min(MinDepth), validation.Max(MaxDepth)),
		validation.Field(&o.CacheTTL, validation.Min(time.Duration(0))),
	)
}

// normalize fills a missing depth and clamps out-of-range values.
func (o Options) normalize() Options {
	switch {
	case o.MaxDepth == 0:
		o.MaxDepth = DefaultDepth
	case o.MaxDepth < MinDepth:
		o.MaxDepth = MinDepth
	case o.MaxDepth > MaxDepth:
		o.MaxDepth = MaxDepth
	}
	if o.CacheTTL < 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	return o
}
