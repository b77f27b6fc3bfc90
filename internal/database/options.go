package database

import "arc-go/internal/arc"

// Option configures an IndexStore.
type Option func(*options)

type options struct {
	clock arc.Clock
}

// WithClock sets the time source for operation timestamps.
func WithClock(c arc.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{clock: arc.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
