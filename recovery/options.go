package recovery

import "go.uber.org/zap"

// options collects recovery call knobs that aren't part of the channel
// name itself — today just the logger.
type options struct {
	log *zap.Logger
}

func resolveOptions(opts []Option) options {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures a recovery call.
type Option func(*options)

// WithLogger plugs an external zap.Logger into a recovery call; every
// takeover/reclaim/eviction it performs is warned on it. Without one,
// the call is silent.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}
