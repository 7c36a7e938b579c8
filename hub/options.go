package hub

import "go.uber.org/zap"

// options collects the construction-time knobs shared by CreateProducer
// and FindConsumer that aren't part of ChannelConfig/Tunables — today
// just the logger. The hub never logs on the hot read/write path; a
// logger only plugs in for the non-fatal paths (zombie takeover,
// reader reclamation) that spec.md §4.2 and §4.3 call out as warnings.
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

// Option configures a Producer or Consumer at construction time.
type Option func(*options)

// WithLogger plugs an external zap.Logger into a Producer or Consumer.
// Without it, both are silent — equivalent to WithLogger(zap.NewNop()).
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}
