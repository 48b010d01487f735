package sirixdb

import (
	"sirixdb/internal/bytepipe"
	"sirixdb/internal/version"
)

// Policy selects the revisioning strategy of a resource.
type Policy = version.Policy

const (
	Full            = version.Full
	Differential    = version.Differential
	Incremental     = version.Incremental
	SlidingSnapshot = version.SlidingSnapshot
)

// Options configures a resource session.
type Options struct {
	policy             Policy
	revisionsToRestore int
	cacheCapacity      uint32
	logCapacity        int
	handlers           []bytepipe.ByteHandler
	useMMap            bool
	logger             Logger
}

// DefaultOptions returns the configuration used when Open is given no
// options: sliding snapshots over a window of 4, snappy compression,
// buffered reads.
func DefaultOptions() Options {
	return Options{
		policy:             SlidingSnapshot,
		revisionsToRestore: 4,
		cacheCapacity:      4096,
		logCapacity:        1024,
		handlers:           []bytepipe.ByteHandler{bytepipe.Snappy{}},
		logger:             noopLogger{},
	}
}

// Option configures a resource using the functional options pattern.
type Option func(*Options)

// WithPolicy selects the revisioning policy.
func WithPolicy(p Policy) Option {
	return func(o *Options) { o.policy = p }
}

// WithRevisionsToRestore bounds how many page versions a read may combine
// before a full dump must appear in the history.
func WithRevisionsToRestore(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.revisionsToRestore = n
		}
	}
}

// WithCacheCapacity bounds the shared page cache, in pages.
func WithCacheCapacity(pages uint32) Option {
	return func(o *Options) { o.cacheCapacity = pages }
}

// WithLogCapacity bounds how many containers a transaction log keeps
// decoded in memory; the rest stay on disk in the log file.
func WithLogCapacity(entries int) Option {
	return func(o *Options) { o.logCapacity = entries }
}

// WithByteHandlers replaces the byte pipe. Handlers apply in order on
// write and in reverse on read.
func WithByteHandlers(handlers ...bytepipe.ByteHandler) Option {
	return func(o *Options) { o.handlers = handlers }
}

// WithoutCompression empties the byte pipe.
func WithoutCompression() Option {
	return func(o *Options) { o.handlers = nil }
}

// WithMMap serves read transactions from a memory-mapped reader instead
// of buffered positioned reads.
func WithMMap() Option {
	return func(o *Options) { o.useMMap = true }
}

// WithLogger routes engine events to the given logger.
func WithLogger(l Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.logger = l
		}
	}
}
