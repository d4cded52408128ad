package downloader

import (
	"net/http"
	"runtime"
	"time"
)

const (
	ProbeHead = http.MethodHead
	ProbeGet  = http.MethodGet

	defaultIdleTimeout  = 2 * time.Minute
	defaultMaxFailures  = 3
	defaultRetryBackoff = 500 * time.Millisecond
	defaultMaxRedirects = 10
	defaultBufferSize   = 32 * 1024
	defaultUserAgent    = "jget"
)

// Options tunes how a transfer talks to the server.
type Options struct {
	// Connections is the number of segments a range-capable resource is
	// split into. Default: number of CPUs.
	Connections int

	// IdleTimeout restarts a segment that received nothing for this long.
	// Default: 2m
	IdleTimeout time.Duration

	// MaxFailures is how many failed attempts a segment absorbs in one run;
	// the attempt that reaches it fails the whole transfer. An attempt is
	// one segment connection; requests the HTTP transport replays on its
	// own after a dropped idle connection are not counted. Default: 3
	MaxFailures int

	// RetryBackoff is multiplied by the retry number before a segment
	// reconnects. Default: 500ms
	RetryBackoff time.Duration

	// MaxRedirects bounds discovery redirects. Default: 10
	MaxRedirects int

	// ProbeMethod is the discovery request method, HEAD or GET. Default: HEAD
	ProbeMethod string

	UserAgent  string
	BufferSize int

	// Client overrides the HTTP client. Redirect following is always
	// disabled on it so discovery can see 3xx responses.
	Client *http.Client
}

func (o Options) withDefaults() Options {
	if o.Connections <= 0 {
		o.Connections = runtime.NumCPU()
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = defaultIdleTimeout
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = defaultMaxFailures
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = defaultRetryBackoff
	}
	if o.MaxRedirects <= 0 {
		o.MaxRedirects = defaultMaxRedirects
	}
	if o.ProbeMethod != ProbeGet {
		o.ProbeMethod = ProbeHead
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.BufferSize <= 0 {
		o.BufferSize = defaultBufferSize
	}
	return o
}
