package downloader

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// newHTTPClient builds the client every connection of a registry shares.
// HTTP/2 is disabled so each segment gets its own TCP stream.
func newHTTPClient(opts Options) *http.Client {
	var client http.Client
	if opts.Client != nil {
		client = *opts.Client
	} else {
		client.Transport = &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   15 * time.Second,
			ResponseHeaderTimeout: opts.IdleTimeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   100,
			DisableCompression:    true, // raw bytes for range requests
			TLSNextProto:          map[string]func(string, *tls.Conn) http.RoundTripper{},
		}
	}
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &client
}

func acceptsRanges(h http.Header) bool {
	v := strings.TrimSpace(strings.ToLower(h.Get("Accept-Ranges")))
	return v != "" && v != "none"
}

// parseContentRange parses "bytes start-end/total"; total is -1 for "*".
func parseContentRange(header string) (start, end, total int64, err error) {
	header = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), "bytes"))
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range %q", header)
	}
	bounds := strings.Split(parts[0], "-")
	if len(bounds) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range %q", header)
	}
	if start, err = strconv.ParseInt(strings.TrimSpace(bounds[0]), 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range start: %w", err)
	}
	if end, err = strconv.ParseInt(strings.TrimSpace(bounds[1]), 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range end: %w", err)
	}
	if parts[1] == "*" {
		return start, end, -1, nil
	}
	if total, err = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range total: %w", err)
	}
	return start, end, total, nil
}
