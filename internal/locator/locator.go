// Package locator parses download URLs and derives the file name a
// transfer should be saved under.
package locator

import (
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrInvalidURL        = errors.New("invalid url")
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	ErrNoFileName        = errors.New("no determinable filename")
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"

	fileNameQueryKey = "filename"
)

var (
	dispositionFileName = regexp.MustCompile(`filename=([^;]+)`)
	unsafeFileChars     = regexp.MustCompile(`[/\\\x00-\x1f]+`)
)

// Locator is a parsed resource address. Response headers seen during
// discovery can be attached later to refine the file name.
type Locator struct {
	raw    string
	url    *url.URL
	host   string
	port   int
	secure bool
	query  map[string]string

	mu     sync.RWMutex
	header http.Header
}

// Parse accepts http and https URLs only.
func Parse(raw string) (*Locator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	l := &Locator{raw: raw, url: u, query: make(map[string]string)}
	switch strings.ToLower(u.Scheme) {
	case schemeHTTP:
		l.port = 80
	case schemeHTTPS:
		l.port = 443
		l.secure = true
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	l.host = u.Hostname()
	if l.host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidURL, raw)
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("%w: bad port %q", ErrInvalidURL, p)
		}
		l.port = port
	}

	values, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrInvalidURL, err)
	}
	for k, v := range values {
		if len(v) == 0 {
			continue
		}
		l.query[strings.ToLower(k)] = v[0]
	}
	return l, nil
}

func (l *Locator) String() string { return l.raw }
func (l *Locator) Host() string   { return l.host }
func (l *Locator) Port() int      { return l.port }
func (l *Locator) Secure() bool   { return l.secure }

// Address is host:port suitable for dialing.
func (l *Locator) Address() string {
	return net.JoinHostPort(l.host, strconv.Itoa(l.port))
}

// Query looks up a decoded query parameter, case-insensitively.
func (l *Locator) Query(key string) (string, bool) {
	v, ok := l.query[strings.ToLower(key)]
	return v, ok
}

// Resolve interprets ref (typically a Location header) relative to this URL.
func (l *Locator) Resolve(ref string) (*Locator, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	return Parse(l.url.ResolveReference(u).String())
}

// SetResponseHeader records headers observed during discovery.
func (l *Locator) SetResponseHeader(h http.Header) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.header = h.Clone()
}

// FileName derives the target name from, in order: the filename query
// parameter, a Content-Disposition header seen during discovery, and the
// last path segment.
func (l *Locator) FileName() (string, error) {
	if name, ok := l.Query(fileNameQueryKey); ok {
		if name = sanitize(name); name != "" {
			return name, nil
		}
	}

	l.mu.RLock()
	disposition := l.header.Get("Content-Disposition")
	l.mu.RUnlock()
	if name := fileNameFromDisposition(disposition); name != "" {
		return name, nil
	}

	if name := sanitize(path.Base(l.url.Path)); name != "" {
		return name, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoFileName, l.raw)
}

func fileNameFromDisposition(value string) string {
	if value == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(value); err == nil {
		if fn := sanitize(params["filename"]); fn != "" {
			return fn
		}
	}
	// Servers often send dispositions mime rejects (unquoted spaces etc).
	if m := dispositionFileName.FindStringSubmatch(value); len(m) == 2 {
		return sanitize(strings.Trim(strings.TrimSpace(m[1]), `"'`))
	}
	return ""
}

func sanitize(name string) string {
	name = strings.TrimSpace(unsafeFileChars.ReplaceAllString(name, "_"))
	switch name {
	case "", ".", "..", "_":
		return ""
	}
	return name
}
