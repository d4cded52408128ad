package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"jget/internal/domain"
)

// exchange is one kind of request a connection performs: discovery or a
// ranged fetch. response may hand the still-open body over to a successor
// exchange, which is how a GET probe turns into the first segment's fetch.
type exchange interface {
	request(ctx context.Context) (*http.Request, error)
	response(ctx context.Context, resp *http.Response) (exchange, error)
	fail(err error)
}

// connection runs a single exchange on its own goroutine.
type connection struct {
	client *http.Client
	ex     exchange

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newConnection(client *http.Client, ex exchange) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &connection{
		client: client,
		ex:     ex,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (c *connection) start() {
	go c.run()
}

func (c *connection) run() {
	defer close(c.done)
	defer c.cancel()

	req, err := c.ex.request(c.ctx)
	if err != nil {
		c.report(c.ex, err)
		return
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.report(c.ex, err)
		return
	}
	defer resp.Body.Close()

	for ex := c.ex; ex != nil; {
		next, err := ex.response(c.ctx, resp)
		if err != nil {
			c.report(ex, err)
			return
		}
		ex = next
	}
}

// report forwards err unless the connection was closed on purpose, in which
// case whoever closed it already accounted for the attempt.
func (c *connection) report(ex exchange, err error) {
	if c.ctx.Err() != nil {
		return
	}
	ex.fail(err)
}

func (c *connection) close() {
	c.cancel()
}

func newRequest(ctx context.Context, method string, t *Transfer) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.loc.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", t.opts.UserAgent)
	req.Header.Set("Accept-Encoding", "identity")
	return req, nil
}

type probeExchange struct {
	t      *Transfer
	method string
	conn   *connection
}

func (p *probeExchange) request(ctx context.Context) (*http.Request, error) {
	return newRequest(ctx, p.method, p.t)
}

func (p *probeExchange) response(_ context.Context, resp *http.Response) (exchange, error) {
	t := p.t
	switch resp.StatusCode {
	case http.StatusOK:
		t.loc.SetResponseHeader(resp.Header)
		ranges := []domain.Range{domain.UnboundedRange()}
		if acceptsRanges(resp.Header) && resp.ContentLength > 0 {
			ranges = domain.Partition(resp.ContentLength, t.opts.Connections)
		}
		for i, r := range ranges {
			if err := t.addSegment(i, r, 0); err != nil {
				return nil, err
			}
		}
		var adopt *connection
		if p.method == http.MethodGet && len(ranges) == 1 && resp.Body != http.NoBody {
			adopt = p.conn
		}
		return t.ready(adopt)
	case http.StatusMovedPermanently, http.StatusFound:
		location := resp.Header.Get("Location")
		if location == "" {
			return nil, ErrMissingLocation
		}
		return nil, t.redirect(location)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}
}

func (p *probeExchange) fail(err error) {
	p.t.fail(fmt.Errorf("discovery: %w", err))
}

type fetchExchange struct {
	s      *Segment
	gen    uint64
	offset int64
	ranged bool
}

func (f *fetchExchange) request(ctx context.Context) (*http.Request, error) {
	req, err := newRequest(ctx, http.MethodGet, f.s.transfer)
	if err != nil {
		return nil, err
	}
	if f.ranged {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", f.offset, f.s.rng.End))
	}
	return req, nil
}

func (f *fetchExchange) response(_ context.Context, resp *http.Response) (exchange, error) {
	switch resp.StatusCode {
	case http.StatusPartialContent:
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			start, _, _, err := parseContentRange(cr)
			if err != nil {
				return nil, err
			}
			if start != f.offset {
				return nil, fmt.Errorf("%w: asked for offset %d, got %d", ErrRangeIgnored, f.offset, start)
			}
		}
	case http.StatusOK:
		if f.offset != 0 {
			return nil, fmt.Errorf("%w: full body returned for offset %d", ErrRangeIgnored, f.offset)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	f.s.idle.kick(f.gen)
	buf := make([]byte, f.s.transfer.opts.BufferSize)
	return nil, stream(resp.Body, buf, func(p []byte, last bool) (bool, error) {
		return f.s.receive(f.gen, p, last)
	})
}

func (f *fetchExchange) fail(err error) {
	f.s.fail(f.gen, err)
}

// stream feeds body to sink chunk by chunk. The chunk carrying EOF is
// flagged last so the sink can tell completion from a stall.
func stream(body io.Reader, buf []byte, sink func(p []byte, last bool) (bool, error)) error {
	for {
		n, err := body.Read(buf)
		last := errors.Is(err, io.EOF)
		if n > 0 || last {
			more, serr := sink(buf[:n], last)
			if serr != nil {
				return serr
			}
			if !more {
				return nil
			}
		}
		if last {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
	}
}
