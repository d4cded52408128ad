package downloader

import "errors"

var (
	ErrSegmentAfterCreated = errors.New("segment added after transfer left created state")
	ErrInvalidState        = errors.New("invalid transfer state")

	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrMissingLocation  = errors.New("redirect response without location")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrTruncated        = errors.New("body ended before range was complete")
	ErrRangeIgnored     = errors.New("server did not honour range request")
	ErrStalled          = errors.New("no data received within idle timeout")

	ErrStopped         = errors.New("transfer stopped")
	ErrTaskNotFound    = errors.New("task not found")
	ErrIndexOutOfRange = errors.New("task index out of range")
)
