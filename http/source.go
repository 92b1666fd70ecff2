// Package http fetches remote archives over HTTP, in parallel byte ranges
// when the server supports them.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"
)

// ErrRangesUnsupported is returned by range reads against servers that
// ignore the Range header.
var ErrRangesUnsupported = errors.New("http: range requests not supported")

// Source is a remote file inspected for its size and range support.
type Source struct {
	url          string
	client       *nethttp.Client
	headers      nethttp.Header
	size         int64
	ranges       bool
	etag         string
	lastModified string
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Source) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// NewSource inspects url for its size and range support. A HEAD request is
// tried first; servers that reject HEAD or omit the length are asked again with
// a one-byte range GET.
func NewSource(ctx context.Context, url string, opts ...Option) (*Source, error) {
	s := &Source{
		url:    url,
		client: nethttp.DefaultClient,
		size:   -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}
	if err := s.stat(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// URL returns the remote location.
func (s *Source) URL() string {
	return s.url
}

// Size returns the content length, or -1 if the server did not report one.
func (s *Source) Size() int64 {
	return s.size
}

// AcceptsRanges reports whether range requests are honored.
func (s *Source) AcceptsRanges() bool {
	return s.ranges
}

func (s *Source) stat(ctx context.Context) error {
	if resp, err := s.do(ctx, nethttp.MethodHead, ""); err == nil {
		drain(resp)
		if resp.StatusCode == nethttp.StatusOK {
			s.size = resp.ContentLength
			s.ranges = strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")
			s.etag = resp.Header.Get("ETag")
			s.lastModified = resp.Header.Get("Last-Modified")
			if s.size >= 0 && s.ranges {
				return nil
			}
		}
	}

	resp, err := s.do(ctx, nethttp.MethodGet, "bytes=0-0")
	if err != nil {
		return err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
		size, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return err
		}
		if s.size >= 0 && s.size != size {
			return fmt.Errorf("http: content size mismatch: head=%d range=%d", s.size, size)
		}
		s.size = size
		s.ranges = true
	case nethttp.StatusOK:
		s.ranges = false
		if s.size < 0 {
			s.size = resp.ContentLength
		}
	default:
		return fmt.Errorf("http: stat %s: %s", s.url, resp.Status)
	}
	if s.etag == "" {
		s.etag = resp.Header.Get("ETag")
	}
	if s.lastModified == "" {
		s.lastModified = resp.Header.Get("Last-Modified")
	}
	return nil
}

// Open returns the whole body in one stream.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.do(ctx, nethttp.MethodGet, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != nethttp.StatusOK {
		drain(resp)
		return nil, fmt.Errorf("http: get %s: %s", s.url, resp.Status)
	}
	return resp.Body, nil
}

// ReadRange returns a reader for length bytes starting at off.
func (s *Source) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off < 0 || length < 0 {
		return nil, fmt.Errorf("http: read range %d+%d: negative", off, length)
	}
	if length == 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}
	resp, err := s.do(ctx, nethttp.MethodGet, fmt.Sprintf("bytes=%d-%d", off, off+length-1))
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusOK:
		drain(resp)
		return nil, ErrRangesUnsupported
	default:
		drain(resp)
		return nil, fmt.Errorf("http: range request failed: %s", resp.Status)
	}
	return &rangeReadCloser{body: resp.Body, reader: io.LimitReader(resp.Body, length)}, nil
}

func (s *Source) do(ctx context.Context, method, byteRange string) (*nethttp.Response, error) {
	req, err := nethttp.NewRequestWithContext(ctx, method, s.url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if byteRange != "" {
		req.Header.Set("Range", byteRange)
		// Parts of one download must come from one version of the file.
		if s.etag != "" && req.Header.Get("If-Match") == "" {
			req.Header.Set("If-Match", s.etag)
		}
		if s.lastModified != "" && req.Header.Get("If-Unmodified-Since") == "" {
			req.Header.Set("If-Unmodified-Since", s.lastModified)
		}
	}
	return s.client.Do(req)
}

func drain(resp *nethttp.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

type rangeReadCloser struct {
	body   io.ReadCloser
	reader io.Reader
}

func (r *rangeReadCloser) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

func (r *rangeReadCloser) Close() error {
	_, _ = io.Copy(io.Discard, r.body)
	return r.body.Close()
}

func parseContentRange(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "bytes ") {
		return 0, fmt.Errorf("http: invalid Content-Range %q", value)
	}
	parts := strings.SplitN(strings.TrimPrefix(value, "bytes "), "/", 2)
	if len(parts) != 2 || parts[1] == "*" {
		return 0, fmt.Errorf("http: invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("http: invalid Content-Range %q", value)
	}
	return size, nil
}
