package platform

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

// Stream reads one NDJSON response line by line.
type Stream struct {
	resp *fasthttp.Response
	r    *bufio.Reader

	mu        sync.Mutex
	conn      net.Conn
	closed    bool
	stopAfter func() bool
}

// Next returns the next non-blank line. Keep-alive newlines are skipped.
// io.EOF marks a clean end of the stream.
func (s *Stream) Next() (json.RawMessage, error) {
	for {
		line, err := s.r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return json.RawMessage(line), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// Close releases the response and its dedicated connection.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	if s.stopAfter != nil {
		s.stopAfter()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	_ = s.resp.CloseBodyStream()
	fasthttp.ReleaseResponse(s.resp)
	return err
}

func (s *Stream) setConn(c net.Conn) {
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
}

func (s *Stream) closeConn() {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

// openStream issues a GET on a dedicated connection and returns the body as
// a Stream. Cancelling ctx closes the connection, unblocking any read.
func (c *Client) openStream(ctx context.Context, path string) (*Stream, error) {
	s := &Stream{resp: fasthttp.AcquireResponse()}
	hc := &fasthttp.Client{
		ReadTimeout:        c.streamReadTimeout,
		WriteTimeout:       15 * time.Second,
		MaxConnsPerHost:    1,
		StreamResponseBody: true,
		Dial: func(addr string) (net.Conn, error) {
			conn, err := c.dial(addr)
			if err != nil {
				return nil, err
			}
			s.setConn(conn)
			return conn, nil
		},
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", "application/x-ndjson")
	c.authorize(req)

	s.stopAfter = context.AfterFunc(ctx, s.closeConn)
	if err := hc.Do(req, s.resp); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open stream %s: %w", path, err)
	}

	status := s.resp.StatusCode()
	if status < 200 || status >= 300 {
		body := s.resp.Body()
		if bs := s.resp.BodyStream(); bs != nil {
			body, _ = io.ReadAll(io.LimitReader(bs, 512))
		}
		apiErr := &APIError{
			Status: status,
			Body:   truncate(string(body), 512),
			Wait:   parseRetryAfter(string(s.resp.Header.Peek("Retry-After")), time.Now()),
		}
		_ = s.Close()
		return nil, apiErr
	}

	var body io.Reader = bytes.NewReader(s.resp.Body())
	if bs := s.resp.BodyStream(); bs != nil {
		body = bs
	}
	s.r = bufio.NewReaderSize(body, 64<<10)
	return s, nil
}
