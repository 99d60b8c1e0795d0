package api

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/Ashfaaq98/helium-console/internal/helium"
)

// ErrStreamEnded is reported when the server closes the event stream.
var ErrStreamEnded = errors.New("event stream closed by server")

const maxEventSize = 4 << 20

// ReadEvents splits a text/event-stream body into message payloads. data
// lines accumulate until a blank line; comments and the event, id and retry
// fields are ignored; empty payloads are dropped. emit returns false to stop.
// An event still pending when the body ends is discarded.
func ReadEvents(r io.Reader, emit func([]byte) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxEventSize)

	var data bytes.Buffer
	pending := false
	for sc.Scan() {
		line := bytes.TrimSuffix(sc.Bytes(), []byte("\r"))
		if len(line) == 0 {
			if pending && len(bytes.TrimSpace(data.Bytes())) > 0 {
				msg := append([]byte(nil), data.Bytes()...)
				if !emit(msg) {
					return nil
				}
			}
			data.Reset()
			pending = false
			continue
		}
		if line[0] == ':' {
			continue
		}
		field, value, found := bytes.Cut(line, []byte(":"))
		if found {
			value = bytes.TrimPrefix(value, []byte(" "))
		}
		if string(field) != "data" {
			continue
		}
		if pending {
			data.WriteByte('\n')
		}
		data.Write(value)
		pending = true
	}
	return sc.Err()
}

// Stream is an open case event stream.
type Stream struct {
	body   io.ReadCloser
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

func newStream(ctx context.Context, body io.ReadCloser) *Stream {
	s := &Stream{
		body:   body,
		msgs:   make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.msgs)
	err := ReadEvents(s.body, func(msg []byte) bool {
		select {
		case s.msgs <- msg:
			return true
		case <-s.closed:
			return false
		case <-ctx.Done():
			return false
		}
	})
	select {
	case <-s.closed:
		return
	case <-ctx.Done():
		return
	default:
	}
	if err == nil {
		err = ErrStreamEnded
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Messages delivers event payloads in arrival order.
func (s *Stream) Messages() <-chan []byte { return s.msgs }

// Err reports why the stream ended. It is nil after Close or cancellation.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the stream and releases the connection.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.body.Close()
	})
	return err
}

// SubscribeCaseEvents opens the server-sent event stream of a case. The
// stream ends when ctx is cancelled or Close is called.
func (c *Client) SubscribeCaseEvents(ctx context.Context, caseGUID string) (helium.Subscription, error) {
	req, err := c.newRequest(ctx, http.MethodGet, casePath(caseGUID, "events"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := c.do(c.streamHTTP, req)
	if err != nil {
		return nil, err
	}
	c.logger.Printf("event stream for case %s opened", caseGUID)
	return newStream(ctx, resp.Body), nil
}
