package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"grimm.is/humangym/internal/protocol"
)

// Codec reads and writes one JSON value per line over a byte stream.
// Encode is safe for concurrent use; Decode must be called from one goroutine.
type Codec struct {
	dec   *json.Decoder
	encMu sync.Mutex
	enc   *json.Encoder
}

// NewCodec wraps r and w.
func NewCodec(r io.Reader, w io.Writer) *Codec {
	return &Codec{dec: json.NewDecoder(r), enc: json.NewEncoder(w)}
}

// Encode writes v followed by a newline.
func (c *Codec) Encode(v any) error {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	return c.enc.Encode(v)
}

// Decode reads the next value into v.
func (c *Codec) Decode(v any) error {
	return c.dec.Decode(v)
}

// Stream is a Conn over a byte stream pair, typically a child process's
// stdin/stdout or the worker's own stdio.
type Stream struct {
	codec *Codec
	in    *queue
	r     io.Reader
	w     io.Closer

	mu     sync.Mutex
	closed bool
	err    error
	done   chan struct{}
}

// NewStream starts reading envelopes from r. w receives sent envelopes and
// is closed by Close when it implements io.Closer.
func NewStream(r io.Reader, w io.Writer, capacity int) *Stream {
	s := &Stream{
		codec: NewCodec(r, w),
		in:    newQueue(capacity),
		r:     r,
		done:  make(chan struct{}),
	}
	if c, ok := w.(io.Closer); ok {
		s.w = c
	}
	go s.readLoop()
	return s
}

func (s *Stream) readLoop() {
	defer close(s.done)
	defer s.in.close()

	for {
		var env protocol.Envelope
		if err := s.codec.Decode(&env); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				s.mu.Lock()
				s.err = fmt.Errorf("decode envelope: %w", err)
				s.mu.Unlock()
			}
			return
		}
		if err := s.in.push(env); err != nil {
			// Closed locally. Keep reading so a peer still writing does not
			// block on a full pipe before it sees our side close.
			io.Copy(io.Discard, s.r)
			return
		}
	}
}

// Send implements Conn.
func (s *Stream) Send(env protocol.Envelope) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := s.codec.Encode(env); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// Poll implements Conn.
func (s *Stream) Poll() (protocol.Envelope, bool, error) {
	return s.in.pop()
}

// Close implements Conn. Anything the peer sends afterwards is discarded
// until it closes its end.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.in.close()
	if s.w != nil {
		return s.w.Close()
	}
	return nil
}

// Done is closed when the read side reaches end of stream.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the decode error that ended the read side, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
