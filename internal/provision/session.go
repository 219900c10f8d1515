// Package provision implements over-the-air key provisioning: a GATT
// service the tag exposes while advertising, and a client that drives it
// from another adapter. A provisioner authenticates with a shared token,
// streams the new key in fixed-size chunks, and the tag commits the
// assembled key and restarts.
package provision

import (
	"crypto/subtle"
	"errors"
	"fmt"
)

// AuthTokenLen is the exact length of the shared authentication token.
const AuthTokenLen = 8

var (
	ErrBadAuth          = errors.New("authentication token mismatch")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrChunkSize        = errors.New("unexpected chunk size")
)

// Scheme is the ordered list of chunk sizes a provisioner must write to
// deliver a key. The sizes are fixed per protocol; a chunk of any other
// length is rejected.
type Scheme []int

func (s Scheme) Total() int {
	n := 0
	for _, c := range s {
		n += c
	}
	return n
}

func (s Scheme) Validate(keyLen int) error {
	if len(s) == 0 {
		return errors.New("empty chunk scheme")
	}
	for i, c := range s {
		if c <= 0 {
			return fmt.Errorf("chunk %d has size %d", i, c)
		}
	}
	if s.Total() != keyLen {
		return fmt.Errorf("chunk sizes sum to %d, key is %d bytes", s.Total(), keyLen)
	}
	return nil
}

// Status is the externally visible provisioning state, exposed through
// the status characteristic.
type Status byte

const (
	StatusIdle Status = iota
	StatusAuthenticated
	StatusPartial
	StatusCommitted
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusAuthenticated:
		return "authenticated"
	case StatusPartial:
		return "partial"
	case StatusCommitted:
		return "committed"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("status(%d)", byte(s))
}

// Session tracks one provisioning exchange. Every rejected write drops
// the whole session state, so a provisioner always restarts from the
// authentication step after any error. Session is not safe for
// concurrent use; the GATT layer serializes access.
type Session struct {
	token  []byte
	scheme Scheme

	authed bool
	next   int
	buf    []byte
	status Status
}

func NewSession(token string, scheme Scheme) (*Session, error) {
	if len(token) != AuthTokenLen {
		return nil, fmt.Errorf("auth token must be %d bytes, got %d", AuthTokenLen, len(token))
	}
	if err := scheme.Validate(scheme.Total()); err != nil {
		return nil, err
	}
	return &Session{token: []byte(token), scheme: scheme}, nil
}

// reset drops authentication and any partial key.
func (s *Session) reset() {
	s.authed = false
	s.next = 0
	s.buf = nil
}

// Authenticate checks value against the shared token. A match starts a
// fresh session, discarding any partial key from before; re-authenticating
// mid-transfer is the supported way to start over. A mismatch also drops
// everything and returns ErrBadAuth.
func (s *Session) Authenticate(value []byte) error {
	s.reset()
	if len(value) != len(s.token) || subtle.ConstantTimeCompare(value, s.token) != 1 {
		s.status = StatusError
		return ErrBadAuth
	}
	s.authed = true
	s.status = StatusAuthenticated
	return nil
}

// WriteChunk accepts the next key chunk. When the final chunk arrives it
// returns the assembled key with done=true and the session drops back to
// unauthenticated; the caller decides whether the commit succeeded and
// sets the final status. Any rejection resets the session.
func (s *Session) WriteChunk(value []byte) (key []byte, done bool, err error) {
	if !s.authed {
		s.reset()
		s.status = StatusError
		return nil, false, ErrNotAuthenticated
	}
	want := s.scheme[s.next]
	if len(value) != want {
		idx := s.next
		s.reset()
		s.status = StatusError
		return nil, false, fmt.Errorf("%w: chunk %d must be %d bytes, got %d", ErrChunkSize, idx, want, len(value))
	}

	s.buf = append(s.buf, value...)
	s.next++
	if s.next < len(s.scheme) {
		s.status = StatusPartial
		return nil, false, nil
	}

	key = append([]byte(nil), s.buf...)
	s.reset()
	s.status = StatusPartial
	return key, true, nil
}

func (s *Session) Status() Status {
	return s.status
}

// Progress reports how many key bytes have arrived so far.
func (s *Session) Progress() (received, total int) {
	return len(s.buf), s.scheme.Total()
}

// MarkCommitted records that the assembled key was persisted.
func (s *Session) MarkCommitted() {
	s.status = StatusCommitted
}

// MarkError records a failed commit.
func (s *Session) MarkError() {
	s.status = StatusError
}
