package provision

import (
	"bytes"
	"errors"
	"testing"
)

const testToken = "abcdefgh"

func mustSession(t *testing.T, scheme Scheme) *Session {
	t.Helper()
	s, err := NewSession(testToken, scheme)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestHappyPath(t *testing.T) {
	s := mustSession(t, Scheme{14, 14})

	if err := s.Authenticate([]byte(testToken)); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if s.Status() != StatusAuthenticated {
		t.Fatalf("status = %s", s.Status())
	}

	chunk1 := make([]byte, 14)
	chunk2 := make([]byte, 14)
	for i := range chunk2 {
		chunk2[i] = byte(i + 1)
	}

	key, done, err := s.WriteChunk(chunk1)
	if err != nil || done || key != nil {
		t.Fatalf("first chunk: key=%v done=%v err=%v", key, done, err)
	}
	if s.Status() != StatusPartial {
		t.Fatalf("status after first chunk = %s", s.Status())
	}
	if got, total := s.Progress(); got != 14 || total != 28 {
		t.Fatalf("progress %d/%d", got, total)
	}

	key, done, err = s.WriteChunk(chunk2)
	if err != nil || !done {
		t.Fatalf("final chunk: done=%v err=%v", done, err)
	}
	want := append(append([]byte(nil), chunk1...), chunk2...)
	if !bytes.Equal(key, want) {
		t.Fatalf("assembled key %x, want %x", key, want)
	}

	// Completion drops authentication; more chunks need a fresh auth.
	if _, _, err := s.WriteChunk(chunk1); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("chunk after completion: %v", err)
	}

	s.MarkCommitted()
	if s.Status() != StatusCommitted {
		t.Fatalf("status after commit = %s", s.Status())
	}
}

func TestBadAuthFailsClosed(t *testing.T) {
	s := mustSession(t, Scheme{14, 14})

	if err := s.Authenticate([]byte("abcdefgX")); !errors.Is(err, ErrBadAuth) {
		t.Fatalf("wrong token: %v", err)
	}
	if s.Status() != StatusError {
		t.Fatalf("status = %s", s.Status())
	}
	// Wrong length too.
	if err := s.Authenticate([]byte("abc")); !errors.Is(err, ErrBadAuth) {
		t.Fatalf("short token: %v", err)
	}
	// A chunk without auth is rejected no matter its size.
	if _, _, err := s.WriteChunk(make([]byte, 14)); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("unauthenticated chunk: %v", err)
	}
}

func TestWrongChunkSizeResetsSession(t *testing.T) {
	s := mustSession(t, Scheme{14, 14})

	if err := s.Authenticate([]byte(testToken)); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, _, err := s.WriteChunk(make([]byte, 14)); err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	// 13 bytes where 14 are expected drops the whole session.
	if _, _, err := s.WriteChunk(make([]byte, 13)); !errors.Is(err, ErrChunkSize) {
		t.Fatalf("wrong-size chunk: %v", err)
	}
	if got, _ := s.Progress(); got != 0 {
		t.Fatalf("partial key survived reset: %d bytes", got)
	}
	// Even a correctly sized follow-up is rejected until re-auth.
	if _, _, err := s.WriteChunk(make([]byte, 14)); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("chunk after reset: %v", err)
	}
}

func TestReauthRestartsTransfer(t *testing.T) {
	s := mustSession(t, Scheme{14, 14})

	if err := s.Authenticate([]byte(testToken)); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, _, err := s.WriteChunk(make([]byte, 14)); err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	if err := s.Authenticate([]byte(testToken)); err != nil {
		t.Fatalf("re-auth: %v", err)
	}
	if got, _ := s.Progress(); got != 0 {
		t.Fatalf("re-auth kept %d buffered bytes", got)
	}

	chunk1 := bytes.Repeat([]byte{0xAB}, 14)
	chunk2 := bytes.Repeat([]byte{0xCD}, 14)
	if _, _, err := s.WriteChunk(chunk1); err != nil {
		t.Fatalf("chunk 1 after re-auth: %v", err)
	}
	key, done, err := s.WriteChunk(chunk2)
	if err != nil || !done {
		t.Fatalf("chunk 2 after re-auth: done=%v err=%v", done, err)
	}
	if !bytes.Equal(key[:14], chunk1) || !bytes.Equal(key[14:], chunk2) {
		t.Fatalf("assembled key %x", key)
	}
}

func TestUnevenScheme(t *testing.T) {
	s := mustSession(t, Scheme{20, 8})

	if err := s.Authenticate([]byte(testToken)); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	// The sizes are positional: 8 bytes first is wrong.
	if _, _, err := s.WriteChunk(make([]byte, 8)); !errors.Is(err, ErrChunkSize) {
		t.Fatalf("out-of-order size: %v", err)
	}
	if err := s.Authenticate([]byte(testToken)); err != nil {
		t.Fatalf("re-auth: %v", err)
	}
	if _, _, err := s.WriteChunk(make([]byte, 20)); err != nil {
		t.Fatalf("chunk 1: %v", err)
	}
	key, done, err := s.WriteChunk(make([]byte, 8))
	if err != nil || !done || len(key) != 28 {
		t.Fatalf("chunk 2: len=%d done=%v err=%v", len(key), done, err)
	}
}

func TestSchemeValidate(t *testing.T) {
	if err := (Scheme{14, 14}).Validate(28); err != nil {
		t.Errorf("14+14: %v", err)
	}
	if err := (Scheme{20, 8}).Validate(28); err != nil {
		t.Errorf("20+8: %v", err)
	}
	if err := (Scheme{}).Validate(28); err == nil {
		t.Errorf("empty scheme accepted")
	}
	if err := (Scheme{14, 0, 14}).Validate(28); err == nil {
		t.Errorf("zero chunk accepted")
	}
	if err := (Scheme{14, 14}).Validate(20); err == nil {
		t.Errorf("sum mismatch accepted")
	}
}

func TestNewSessionRejectsBadToken(t *testing.T) {
	if _, err := NewSession("short", Scheme{14, 14}); err == nil {
		t.Fatalf("expected error for short token")
	}
}
