package wire

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello frame")
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, make([]byte, MaxFrameSize+1)); err != ErrFrameTooLarge {
		t.Fatalf("WriteFrame over limit: got %v, want ErrFrameTooLarge", err)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msg, err := Encode(KindPing, Ping{Nonce: 42})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteMessage(&buf, msg); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	ping, err := DecodePing(got)
	if err != nil {
		t.Fatalf("DecodePing: %v", err)
	}
	if ping.Nonce != 42 {
		t.Fatalf("nonce = %d, want 42", ping.Nonce)
	}
}

func TestSessionHandshake(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	client := NewSession(clientConn)
	server := NewSession(serverConn)

	errCh := make(chan error, 2)
	go func() {
		errCh <- client.DialHandshake(nil, Handshake{ProtocolVersion: 1, NetworkID: "main"})
	}()
	go func() {
		errCh <- server.AcceptHandshake(func(hs Handshake) error { return nil })
	}()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			if err != nil {
				t.Fatalf("handshake: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("handshake timed out")
		}
	}

	if client.State() != StateSteady || server.State() != StateSteady {
		t.Fatalf("states = %s/%s, want steady/steady", client.State(), server.State())
	}
}

func TestSessionHandshakeRejected(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	client := NewSession(clientConn)
	server := NewSession(serverConn)

	errCh := make(chan error, 2)
	go func() {
		errCh <- client.DialHandshake(nil, Handshake{ProtocolVersion: 1})
	}()
	go func() {
		errCh <- server.AcceptHandshake(func(hs Handshake) error {
			return errBadChain
		})
	}()

	clientErr := <-errCh
	serverErr := <-errCh
	if clientErr == nil {
		t.Fatal("expected client handshake to fail after rejection")
	}
	if serverErr == nil {
		t.Fatal("expected server handshake to report the rejection")
	}
	if client.State() != StateFailed || server.State() != StateFailed {
		t.Fatalf("states = %s/%s, want failed/failed", client.State(), server.State())
	}
}

var errBadChain = &chainMismatchError{}

type chainMismatchError struct{}

func (e *chainMismatchError) Error() string { return "chain id mismatch" }
