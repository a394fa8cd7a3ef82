package wire

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// SessionState is the connection lifecycle a Session moves through:
// dial/accept -> Handshake -> wait for HandshakeAck -> Steady (normal
// traffic, Ping/Pong keepalive) -> Closed/Failed. Grounded on the
// dial/accept shape of internal/p2p/handshake.go's doHandshake (dialer)
// and registerHandshakeHandler (acceptor), generalized into an explicit
// state machine so the keepalive timeouts below have somewhere to live.
type SessionState uint8

const (
	StateDialing SessionState = iota
	StateHandshaking
	StateAwaitingAck
	StateSteady
	StateClosed
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateDialing:
		return "dialing"
	case StateHandshaking:
		return "handshaking"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateSteady:
		return "steady"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	// pingInterval is how often a Steady session sends a keepalive Ping.
	pingInterval = 30 * time.Second
	// pongTimeout is how long a session waits for a Pong before failing.
	pongTimeout = 120 * time.Second
)

// Conn is the minimal stream interface a Session drives: a libp2p stream
// satisfies it directly.
type Conn interface {
	io.Reader
	io.Writer
	Close() error
}

// Session drives one peer connection's framing-level state machine on
// top of a Conn (a libp2p stream).
type Session struct {
	conn Conn

	mu    sync.Mutex
	state SessionState

	lastPong time.Time

	onMessage func(*Message)
	onFailed  func(error)
}

// NewSession wraps conn in a Session starting in StateDialing.
func NewSession(conn Conn) *Session {
	return &Session{conn: conn, state: StateDialing, lastPong: time.Now()}
}

// State returns the session's current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// OnMessage registers the handler invoked for every non-handshake,
// non-keepalive message received once the session reaches Steady.
func (s *Session) OnMessage(fn func(*Message)) { s.onMessage = fn }

// OnFailed registers the handler invoked when the session transitions
// to StateFailed.
func (s *Session) OnFailed(fn func(error)) { s.onFailed = fn }

func (s *Session) fail(err error) {
	s.setState(StateFailed)
	if s.onFailed != nil {
		s.onFailed(err)
	}
}

// DialHandshake performs the dialer side: send Handshake, wait for Ack.
func (s *Session) DialHandshake(ctx context.Context, hs Handshake) error {
	s.setState(StateHandshaking)
	msg, err := Encode(KindHandshake, hs)
	if err != nil {
		return err
	}
	if err := WriteMessage(s.conn, msg); err != nil {
		s.fail(err)
		return err
	}

	s.setState(StateAwaitingAck)
	reply, err := ReadMessage(s.conn)
	if err != nil {
		s.fail(err)
		return err
	}
	if reply.Kind != KindHandshakeAck {
		err := fmt.Errorf("expected handshake_ack, got %s", reply.Kind)
		s.fail(err)
		return err
	}
	ack, err := DecodeHandshakeAck(reply)
	if err != nil {
		s.fail(err)
		return err
	}
	if !ack.Accepted {
		err := fmt.Errorf("handshake rejected: %s", ack.Reason)
		s.fail(err)
		return err
	}

	s.setState(StateSteady)
	s.lastPong = time.Now()
	return nil
}

// AcceptHandshake performs the acceptor side: read Handshake, validate
// with validate, send HandshakeAck.
func (s *Session) AcceptHandshake(validate func(Handshake) error) error {
	s.setState(StateHandshaking)
	msg, err := ReadMessage(s.conn)
	if err != nil {
		s.fail(err)
		return err
	}
	if msg.Kind != KindHandshake {
		err := fmt.Errorf("expected handshake, got %s", msg.Kind)
		s.fail(err)
		return err
	}
	hs, err := DecodeHandshake(msg)
	if err != nil {
		s.fail(err)
		return err
	}

	ack := HandshakeAck{Accepted: true}
	if verr := validate(hs); verr != nil {
		ack = HandshakeAck{Accepted: false, Reason: verr.Error()}
	}
	ackMsg, err := Encode(KindHandshakeAck, ack)
	if err != nil {
		s.fail(err)
		return err
	}
	if err := WriteMessage(s.conn, ackMsg); err != nil {
		s.fail(err)
		return err
	}
	if !ack.Accepted {
		err := fmt.Errorf("rejected peer handshake: %s", ack.Reason)
		s.fail(err)
		return err
	}

	s.setState(StateSteady)
	s.lastPong = time.Now()
	return nil
}

// RunSteady reads frames until ctx is cancelled, the connection errs, or
// the Pong keepalive times out. It sends a Ping every pingInterval and
// expects a Pong within pongTimeout of the last one received.
func (s *Session) RunSteady(ctx context.Context) error {
	if s.State() != StateSteady {
		return fmt.Errorf("RunSteady called outside Steady state")
	}

	msgCh := make(chan *Message)
	errCh := make(chan error, 1)
	go func() {
		for {
			msg, err := ReadMessage(s.conn)
			if err != nil {
				errCh <- err
				return
			}
			msgCh <- msg
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.setState(StateClosed)
			s.conn.Close()
			return ctx.Err()

		case err := <-errCh:
			s.fail(err)
			return err

		case <-ticker.C:
			s.mu.Lock()
			since := time.Since(s.lastPong)
			s.mu.Unlock()
			if since > pongTimeout {
				err := fmt.Errorf("pong timeout: no keepalive reply in %s", since)
				s.fail(err)
				s.conn.Close()
				return err
			}
			ping, _ := Encode(KindPing, Ping{Nonce: uint64(time.Now().UnixNano())})
			if err := WriteMessage(s.conn, ping); err != nil {
				s.fail(err)
				return err
			}

		case msg := <-msgCh:
			switch msg.Kind {
			case KindPing:
				p, _ := DecodePing(msg)
				pong, _ := Encode(KindPong, Pong{Nonce: p.Nonce})
				if err := WriteMessage(s.conn, pong); err != nil {
					s.fail(err)
					return err
				}
			case KindPong:
				s.mu.Lock()
				s.lastPong = time.Now()
				s.mu.Unlock()
			default:
				if s.onMessage != nil {
					s.onMessage(msg)
				}
			}
		}
	}
}

// Close transitions the session to Closed and closes the underlying
// connection.
func (s *Session) Close() error {
	s.setState(StateClosed)
	return s.conn.Close()
}
