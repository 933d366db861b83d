// Package client implements a participant session: one WebSocket connection
// joined to a room, sealing outbound text under the room identifier and
// decrypting inbound envelopes into a local self-destructing view.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Pugazh0602/shoadowchat/internal/cipher"
	"github.com/Pugazh0602/shoadowchat/internal/protocol"
	"github.com/Pugazh0602/shoadowchat/internal/view"
)

const defaultSweepInterval = time.Second

// ErrInvalidRoomID rejects identifiers that fail the lexical shape check
// before any traffic reaches the relay.
var ErrInvalidRoomID = errors.New("room id must be 32 lowercase hex characters")

// Options configures a participant session.
type Options struct {
	// ServerURL is the relay WebSocket endpoint, e.g. ws://host:5000/ws.
	ServerURL string
	RoomID    string
	// Label is the display name from the identity provider; opaque here.
	Label         string
	Logger        *zap.Logger
	Codec         *cipher.Codec
	SweepInterval time.Duration
}

// Session is a live participant connection. Created by Dial, destroyed by
// Close or transport failure; the relay forgets it entirely on disconnect.
type Session struct {
	log    *zap.Logger
	conn   *websocket.Conn
	codec  *cipher.Codec
	msgs   *view.View
	roomID string
	label  string

	writeMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// Dial connects to the relay, joins the room, and starts the receive loop and
// expiry sweep. The room identifier is validated client-side; the relay would
// accept any string.
func Dial(ctx context.Context, opts Options) (*Session, error) {
	if !cipher.ValidateRoomID(opts.RoomID) {
		return nil, ErrInvalidRoomID
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Codec == nil {
		opts.Codec = cipher.NewCodec()
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}

	u, err := url.Parse(opts.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if opts.Label != "" {
		q := u.Query()
		q.Set("label", opts.Label)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		log:    opts.Logger,
		conn:   conn,
		codec:  opts.Codec,
		msgs:   view.New(),
		roomID: opts.RoomID,
		label:  opts.Label,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if err := s.writeFrame(protocol.JoinRoom(opts.RoomID)); err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("join room: %w", err)
	}

	s.msgs.StartSweeper(sessCtx, opts.SweepInterval)
	go s.receiveLoop()

	return s, nil
}

// Send seals plaintext under the room identifier and submits it for fan-out.
// The sender's own copy lands in the local view immediately; the relay never
// echoes a broadcast back.
func (s *Session) Send(plaintext string, ttl time.Duration) error {
	sealed, err := s.codec.Encrypt(plaintext, s.roomID)
	if err != nil {
		return fmt.Errorf("encrypt message: %w", err)
	}

	env := protocol.NewEnvelope(sealed, s.label, ttl, time.Now())
	s.msgs.Add(view.Message{Envelope: env, Plaintext: plaintext})

	if err := s.writeFrame(protocol.SendMessage(s.roomID, env)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// View exposes the local message view.
func (s *Session) View() *view.View {
	return s.msgs
}

// Done is closed when the receive loop ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close tears the session down: the sweep timer stops, the connection drops,
// and the relay removes the session from every room.
func (s *Session) Close() error {
	s.cancel()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := s.conn.Close()

	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
	}
	s.codec.Forget(s.roomID)
	return err
}

func (s *Session) receiveLoop() {
	defer close(s.done)
	// A server-initiated disconnect must stop the expiry sweeper too.
	defer s.cancel()

	for {
		var frame protocol.Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Type {
		case protocol.TypeReceiveMessage:
			if frame.Message == nil {
				continue
			}
			plaintext, err := s.codec.Decrypt(frame.Message.Content, s.roomID)
			if err != nil {
				// Flagged rather than rendered as garbage.
				s.log.Warn("undecryptable message", zap.String("message_id", frame.Message.ID))
			}
			s.msgs.Add(view.Message{
				Envelope:      *frame.Message,
				Plaintext:     plaintext,
				Undecryptable: err != nil,
			})
		case protocol.TypeError:
			s.log.Warn("relay rejected frame",
				zap.String("code", frame.Code),
				zap.String("reason", frame.Reason))
		}
	}
}

func (s *Session) writeFrame(frame protocol.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(frame)
}

// RoomURL builds the shareable link for a room, for the clipboard/share
// surface and QR rendering.
func RoomURL(base, roomID string) string {
	return strings.TrimRight(base, "/") + "/room/" + roomID
}
