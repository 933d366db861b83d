// Command chatapp is a terminal participant for manual and integration
// testing: it creates or joins a room, seals a message under the room id, and
// prints whatever the room's peers send back, honoring self-destruct timers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Pugazh0602/shoadowchat/internal/cipher"
	"github.com/Pugazh0602/shoadowchat/internal/client"
	"github.com/Pugazh0602/shoadowchat/internal/logging"
)

type appConfig struct {
	serverURL string
	shareBase string
	roomID    string
	label     string
	role      string
	message   string
	ttl       time.Duration
	timeout   time.Duration
	logLevel  string
}

func main() {
	cfg := parseConfig()
	if err := run(cfg); err != nil {
		log.Fatalf("chatapp failed: %v", err)
	}
	log.Printf("chatapp role %s completed room %s", cfg.role, cfg.roomID)
}

func parseConfig() appConfig {
	var cfg appConfig
	flag.StringVar(&cfg.serverURL, "server", "ws://127.0.0.1:5000/ws", "Relay WebSocket endpoint")
	flag.StringVar(&cfg.shareBase, "share-base", "http://127.0.0.1:5000", "Base URL for the printed shareable room link")
	flag.StringVar(&cfg.roomID, "room", "", "Room id to join; generated and printed when empty")
	flag.StringVar(&cfg.label, "label", "", "Display name attached to sent messages")
	flag.StringVar(&cfg.role, "role", "sender", "Role for this participant (sender|receiver)")
	flag.StringVar(&cfg.message, "message", "hello from chatapp", "Plaintext to seal and send (sender role)")
	flag.DurationVar(&cfg.ttl, "ttl", 30*time.Second, "Self-destruct timer for the sent message; 0 disables expiry")
	flag.DurationVar(&cfg.timeout, "timeout", 30*time.Second, "Overall timeout for the chat flow")
	flag.StringVar(&cfg.logLevel, "log-level", "warn", "Log verbosity")
	flag.Parse()

	switch cfg.role {
	case "sender", "receiver":
	default:
		log.Fatalf("unsupported role %s (expected sender or receiver)", cfg.role)
	}

	if cfg.roomID == "" {
		roomID, err := cipher.GenerateRoomID()
		if err != nil {
			log.Fatalf("generate room id: %v", err)
		}
		passphrase, err := cipher.GeneratePassphrase()
		if err != nil {
			log.Fatalf("generate passphrase: %v", err)
		}
		cfg.roomID = roomID
		fmt.Printf("room id:    %s\n", roomID)
		fmt.Printf("share link: %s\n", client.RoomURL(cfg.shareBase, roomID))
		fmt.Printf("passphrase: %s\n", passphrase)
	}
	return cfg
}

func run(cfg appConfig) error {
	logger, err := logging.NewConsoleLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := client.Dial(ctx, client.Options{
		ServerURL: cfg.serverURL,
		RoomID:    cfg.roomID,
		Label:     cfg.label,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	if cfg.role == "sender" {
		if err := sess.Send(cfg.message, cfg.ttl); err != nil {
			return err
		}
		fmt.Printf("sent (self-destructs in %s): %s\n", cfg.ttl, cfg.message)
		// Linger until the deadline so peers that joined the printed link
		// can still answer in this session.
		return awaitMessages(ctx, sess, false)
	}
	return awaitMessages(ctx, sess, true)
}

// awaitMessages prints arriving messages until the context ends. When
// required is true, leaving without a single delivery is an error. Messages
// already in the view, such as the sender's own copy, are not reprinted.
func awaitMessages(ctx context.Context, sess *client.Session, required bool) error {
	seen := make(map[string]bool)
	for _, msg := range sess.View().Visible() {
		seen[msg.Envelope.ID] = true
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	received := 0
	for {
		select {
		case <-ctx.Done():
			if required && received == 0 {
				return fmt.Errorf("no message before deadline: %w", ctx.Err())
			}
			return nil
		case <-sess.Done():
			if required && received == 0 {
				return fmt.Errorf("connection closed before any message arrived")
			}
			return nil
		case <-ticker.C:
			for _, msg := range sess.View().Visible() {
				if seen[msg.Envelope.ID] {
					continue
				}
				seen[msg.Envelope.ID] = true
				if msg.Undecryptable {
					fmt.Printf("[%s] <undecryptable>\n", msg.Envelope.Sender)
					continue
				}
				received++
				sess.View().MarkRead(msg.Envelope.ID)
				fmt.Printf("[%s] %s\n", msg.Envelope.Sender, msg.Plaintext)
				if required {
					return nil
				}
			}
		}
	}
}
