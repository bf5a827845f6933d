package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/MamunCrafts/video-chat-app/pkg/client"
	"github.com/MamunCrafts/video-chat-app/pkg/protocol"
)

type appConfig struct {
	relayURL string
	userID   string
	peerID   string
	role     string
	message  string
	timeout  time.Duration
}

func main() {
	cfg := parseConfig()
	if err := run(cfg); err != nil {
		log.Fatalf("mock client failed: %v", err)
	}
	log.Printf("mock client role %s completed against peer %s", cfg.role, cfg.peerID)
}

func parseConfig() appConfig {
	var cfg appConfig
	flag.StringVar(&cfg.relayURL, "relay", "ws://127.0.0.1:8080/ws", "Websocket URL of the relay")
	flag.StringVar(&cfg.userID, "user", "mock-sender", "User identity for this client")
	flag.StringVar(&cfg.peerID, "peer", "mock-receiver", "Peer identity to chat with")
	flag.StringVar(&cfg.role, "role", "sender", "Role for this client (sender|receiver)")
	flag.StringVar(&cfg.message, "message", "integration-message", "Message content to relay")
	flag.DurationVar(&cfg.timeout, "timeout", 30*time.Second, "Overall timeout for the chat flow")
	flag.Parse()

	switch cfg.role {
	case "sender", "receiver":
	default:
		log.Fatalf("unsupported role %s (expected sender or receiver)", cfg.role)
	}
	return cfg
}

func run(cfg appConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	received := make(chan protocol.MessageRecord, 8)
	peerJoined := make(chan string, 1)
	c, err := client.Dial(ctx, cfg.relayURL, client.Options{
		Handlers: client.Handlers{
			OnMessage: func(rec protocol.MessageRecord) {
				select {
				case received <- rec:
				default:
				}
			},
			OnUserConnected: func(userID string) {
				select {
				case peerJoined <- userID:
				default:
				}
			},
			OnError: func(data protocol.ErrorData) {
				log.Printf("relay rejected a frame: %s %s", data.Code, data.Message)
			},
		},
	})
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Setup(cfg.userID); err != nil {
		return err
	}
	if err := c.JoinRoom(cfg.peerID); err != nil {
		return err
	}

	switch cfg.role {
	case "sender":
		return runSender(ctx, c, cfg, received, peerJoined)
	default:
		return runReceiver(ctx, cfg, received)
	}
}

func runSender(ctx context.Context, c *client.Client, cfg appConfig, received <-chan protocol.MessageRecord, peerJoined <-chan string) error {
	// wait for the receiver's presence announcement before sending, so the
	// message is pushed rather than left for history catch-up
	select {
	case userID := <-peerJoined:
		log.Printf("peer %s joined", userID)
	case <-time.After(2 * time.Second):
		log.Printf("no presence announcement; sending anyway")
	case <-ctx.Done():
		return ctx.Err()
	}

	thread := client.NewConversation(cfg.userID)
	thread.AppendLocal(cfg.peerID, cfg.message)
	if err := c.SendMessage(cfg.peerID, cfg.message); err != nil {
		return err
	}

	// the relay echoes the persisted record back on our own channel
	select {
	case rec := <-received:
		if rec.Content != cfg.message {
			return fmt.Errorf("echo content mismatch: %q vs %q", rec.Content, cfg.message)
		}
		if appended := thread.Deliver(rec); appended {
			return fmt.Errorf("echo was not suppressed")
		}
		log.Printf("message persisted as %s at %d", rec.ID, rec.Timestamp)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no echo before timeout: %w", ctx.Err())
	}
}

func runReceiver(ctx context.Context, cfg appConfig, received <-chan protocol.MessageRecord) error {
	for {
		select {
		case rec := <-received:
			if rec.SenderID != cfg.peerID {
				log.Printf("ignoring message from %s", rec.SenderID)
				continue
			}
			if rec.Content != cfg.message {
				return fmt.Errorf("received payload mismatch: %q vs %q", rec.Content, cfg.message)
			}
			log.Printf("received %s from %s", rec.ID, rec.SenderID)
			return nil
		case <-ctx.Done():
			return fmt.Errorf("no message before timeout: %w", ctx.Err())
		}
	}
}
