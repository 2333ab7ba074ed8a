package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

type clientConfig struct {
	serverAddr string
	userID     string
	chatID     string
	text       string
	role       string
	timeout    time.Duration
}

func main() {
	cfg := parseConfig()
	if err := run(cfg); err != nil {
		log.Fatalf("mock client failed: %v", err)
	}
	log.Printf("mock client role %s completed chat %s", cfg.role, cfg.chatID)
}

func parseConfig() clientConfig {
	var cfg clientConfig
	flag.StringVar(&cfg.serverAddr, "server", "127.0.0.1:8000", "HTTP address of the relay")
	flag.StringVar(&cfg.userID, "user", "alice", "User identifier for the websocket handshake")
	flag.StringVar(&cfg.chatID, "chat", "chat_1", "Chat identifier to message")
	flag.StringVar(&cfg.text, "text", "integration hello", "Message text to send")
	flag.StringVar(&cfg.role, "role", "sender", "Role for this client (sender|listener)")
	flag.DurationVar(&cfg.timeout, "timeout", 30*time.Second, "Overall timeout for the flow")
	flag.Parse()

	switch cfg.role {
	case "sender", "listener":
	default:
		log.Fatalf("unsupported role %s (expected sender or listener)", cfg.role)
	}
	return cfg
}

func run(cfg clientConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	u := url.URL{Scheme: "ws", Host: cfg.serverAddr, Path: "/ws/" + cfg.userID}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	_ = conn.SetReadDeadline(deadline)

	if err := expectInitialData(conn, cfg); err != nil {
		return err
	}

	if cfg.role == "sender" {
		send := map[string]string{"type": "send_message", "chat_id": cfg.chatID, "text": cfg.text}
		if err := conn.WriteJSON(send); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}

	return awaitMessage(conn, cfg)
}

func expectInitialData(conn *websocket.Conn, cfg clientConfig) error {
	frame, err := readFrame(conn)
	if err != nil {
		return fmt.Errorf("recv initial_data: %w", err)
	}
	if frame["type"] != "initial_data" {
		return fmt.Errorf("expected initial_data, got %v", frame["type"])
	}

	chats, _ := frame["chats"].([]any)
	online, _ := frame["online_users"].([]any)
	log.Printf("connected as %s: %d chats, %d users online", cfg.userID, len(chats), len(online))

	for _, raw := range chats {
		chat, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if chat["id"] == cfg.chatID {
			return nil
		}
	}
	return fmt.Errorf("user %s is not a participant of chat %s", cfg.userID, cfg.chatID)
}

// awaitMessage reads frames until the expected new_message for the chat
// arrives. Presence frames from other clients are logged and skipped.
func awaitMessage(conn *websocket.Conn, cfg clientConfig) error {
	for {
		frame, err := readFrame(conn)
		if err != nil {
			return fmt.Errorf("recv frame: %w", err)
		}

		switch frame["type"] {
		case "new_message":
			if frame["chat_id"] != cfg.chatID {
				continue
			}
			msg, ok := frame["message"].(map[string]any)
			if !ok {
				return fmt.Errorf("malformed new_message frame: %v", frame)
			}
			log.Printf("message %v from %v: %v", msg["id"], msg["sender"], msg["text"])
			if cfg.role == "sender" && msg["text"] != cfg.text {
				return fmt.Errorf("fan-out text mismatch: %v vs %s", msg["text"], cfg.text)
			}
			return nil
		case "user_online", "user_offline", "online_users_update":
			log.Printf("presence frame: %v", frame["type"])
		case "protocol_error":
			return fmt.Errorf("error frame: %v", frame["reason"])
		default:
			log.Printf("ignoring frame: %v", frame["type"])
		}
	}
}

func readFrame(conn *websocket.Conn) (map[string]any, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return frame, nil
}
