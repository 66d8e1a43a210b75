package main

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
)

// Config drives one load run. Every token must belong to a member of RoomID.
type Config struct {
	WSURL    string        `env:"WS_URL,default=ws://localhost:8080/ws/chat"`
	RoomID   string        `env:"ROOM_ID,required=true"`
	Tokens   string        `env:"TOKENS,required=true"`
	MsgCount int           `env:"MSG_COUNT,default=20"`
	Interval time.Duration `env:"MSG_INTERVAL,default=10ms"`
	Settle   time.Duration `env:"SETTLE,default=2s"`
	LogLevel string        `env:"LOG_LEVEL,default=INFO"`
}

func main() {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	tokens := lo.Compact(lo.Map(strings.Split(cfg.Tokens, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
	url := fmt.Sprintf("%s/%s/", strings.TrimSuffix(cfg.WSURL, "/"), cfg.RoomID)
	log.Info("Starting load test", "clients", len(tokens), "messages_each", cfg.MsgCount, "url", url)

	var (
		wg       sync.WaitGroup
		received atomic.Int64
		failed   atomic.Int64
	)
	for i, token := range tokens {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := chatter(cfg, url, token, i, &received); err != nil {
				failed.Add(1)
				log.Warn("Client failed", "client", i, "error", err)
			}
		}()
	}
	wg.Wait()

	// Every chat message is echoed to each member, the sender included.
	connected := int64(len(tokens)) - failed.Load()
	expected := connected * connected * int64(cfg.MsgCount)
	log.Info("Load test complete", "received", received.Load(), "expected", expected, "failed_clients", failed.Load())
}

func chatter(cfg Config, url, token string, client int, received *atomic.Int64) error {
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			received.Add(1)
		}
	}()

	for i := 0; i < cfg.MsgCount; i++ {
		msg := map[string]any{
			"type":                "chat_message",
			"message":             fmt.Sprintf("load test %d from client %d", i, client),
			"firebase_message_id": fmt.Sprintf("lt-%d-%d", client, i),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		time.Sleep(cfg.Interval)
	}

	// Leave time for the other clients' messages to arrive.
	time.Sleep(cfg.Settle)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	<-done
	return nil
}
