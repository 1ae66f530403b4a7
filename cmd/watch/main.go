package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"

	"packetworld.ai/internal/observerproto"
	"packetworld.ai/internal/sim/events"
)

func main() {
	var (
		url    = flag.String("url", "ws://127.0.0.1:8080/v1/ws", "observer ws url")
		filter = flag.String("events", "", "comma separated event types (default: all)")
		buffer = flag.Int("buffer", 0, "server side subscriber buffer (0 = server default)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[watch] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		Events:          splitEvents(*filter),
		Buffer:          *buffer,
	}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Printf("stream closed by server")
				return
			}
			logger.Printf("read: %v", err)
			return
		}
		var ev observerproto.EventMsg
		if err := json.Unmarshal(msg, &ev); err != nil || ev.Type != observerproto.TypeEvent {
			continue
		}
		logger.Print(describe(ev.Event))
		if ev.Event.Type == events.GameOver {
			return
		}
	}
}

func splitEvents(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

func describe(ev events.Event) string {
	switch ev.Type {
	case events.AgentAction:
		return fmt.Sprintf("%s tick=%d author=%s kind=%s status=%s", ev.Type, ev.Tick, ev.Author, ev.Kind, ev.Status)
	case events.MailSent:
		if ev.Mail != nil {
			return fmt.Sprintf("%s tick=%d %s", ev.Type, ev.Tick, ev.Mail)
		}
	}
	return fmt.Sprintf("%s tick=%d", ev.Type, ev.Tick)
}
