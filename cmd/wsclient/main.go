package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func main() {
	addr := flag.String("url", "ws://localhost:5000/ws", "Gateway websocket URL")
	token := flag.String("token", "", "Bearer token (see cmd/seed)")
	exchange := flag.String("exchange", "", "Exchange to join on connect")
	flag.Parse()

	if *token == "" {
		fmt.Println("Gateway client usage:")
		fmt.Println("  -token     Bearer token, required")
		fmt.Println("  -url       Gateway websocket URL")
		fmt.Println("  -exchange  Exchange id to join after connecting")
		fmt.Println()
		fmt.Println("Each stdin line is `<event> <json>`, e.g.")
		fmt.Println(`  message:send {"exchangeId":"...","body":"hi"}`)
		os.Exit(0)
	}

	u, err := url.Parse(*addr)
	if err != nil {
		log.Fatalf("Invalid url: %v", err)
	}
	q := u.Query()
	q.Set("token", *token)
	u.RawQuery = q.Encode()

	log.Println("Connecting to gateway...")
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Error connecting to gateway: %v", err)
	}
	defer conn.Close()
	log.Println("Connected")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				log.Printf("Read error: %v", err)
				return
			}
			log.Printf("<- %s %s", f.Event, f.Data)
		}
	}()

	outgoing := make(chan frame, 16)
	if *exchange != "" {
		outgoing <- frame{Event: "presence:join", Data: json.RawMessage(fmt.Sprintf(`{"exchangeId":%q}`, *exchange))}
	}
	go readInput(outgoing)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case f := <-outgoing:
			if err := conn.WriteJSON(f); err != nil {
				log.Printf("Write error: %v", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteJSON(frame{Event: "ping"}); err != nil {
				log.Printf("Error writing ping: %v", err)
				return
			}
		case <-interrupt:
			log.Println("Interrupt received, shutting down...")
			err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Printf("Error during close: %v", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}

func readInput(out chan<- frame) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		event, data, _ := strings.Cut(line, " ")
		f := frame{Event: event}
		if data = strings.TrimSpace(data); data != "" {
			if !json.Valid([]byte(data)) {
				log.Printf("Skipping %s: payload is not JSON", event)
				continue
			}
			f.Data = json.RawMessage(data)
		}
		out <- f
	}
}
