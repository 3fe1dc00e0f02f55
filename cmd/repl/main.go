// repl is a terminal client for an agentworld server: it subscribes to one
// world, forwards typed lines as commands, and renders streamed agent
// replies as they assemble.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"agentworld.ai/internal/command"
	"agentworld.ai/internal/protocol"
	"agentworld.ai/internal/stream"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		worldID  = flag.String("world", "", "world id to subscribe to (optional)")
		clientID = flag.String("client", "HUMAN", "client identity (own events are not echoed)")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[repl] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if *worldID != "" {
		sub := protocol.SubscribeMsg{
			Type:            protocol.TypeSubscribe,
			ProtocolVersion: protocol.Version,
			WorldID:         *worldID,
			ClientID:        *clientID,
		}
		if err := conn.WriteJSON(sub); err != nil {
			logger.Fatalf("subscribe: %v", err)
		}
	}

	go readLoop(conn, logger)

	sc := bufio.NewScanner(os.Stdin)
	seq := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, command.Prefix) {
			fmt.Fprintf(os.Stderr, "commands start with %s (try %sgetWorlds)\n", command.Prefix, command.Prefix)
			continue
		}
		// Subscription control is its own frame type, not a routed command.
		fields := strings.Fields(strings.TrimPrefix(line, command.Prefix))
		switch {
		case len(fields) == 2 && strings.EqualFold(fields[0], "subscribe"):
			_ = conn.WriteJSON(protocol.SubscribeMsg{
				Type:            protocol.TypeSubscribe,
				ProtocolVersion: protocol.Version,
				WorldID:         fields[1],
				ClientID:        *clientID,
			})
			continue
		case len(fields) == 1 && strings.EqualFold(fields[0], "unsubscribe"):
			_ = conn.WriteJSON(protocol.UnsubscribeMsg{Type: protocol.TypeUnsubscribe, ProtocolVersion: protocol.Version})
			continue
		case len(fields) == 1 && strings.EqualFold(fields[0], "refresh"):
			_ = conn.WriteJSON(protocol.RefreshMsg{Type: protocol.TypeRefresh, ProtocolVersion: protocol.Version})
			continue
		}
		seq++
		cmd := protocol.CommandMsg{
			Type:            protocol.TypeCommand,
			ProtocolVersion: protocol.Version,
			RequestID:       fmt.Sprintf("req_%d_%d", time.Now().UnixNano(), seq),
			Timestamp:       time.Now().UTC(),
			Text:            line,
		}
		if err := conn.WriteJSON(cmd); err != nil {
			logger.Fatalf("send: %v", err)
		}
	}
}

func readLoop(conn *websocket.Conn, logger *log.Logger) {
	asm := stream.NewAssembler(logger)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Printf("connection closed: %v", err)
			os.Exit(0)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeSubscribed:
			var sub protocol.SubscribedMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				continue
			}
			fmt.Printf("* subscribed to %s (%d agents)\n", sub.WorldID, sub.AgentCount)

		case protocol.TypeResponse:
			var resp protocol.ResponseMsg
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}
			if !resp.Success {
				fmt.Printf("! %s: %s\n", resp.Command, resp.Error)
				continue
			}
			b, _ := json.MarshalIndent(resp.Data, "", "  ")
			fmt.Printf("= %s ok%s\n", resp.Command, renderRefresh(resp.RefreshWorld))
			if len(b) > 0 && string(b) != "null" {
				fmt.Println(string(b))
			}

		case protocol.TypeError:
			var em protocol.ErrorMsg
			if err := json.Unmarshal(msg, &em); err != nil {
				continue
			}
			fmt.Printf("! %s %s\n", em.Code, em.Message)

		case protocol.TypeEvent:
			handleEvent(asm, msg)
		}
	}
}

func handleEvent(asm *stream.Assembler, msg []byte) {
	var ev protocol.WorldEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return
	}
	if ev.EventType == protocol.EventSSE {
		// Producers disagree on field names for sse events; normalize before
		// feeding the assembler.
		norm, err := protocol.NormalizeStreamEvent(msg)
		if err != nil {
			return
		}
		m := asm.Apply(norm)
		if m == nil {
			return
		}
		switch {
		case m.Error:
			fmt.Printf("\n%s: [error: %s]\n", m.AgentName, m.ErrorText)
		case !m.Streaming:
			fmt.Printf("\r%s: %s\n", m.AgentName, m.Text)
		default:
			fmt.Printf("\r%s: %s", m.AgentName, m.Text)
		}
		return
	}
	if ev.Message != "" {
		fmt.Printf("[%s] %s: %s\n", ev.EventType, ev.Sender, ev.Message)
	}
}

func renderRefresh(refresh bool) string {
	if refresh {
		return " (world changed; /refresh to reload)"
	}
	return ""
}
