package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"agentworld.ai/internal/command"
	"agentworld.ai/internal/protocol"
	"agentworld.ai/internal/subscription"
	"agentworld.ai/internal/world"
)

// Recorder receives every processed command and every forwarded event for
// durable logging/indexing. Implementations must not block.
type Recorder interface {
	RecordEvent(worldID string, ev protocol.WorldEvent)
	RecordCommand(worldID, clientID string, cmd protocol.CommandMsg, resp protocol.ResponseMsg)
}

// Metrics are the server's atomic counters, exposed on /metrics.
type Metrics struct {
	ClientsConnected    atomic.Int64
	SubscriptionsActive atomic.Int64
	CommandsOK          atomic.Int64
	CommandsFailed      atomic.Int64
	EventsForwarded     atomic.Int64
	EventsDropped       atomic.Int64
}

type Server struct {
	router   *command.Router
	subs     *subscription.Manager
	recorder Recorder
	log      *log.Logger

	root            string
	defaultClientID string
	maxQueue        int

	metrics  Metrics
	upgrader websocket.Upgrader
}

type Options struct {
	Root            string
	DefaultClientID string
	MaxQueue        int
	Recorder        Recorder
}

func NewServer(router *command.Router, subs *subscription.Manager, opts Options, logger *log.Logger) *Server {
	if opts.DefaultClientID == "" {
		opts.DefaultClientID = "HUMAN"
	}
	if opts.MaxQueue <= 0 {
		opts.MaxQueue = 256
	}
	return &Server{
		router:          router,
		subs:            subs,
		recorder:        opts.Recorder,
		log:             logger,
		root:            opts.Root,
		defaultClientID: opts.DefaultClientID,
		maxQueue:        opts.MaxQueue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Metrics() *Metrics { return &s.metrics }

// wsClient adapts one connection's outbound queue to the subscription
// Client. Send is best-effort: when the queue is full or the connection is
// gone the event is dropped, not retried.
type wsClient struct {
	id      string
	srv     *Server
	worldID string
	out     chan []byte
	closed  atomic.Bool
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Send(ev protocol.WorldEvent) {
	if c.closed.Load() {
		return
	}
	ev.Type = protocol.TypeEvent
	ev.ProtocolVersion = protocol.Version
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case c.out <- b:
		c.srv.metrics.EventsForwarded.Add(1)
		if c.srv.recorder != nil {
			c.srv.recorder.RecordEvent(c.worldID, ev)
		}
	default:
		c.srv.metrics.EventsDropped.Add(1)
	}
}

func (c *wsClient) enqueue(v any) {
	if c.closed.Load() {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.out <- b:
	default:
		c.srv.metrics.EventsDropped.Add(1)
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		s.metrics.ClientsConnected.Add(1)
		defer s.metrics.ClientsConnected.Add(-1)

		client := &wsClient{
			id:  s.defaultClientID,
			srv: s,
			out: make(chan []byte, s.maxQueue),
		}
		done := make(chan struct{})
		defer close(done)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-done:
					return
				case b := <-client.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						client.closed.Store(true)
						return
					}
				}
			}
		}()

		var sub *subscription.Subscription
		defer func() {
			if sub != nil {
				sub.Unsubscribe()
				s.metrics.SubscriptionsActive.Add(-1)
			}
		}()

		// Reader loop.
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				client.enqueue(protocol.ErrorMsg{
					Type:            protocol.TypeError,
					ProtocolVersion: protocol.Version,
					Code:            protocol.ErrBadRequest,
					Message:         "malformed frame",
				})
				continue
			}
			switch base.Type {
			case protocol.TypeSubscribe:
				sub = s.handleSubscribe(client, sub, msg)
			case protocol.TypeUnsubscribe:
				if sub != nil {
					sub.Unsubscribe()
					sub = nil
					client.worldID = ""
					s.metrics.SubscriptionsActive.Add(-1)
				}
			case protocol.TypeRefresh:
				s.handleRefresh(client, sub)
			case protocol.TypeCommand:
				s.handleCommand(client, sub, msg)
			default:
				client.enqueue(protocol.ErrorMsg{
					Type:            protocol.TypeError,
					ProtocolVersion: protocol.Version,
					Code:            protocol.ErrBadRequest,
					Message:         "unexpected message type " + base.Type,
				})
			}
		}
	}
}

func (s *Server) handleSubscribe(client *wsClient, old *subscription.Subscription, msg []byte) *subscription.Subscription {
	var req protocol.SubscribeMsg
	if err := json.Unmarshal(msg, &req); err != nil || req.WorldID == "" {
		client.enqueue(protocol.ErrorMsg{
			Type:            protocol.TypeError,
			ProtocolVersion: protocol.Version,
			Code:            protocol.ErrBadRequest,
			Message:         "subscribe needs a world_id",
		})
		return old
	}
	if req.ClientID != "" {
		client.id = req.ClientID
	}
	// One world per connection; re-subscribing replaces the old binding.
	if old != nil {
		old.Unsubscribe()
		s.metrics.SubscriptionsActive.Add(-1)
	}
	sub, err := s.subs.Subscribe(s.root, req.WorldID, client)
	if err != nil {
		client.worldID = ""
		client.enqueue(protocol.ErrorMsg{
			Type:            protocol.TypeError,
			ProtocolVersion: protocol.Version,
			Code:            protocol.ErrWorldNotFound,
			Message:         err.Error(),
		})
		return nil
	}
	client.worldID = sub.WorldID()
	s.metrics.SubscriptionsActive.Add(1)
	w := sub.World()
	client.enqueue(protocol.SubscribedMsg{
		Type:            protocol.TypeSubscribed,
		ProtocolVersion: protocol.Version,
		WorldID:         w.ID,
		WorldName:       w.Name,
		AgentCount:      len(w.Agents),
		Timestamp:       time.Now().UTC(),
	})
	return sub
}

func (s *Server) handleRefresh(client *wsClient, sub *subscription.Subscription) {
	if sub == nil {
		client.enqueue(protocol.ErrorMsg{
			Type:            protocol.TypeError,
			ProtocolVersion: protocol.Version,
			Code:            protocol.ErrContextRequired,
			Message:         "refresh requires an active subscription",
		})
		return
	}
	w, err := sub.Refresh(s.root)
	if err != nil {
		client.enqueue(protocol.ErrorMsg{
			Type:            protocol.TypeError,
			ProtocolVersion: protocol.Version,
			Code:            protocol.ErrDomain,
			Message:         err.Error(),
		})
		return
	}
	client.enqueue(protocol.SubscribedMsg{
		Type:            protocol.TypeSubscribed,
		ProtocolVersion: protocol.Version,
		WorldID:         w.ID,
		WorldName:       w.Name,
		AgentCount:      len(w.Agents),
		Timestamp:       time.Now().UTC(),
	})
}

func (s *Server) handleCommand(client *wsClient, sub *subscription.Subscription, msg []byte) {
	var cmd protocol.CommandMsg
	if err := json.Unmarshal(msg, &cmd); err != nil {
		client.enqueue(protocol.ErrorMsg{
			Type:            protocol.TypeError,
			ProtocolVersion: protocol.Version,
			Code:            protocol.ErrBadRequest,
			Message:         "malformed command",
		})
		return
	}
	resp := s.router.Execute(cmd, subWorld(sub))
	if resp.Success {
		s.metrics.CommandsOK.Add(1)
	} else {
		s.metrics.CommandsFailed.Add(1)
	}
	if s.recorder != nil {
		s.recorder.RecordCommand(client.worldID, client.id, cmd, resp)
	}
	client.enqueue(resp)

	// A mutation against the live world is re-read by the subscriber via
	// refresh; nothing else to do server-side.
	if s.log != nil && !resp.Success {
		s.log.Printf("command %s failed client=%s code=%s: %s", resp.Command, client.id, resp.Code, resp.Error)
	}
}

func subWorld(sub *subscription.Subscription) *world.World {
	if sub == nil {
		return nil
	}
	return sub.World()
}
