package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/rules"
)

var upgrader = websocket.Upgrader{} // use default options

// streamMessage is what the write loop sends: an event, element results, or
// a reply to a client message.
type streamMessage struct {
	Kind     string                `json:"kind"`
	Event    any                   `json:"event,omitempty"`
	Elements []rules.ElementResult `json:"elements,omitempty"`
	Seq      int64                 `json:"seq,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// handleEventStream upgrades to a websocket and streams every machine event
// and, with an element watcher, the element results after each change.
// Clients may send actions ({"type": ..., "payload": ...}); each is
// dispatched and acknowledged.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.opts.Hub == nil {
		respondError(w, http.StatusNotFound, "event stream disabled", nil)
		return
	}

	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer c.Close()

	events, cancel := s.opts.Hub.Subscribe(32)
	defer cancel()

	elements, stopElements := s.followElements()
	defer stopElements()

	replies := make(chan streamMessage, 8)
	done := make(chan struct{})
	ctx := r.Context()

	go func() {
		defer close(done)
		for {
			var msg streamMessage
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub closed"))
					return
				}
				msg = streamMessage{Kind: "event", Event: ev}
			case els := <-elements:
				msg = streamMessage{Kind: "elements", Elements: els}
			case msg = <-replies:
			}
			if err := c.WriteJSON(msg); err != nil {
				slog.Debug("websocket write failed", "error", err)
				return
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			slog.Debug("websocket closed", "error", err)
			break
		}

		var action ir.Action
		if err := json.Unmarshal(message, &action); err != nil || action.Type == "" {
			reply := streamMessage{Kind: "error", Error: "expected an action with a type"}
			if err != nil {
				reply.Error = "can't parse: " + err.Error()
			}
			if !send(replies, done, reply) {
				break
			}
			continue
		}
		action.Seq = 0
		reply := streamMessage{Kind: "ack"}
		if seq, ok := s.opts.Dispatcher.Submit(action); ok {
			reply.Seq = seq
		} else {
			reply = streamMessage{Kind: "error", Error: "dispatcher stopped"}
		}
		if !send(replies, done, reply) {
			break
		}
	}

	cancel()
	<-done
}

// followElements returns a channel holding the latest element results, if
// any are watched. It starts with the current results and keeps only the
// newest unsent value.
func (s *Server) followElements() (<-chan []rules.ElementResult, func()) {
	if s.opts.Elements == nil {
		return nil, func() {}
	}

	ch := make(chan []rules.ElementResult, 1)
	var mu sync.Mutex
	push := func(r []rules.ElementResult) {
		mu.Lock()
		defer mu.Unlock()
		select {
		case <-ch:
		default:
		}
		ch <- r
	}
	unsubscribe := s.opts.Elements.Subscribe(push)

	mu.Lock()
	if len(ch) == 0 {
		ch <- s.opts.Elements.Results()
	}
	mu.Unlock()
	return ch, unsubscribe
}

func send(ch chan<- streamMessage, done <-chan struct{}, msg streamMessage) bool {
	select {
	case ch <- msg:
		return true
	case <-done:
		return false
	}
}
