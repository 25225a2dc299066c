package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/a-h/templ"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"storefront/payment"
	"storefront/templates"
	"storefront/templates/checkout"
	"storefront/utils"
)

// Event names as seen by the browser
const (
	EventPaymentSurface   = "payment-surface"
	EventPaymentState     = "payment-state"
	EventPaymentStatus    = "payment-status"
	EventPaymentCompleted = "payment-completed"
	EventConfirm          = "payment-confirm"
	EventConfirmSettled   = "payment-confirm-settled"
	EventToast            = "toast"
)

const (
	clientBuffer   = 16
	sseKeepAlive   = 15 * time.Second
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = (wsPongWait * 9) / 10
	wsMaxReadBytes = 4096
)

// Event is one update pushed to the browser. SSE clients receive HTML, or the
// JSON of Data when there is none; WebSocket clients receive both as JSON.
type Event struct {
	Name string `json:"event"`
	HTML string `json:"html,omitempty"`
	Data any    `json:"data,omitempty"`
}

type eventClient struct {
	id   string
	kind string
	send chan Event
}

// EventBroadcaster fans events out to every connected browser.
type EventBroadcaster struct {
	mutex   sync.RWMutex
	clients map[string]*eventClient
}

func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{clients: make(map[string]*eventClient)}
}

func (b *EventBroadcaster) add(kind string) *eventClient {
	c := &eventClient{id: uuid.NewString(), kind: kind, send: make(chan Event, clientBuffer)}
	b.mutex.Lock()
	b.clients[c.id] = c
	b.mutex.Unlock()
	utils.Debug("events", "Client connected", "client_id", c.id, "kind", kind)
	return c
}

func (b *EventBroadcaster) remove(c *eventClient) {
	b.mutex.Lock()
	delete(b.clients, c.id)
	b.mutex.Unlock()
	utils.Debug("events", "Client disconnected", "client_id", c.id, "kind", c.kind)
}

// Clients returns the number of connected browsers.
func (b *EventBroadcaster) Clients() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.clients)
}

// Broadcast queues ev for every client. A client whose queue is full misses the event.
func (b *EventBroadcaster) Broadcast(ev Event) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	for _, c := range b.clients {
		select {
		case c.send <- ev:
		default:
			utils.Warn("events", "Client too slow, event dropped", "client_id", c.id, "event", ev.Name)
		}
	}
}

// WidgetFailed notifies the customer that the hosted widget was closed after an error.
func (b *EventBroadcaster) WidgetFailed(err error) {
	t := templates.Toast{Message: "The payment form stopped working. Please try again.", Type: templates.ToastError}
	utils.Debug("events", "Widget failure toast", "error", err)
	b.Broadcast(Event{Name: EventToast, Data: t})
}

func renderString(ctx context.Context, c templ.Component) string {
	var buf strings.Builder
	if err := c.Render(ctx, &buf); err != nil {
		utils.Error("events", "Error rendering component", "error", err)
		return ""
	}
	return buf.String()
}

// initialEvents brings a newly connected browser up to date.
func (h *Handler) initialEvents(ctx context.Context) []Event {
	events := []Event{{
		Name: EventPaymentSurface,
		HTML: renderString(ctx, checkout.PaymentSurface(h.surfacePage())),
	}}
	if h.decisions != nil {
		for _, v := range h.decisions.Pending() {
			events = append(events, Event{
				Name: EventConfirm,
				HTML: renderString(ctx, checkout.ConfirmPrompt(v)),
				Data: payment.ConfirmRequested{ID: v.ID, Prompt: v.Prompt},
			})
		}
	}
	return events
}

// writeSSE writes one event; multi-line payloads become several data lines.
func writeSSE(w io.Writer, ev Event) error {
	payload := ev.HTML
	if payload == "" {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("error encoding event %s: %w", ev.Name, err)
		}
		payload = string(data)
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Name); err != nil {
		return err
	}
	for _, line := range strings.Split(payload, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// PaymentEvents streams payment updates as Server-Sent Events.
func (h *Handler) PaymentEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported by client", http.StatusInternalServerError)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := h.events.add("sse")
	defer h.events.remove(client)

	for _, ev := range h.initialEvents(r.Context()) {
		if err := writeSSE(w, ev); err != nil {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-client.send:
			if err := writeSSE(w, ev); err != nil {
				utils.Debug("events", "SSE write failed", "client_id", client.id, "error", err)
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// socketMessage is what the browser may send over the WebSocket.
type socketMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Answer    bool   `json:"answer"`
	PaymentID string `json:"payment_id"`
	Message   string `json:"message"`
}

// PaymentSocket streams payment updates over a WebSocket and accepts
// decisions and widget errors from the browser.
func (h *Handler) PaymentSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		utils.Warn("events", "WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := h.events.add("ws")
	defer h.events.remove(client)

	done := make(chan struct{})
	defer close(done)
	go h.writePump(conn, client, h.initialEvents(r.Context()), done)

	conn.SetReadLimit(wsMaxReadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.Debug("events", "WebSocket closed", "client_id", client.id, "error", err)
			}
			return
		}
		var msg socketMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		h.handleSocketMessage(r.Context(), msg)
	}
}

func (h *Handler) handleSocketMessage(ctx context.Context, msg socketMessage) {
	switch msg.Type {
	case "decision":
		if h.decisions == nil || !h.decisions.Resolve(msg.ID, msg.Answer) {
			utils.Debug("events", "Decision for unknown prompt", "id", msg.ID)
		}
	case "widget_error":
		sig := payment.WidgetError{PaymentID: msg.PaymentID}
		if msg.Message != "" {
			sig.Err = errors.New(msg.Message)
		}
		h.orch.Bus().Publish(ctx, sig)
	default:
		utils.Debug("events", "Unknown socket message", "type", msg.Type)
	}
}

// writePump copies events to the connection and keeps it alive with pings.
func (h *Handler) writePump(conn *websocket.Conn, client *eventClient, initial []Event, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	write := func(ev Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(ev)
	}
	for _, ev := range initial {
		if err := write(ev); err != nil {
			return
		}
	}
	for {
		select {
		case <-done:
			return
		case ev := <-client.send:
			if err := write(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
