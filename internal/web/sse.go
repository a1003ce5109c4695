package web

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/rs/zerolog"

	"github.com/navikt/breakouts/internal/logging"
	"github.com/navikt/breakouts/internal/models"
)

// clientBuffer is how many undelivered events a slow client may lag behind
const clientBuffer = 32

// streamClient is one open event stream of a session
type streamClient struct {
	id     string
	events chan models.SessionEvent
}

// EventStream delivers session events to the caller's UI as server-sent events.
// A session may have several open streams, e.g. one per browser tab.
type EventStream struct {
	mu        sync.RWMutex
	clients   map[string]map[*streamClient]struct{}
	heartbeat time.Duration
	nextID    uint64
}

// NewEventStream creates an event stream hub
func NewEventStream(heartbeat time.Duration) *EventStream {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &EventStream{
		clients:   make(map[string]map[*streamClient]struct{}),
		heartbeat: heartbeat,
	}
}

func (es *EventStream) register(sessionID string) *streamClient {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.nextID++
	client := &streamClient{
		id:     fmt.Sprintf("%s-%d", sessionID, es.nextID),
		events: make(chan models.SessionEvent, clientBuffer),
	}
	if es.clients[sessionID] == nil {
		es.clients[sessionID] = make(map[*streamClient]struct{})
	}
	es.clients[sessionID][client] = struct{}{}
	return client
}

func (es *EventStream) unregister(sessionID string, client *streamClient) {
	es.mu.Lock()
	defer es.mu.Unlock()

	delete(es.clients[sessionID], client)
	if len(es.clients[sessionID]) == 0 {
		delete(es.clients, sessionID)
	}
}

// ClientCount returns the number of open streams of a session
func (es *EventStream) ClientCount(sessionID string) int {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return len(es.clients[sessionID])
}

// Notify queues an event for every open stream of its session. It never
// blocks: a client whose buffer is full misses the event.
func (es *EventStream) Notify(event models.SessionEvent) {
	logger := logging.Module("events")

	es.mu.RLock()
	defer es.mu.RUnlock()

	for client := range es.clients[event.SessionID] {
		select {
		case client.events <- event:
		default:
			logger.Warn().
				Str("client_id", client.id).
				Str("event", event.Name).
				Msg("Event stream client is lagging, dropping event")
		}
	}
}

// ServeSession streams the events of one session until the client goes away
// or the session is closed
func (es *EventStream) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	logger := logging.Module("events")
	logRequest(logger, r)

	// Set CORS headers to make SSE work in various environments
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if !isEventStreamSupported(r) {
		http.Error(w, "This endpoint requires EventStream support", http.StatusNotAcceptable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// Set required headers for SSE
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx proxy buffering
	w.Header().Set("X-Content-Type-Options", "nosniff")

	client := es.register(sessionID)
	defer es.unregister(sessionID, client)

	logger.Info().Str("client_id", client.id).Str("remote", r.RemoteAddr).Msg("Event stream client connected")
	defer func() {
		logger.Info().Str("client_id", client.id).Msg("Event stream client disconnected")
	}()

	fmt.Fprintf(w, "retry: 5000\n")
	if err := sse.Encode(w, sse.Event{
		Event: "connected",
		Data:  map[string]string{"id": client.id, "session_id": sessionID},
	}); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(es.heartbeat)
	defer heartbeat.Stop()

	var sequence uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": heartbeat %s\n\n", time.Now().Format(time.RFC3339)); err != nil {
				logger.Debug().Err(err).Str("client_id", client.id).Msg("Heartbeat write failed")
				return
			}
			flusher.Flush()
		case event := <-client.events:
			sequence++
			err := sse.Encode(w, sse.Event{
				Id:    fmt.Sprintf("%d", sequence),
				Event: event.Name,
				Data:  event,
			})
			if err != nil {
				logger.Debug().Err(err).Str("client_id", client.id).Msg("Event write failed")
				return
			}
			flusher.Flush()

			if event.Name == models.SessionEventClosed {
				return
			}
		}
	}
}

// logRequest logs connection details useful when debugging proxies
func logRequest(logger zerolog.Logger, r *http.Request) {
	logger.Debug().
		Str("remote", r.RemoteAddr).
		Str("proto", r.Proto).
		Bool("tls", r.TLS != nil).
		Str("accept", r.Header.Get("Accept")).
		Str("user_agent", r.Header.Get("User-Agent")).
		Str("forwarded_for", r.Header.Get("X-Forwarded-For")).
		Msg("Event stream request")
}

// isEventStreamSupported checks if the client accepts event streams
func isEventStreamSupported(r *http.Request) bool {
	accepts := r.Header.Get("Accept")

	return accepts == "" ||
		accepts == "*/*" ||
		strings.Contains(accepts, "text/event-stream")
}
