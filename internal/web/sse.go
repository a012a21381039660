package web

import (
	"fmt"
	"net/http"
)

// handleSSE streams board update events to a browser over Server-Sent Events.
// Each connection owns its event channel: this handler is the only code that
// closes it, and only after removing it from the client set, so Broadcast can
// never send on a closed channel.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := make(chan string, 10)
	s.sseMu.Lock()
	s.sseClients[events] = true
	s.sseMu.Unlock()

	defer func() {
		s.sseMu.Lock()
		delete(s.sseClients, events)
		s.sseMu.Unlock()
		close(events)
	}()

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
	flusher.Flush()

	s.logger.Debug("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected")
			return
		case <-s.done:
			return
		case msg := <-events:
			fmt.Fprintf(w, "event: %s\ndata: {\"type\":\"%s\"}\n\n", msg, msg)
			flusher.Flush()
		}
	}
}
