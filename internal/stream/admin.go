package stream

import (
	"fmt"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/spikestream/internal/events/spike"
	"github.com/banshee-data/spikestream/internal/httputil"
)

// AttachAdminRoutes mounts the hub's debug pages on mux: counters under
// /debug/hub and a live Server-Sent Events tail of decoded spikes under
// /debug/tail.
func (h *Hub) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.Handle("hub", "Stream hub counters (JSON)", http.HandlerFunc(h.handleStats))
	debug.HandleSilentFunc("tail", h.handleTail)
}

func (h *Hub) handleStats(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	s := h.Stats()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"published":   s.Published,
		"dropped":     s.Dropped,
		"subscribers": s.Subscribers,
	})
}

// handleTail sends one event per packet: a header line followed by one
// line per valid spike.
func (h *Hub) handleTail(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	packets, cancel := h.Subscribe()
	defer cancel()

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case wire, ok := <-packets:
			if !ok {
				return
			}
			p, err := spike.FromBytes(wire)
			if err != nil {
				fmt.Fprintf(w, "event: error\ndata: %v\n\n", err)
				flusher.Flush()
				continue
			}
			fmt.Fprintf(w, "data: packet source=%d valid=%d overflow=%d\n",
				p.EventSource(), p.EventValid(), p.TSOverflow())
			for _, e := range p.ValidConst() {
				fmt.Fprintf(w, "data: %s\n", spike.Decode(p, e))
			}
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
