package spikedb

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/spikestream/internal/httputil"
)

// defaultSpikeLimit caps /debug/spikes responses without a limit parameter.
const defaultSpikeLimit = 1000

// recordingJSON is the /debug/recordings view of a Recording.
type recordingJSON struct {
	ID          string `json:"recording_id"`
	SourceID    int16  `json:"source_id"`
	Label       string `json:"label"`
	CreatedAt   string `json:"created_at"`
	PacketCount int64  `json:"packet_count"`
	SpikeCount  int64  `json:"spike_count"`
}

// spikeJSON is the /debug/spikes view of a SpikeRow.
type spikeJSON struct {
	PacketSeq    int64  `json:"packet_seq"`
	EventIndex   int32  `json:"event_index"`
	SourceCoreID uint8  `json:"source_core_id"`
	ChipID       uint8  `json:"chip_id"`
	NeuronID     uint32 `json:"neuron_id"`
	TimestampUS  int64  `json:"ts_us"`
}

// AttachAdminRoutes mounts the debug pages of the database on mux: a live
// SQL console under /debug/tailsql/, a JSON listing of recordings under
// /debug/recordings and the spikes of one recording under /debug/spikes.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Spike DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("recordings", "Recordings with packet and spike counts (JSON)", http.HandlerFunc(db.handleRecordings))
	debug.Handle("spikes", "Spikes of a recording: ?recording_id=&limit= (JSON)", http.HandlerFunc(db.handleSpikes))
	return nil
}

func (db *DB) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	recs, err := db.Recordings(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err)
		return
	}
	out := make([]recordingJSON, 0, len(recs))
	for _, rec := range recs {
		n, err := db.CountSpikes(r.Context(), rec.ID)
		if err != nil {
			httputil.InternalServerError(w, err)
			return
		}
		out = append(out, recordingJSON{
			ID:          rec.ID,
			SourceID:    rec.SourceID,
			Label:       rec.Label,
			CreatedAt:   rec.CreatedAt.Format("2006-01-02T15:04:05.000000Z07:00"),
			PacketCount: rec.PacketCount,
			SpikeCount:  n,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (db *DB) handleSpikes(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	id := r.URL.Query().Get("recording_id")
	if id == "" {
		httputil.BadRequest(w, "recording_id is required")
		return
	}
	limit := defaultSpikeLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	if _, err := db.Recording(r.Context(), id); err != nil {
		if errors.Is(err, ErrNoRecording) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, err)
		return
	}
	rows, err := db.Spikes(r.Context(), id, SpikeQuery{Limit: limit})
	if err != nil {
		httputil.InternalServerError(w, err)
		return
	}
	out := make([]spikeJSON, 0, len(rows))
	for _, row := range rows {
		out = append(out, spikeJSON{
			PacketSeq:    row.PacketSeq,
			EventIndex:   row.EventIndex,
			SourceCoreID: row.SourceCoreID,
			ChipID:       row.ChipID,
			NeuronID:     row.NeuronID,
			TimestampUS:  row.Timestamp64,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
