package spikedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/spikestream/internal/events"
	"github.com/banshee-data/spikestream/internal/events/spike"
)

// ErrNoRecording is returned for unknown recording ids.
var ErrNoRecording = errors.New("recording not found")

// Recording is one capture session of a single event source.
type Recording struct {
	ID          string
	SourceID    int16
	Label       string
	CreatedAt   time.Time
	PacketCount int64
}

// SpikeRow is a stored spike together with its position in the recording.
type SpikeRow struct {
	PacketSeq  int64
	EventIndex int32
	spike.Spike
}

// SpikeQuery filters Spikes. Nil fields match everything; FromUS is
// inclusive and ToUS exclusive.
type SpikeQuery struct {
	FromUS   *int64
	ToUS     *int64
	ChipID   *uint8
	NeuronID *uint32
	Limit    int
}

// CreateRecording starts a new recording and returns it.
func (db *DB) CreateRecording(ctx context.Context, sourceID int16, label string) (Recording, error) {
	r := Recording{
		ID:        uuid.New().String(),
		SourceID:  sourceID,
		Label:     label,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO recordings (recording_id, source_id, label, created_us) VALUES (?, ?, ?, ?)`,
		r.ID, r.SourceID, r.Label, r.CreatedAt.UnixMicro())
	if err != nil {
		return Recording{}, fmt.Errorf("insert recording: %w", err)
	}
	return r, nil
}

// Recording looks up one recording by id.
func (db *DB) Recording(ctx context.Context, id string) (Recording, error) {
	row := db.QueryRowContext(ctx,
		`SELECT recording_id, source_id, label, created_us, packet_count FROM recordings WHERE recording_id = ?`, id)
	r, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, fmt.Errorf("%w: %s", ErrNoRecording, id)
	}
	return r, err
}

// Recordings lists all recordings, oldest first.
func (db *DB) Recordings(ctx context.Context) ([]Recording, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT recording_id, source_id, label, created_us, packet_count FROM recordings ORDER BY created_us, recording_id`)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecording(s scanner) (Recording, error) {
	var r Recording
	var createdUS int64
	if err := s.Scan(&r.ID, &r.SourceID, &r.Label, &createdUS, &r.PacketCount); err != nil {
		return Recording{}, fmt.Errorf("scan recording: %w", err)
	}
	r.CreatedAt = time.UnixMicro(createdUS).UTC()
	return r, nil
}

// DeleteRecording removes a recording and all of its spikes.
func (db *DB) DeleteRecording(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM recordings WHERE recording_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNoRecording, id)
	}
	return nil
}

// InsertPacket stores every valid spike of p under the recording's next
// packet sequence number, in one transaction. It returns the number of
// spikes written.
func (db *DB) InsertPacket(ctx context.Context, recordingID string, p *spike.Packet) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, `SELECT packet_count FROM recordings WHERE recording_id = ?`, recordingID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrNoRecording, recordingID)
	}
	if err != nil {
		return 0, fmt.Errorf("read packet count: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO spikes
		(recording_id, packet_seq, event_index, source_core_id, chip_id, neuron_id, ts_us)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	n := 0
	for i, e := range p.ValidConst() {
		s := spike.Decode(p, e)
		if _, err := stmt.ExecContext(ctx, recordingID, seq, i,
			s.SourceCoreID, s.ChipID, s.NeuronID, s.Timestamp64); err != nil {
			return 0, fmt.Errorf("insert spike %d of packet %d: %w", i, seq, err)
		}
		n++
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE recordings SET packet_count = packet_count + 1 WHERE recording_id = ?`, recordingID); err != nil {
		return 0, fmt.Errorf("update packet count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// Spikes returns the spikes of a recording matching q, ordered by
// timestamp then position.
func (db *DB) Spikes(ctx context.Context, recordingID string, q SpikeQuery) ([]SpikeRow, error) {
	where := []string{"recording_id = ?"}
	args := []any{recordingID}
	if q.FromUS != nil {
		where = append(where, "ts_us >= ?")
		args = append(args, *q.FromUS)
	}
	if q.ToUS != nil {
		where = append(where, "ts_us < ?")
		args = append(args, *q.ToUS)
	}
	if q.ChipID != nil {
		where = append(where, "chip_id = ?")
		args = append(args, *q.ChipID)
	}
	if q.NeuronID != nil {
		where = append(where, "neuron_id = ?")
		args = append(args, *q.NeuronID)
	}

	query := `SELECT packet_seq, event_index, source_core_id, chip_id, neuron_id, ts_us FROM spikes WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY ts_us, packet_seq, event_index`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query spikes: %w", err)
	}
	defer rows.Close()

	var out []SpikeRow
	for rows.Next() {
		var r SpikeRow
		if err := rows.Scan(&r.PacketSeq, &r.EventIndex, &r.SourceCoreID, &r.ChipID, &r.NeuronID, &r.Timestamp64); err != nil {
			return nil, fmt.Errorf("scan spike: %w", err)
		}
		r.Timestamp = int32(r.Timestamp64 & (1<<events.TSOverflowShift - 1))
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountSpikes returns the number of spikes stored for a recording.
func (db *DB) CountSpikes(ctx context.Context, recordingID string) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spikes WHERE recording_id = ?`, recordingID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count spikes: %w", err)
	}
	return n, nil
}
