package lidardb

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/lidar-synth/internal/lidar/node"
	"github.com/banshee-data/lidar-synth/internal/lidar/ouster"
	"github.com/banshee-data/lidar-synth/internal/monitoring"
	"github.com/banshee-data/lidar-synth/internal/version"
)

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("transmit session not found")

type TransmitDB struct {
	*sql.DB
}

// schema.sql contains the SQL statements for creating the transmit ledger.
// It defines one row per transmit session and one row per attempted frame.
//
//go:embed schema.sql
var schemaSQL string

func NewTransmitDB(path string) (*TransmitDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(schemaSQL)
	if err != nil {
		db.Close()
		return nil, err
	}

	monitoring.Logf("initialized transmit ledger schema at %s", path)

	return &TransmitDB{db}, nil
}

// Session describes one run of a node against a destination.
type Session struct {
	ID          uuid.UUID // generated when nil
	NodeID      uuid.UUID
	Destination string
	Broadcast   bool
	NumRows     int
	NumCols     int
	Build       string // defaults to version.String()
}

// FrameRecord is the outcome of one Compute call.
type FrameRecord struct {
	FrameID       uint16
	Packets       int
	Bytes         int
	PaddingBlocks int
	FirstEncoder  uint32
	LastEncoder   uint32
	ErrorKind     string // empty on success
	Error         string
}

// OK reports whether the frame succeeded.
func (r FrameRecord) OK() bool {
	return r.Error == ""
}

// NewFrameRecord builds a record from a frame report and the Compute error.
func NewFrameRecord(report ouster.FrameReport, err error) FrameRecord {
	r := FrameRecord{
		FrameID:       report.FrameID,
		Packets:       report.Packets,
		Bytes:         report.Bytes,
		PaddingBlocks: report.PaddingBlocks,
		FirstEncoder:  report.FirstEncoder,
		LastEncoder:   report.LastEncoder,
	}
	if err != nil {
		r.ErrorKind = node.Kind(err).Error()
		r.Error = err.Error()
	}
	return r
}

// SessionSummary is the aggregate view of a session.
type SessionSummary struct {
	Session
	FramesOK     int64
	FramesFailed int64
	Packets      int64
	Bytes        int64
	Ended        bool
}

// StartSession creates a new transmit session record
func (tdb *TransmitDB) StartSession(s Session) (uuid.UUID, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Build == "" {
		s.Build = version.String()
	}
	query := `
		INSERT INTO transmit_sessions (session_id, node_id, destination, broadcast, num_rows, num_cols, build_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tdb.Exec(query, s.ID.String(), s.NodeID.String(), s.Destination, s.Broadcast, s.NumRows, s.NumCols, s.Build)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to start transmit session: %w", err)
	}

	return s.ID, nil
}

// RecordFrame stores the outcome of one frame
func (tdb *TransmitDB) RecordFrame(sessionID uuid.UUID, r FrameRecord) error {
	query := `
		INSERT INTO transmit_frames (
			session_id, frame_id, packets, bytes, padding_blocks,
			first_encoder, last_encoder, ok, error_kind, error
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var kind, msg sql.NullString
	if !r.OK() {
		kind = sql.NullString{String: r.ErrorKind, Valid: true}
		msg = sql.NullString{String: r.Error, Valid: true}
	}

	_, err := tdb.Exec(query, sessionID.String(), r.FrameID, r.Packets, r.Bytes, r.PaddingBlocks,
		r.FirstEncoder, r.LastEncoder, r.OK(), kind, msg)
	if err != nil {
		return fmt.Errorf("failed to insert transmit frame: %w", err)
	}

	return nil
}

// EndSession closes a transmit session and updates statistics
func (tdb *TransmitDB) EndSession(sessionID uuid.UUID) error {
	query := `
		UPDATE transmit_sessions
		SET
			end_timestamp = UNIXEPOCH('subsec'),
			frames_ok = (SELECT COUNT(*) FROM transmit_frames WHERE session_id = ?1 AND ok = 1),
			frames_failed = (SELECT COUNT(*) FROM transmit_frames WHERE session_id = ?1 AND ok = 0),
			packet_count = (SELECT COALESCE(SUM(packets), 0) FROM transmit_frames WHERE session_id = ?1),
			byte_count = (SELECT COALESCE(SUM(bytes), 0) FROM transmit_frames WHERE session_id = ?1)
		WHERE session_id = ?1
	`

	result, err := tdb.Exec(query, sessionID.String())
	if err != nil {
		return fmt.Errorf("failed to end transmit session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to end transmit session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	return nil
}

// GetSession returns the stored summary of a session. Counts are only
// populated once the session has ended.
func (tdb *TransmitDB) GetSession(sessionID uuid.UUID) (SessionSummary, error) {
	query := `
		SELECT session_id, node_id, destination, broadcast, num_rows, num_cols, build_version,
			frames_ok, frames_failed, packet_count, byte_count, end_timestamp IS NOT NULL
		FROM transmit_sessions
		WHERE session_id = ?
	`

	var s SessionSummary
	var id, nodeID string
	err := tdb.QueryRow(query, sessionID.String()).Scan(&id, &nodeID, &s.Destination, &s.Broadcast,
		&s.NumRows, &s.NumCols, &s.Build, &s.FramesOK, &s.FramesFailed, &s.Packets, &s.Bytes, &s.Ended)
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return s, fmt.Errorf("failed to query transmit session: %w", err)
	}

	if s.ID, err = uuid.Parse(id); err != nil {
		return s, fmt.Errorf("invalid session id %q: %w", id, err)
	}
	if s.NodeID, err = uuid.Parse(nodeID); err != nil {
		return s, fmt.Errorf("invalid node id %q: %w", nodeID, err)
	}
	return s, nil
}

// RecentFailures returns up to limit failed frames of a session, newest first.
func (tdb *TransmitDB) RecentFailures(sessionID uuid.UUID, limit int) ([]FrameRecord, error) {
	query := `
		SELECT frame_id, packets, bytes, padding_blocks,
			COALESCE(first_encoder, 0), COALESCE(last_encoder, 0),
			COALESCE(error_kind, ''), COALESCE(error, '')
		FROM transmit_frames
		WHERE session_id = ? AND ok = 0
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := tdb.Query(query, sessionID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transmit failures: %w", err)
	}
	defer rows.Close()

	var records []FrameRecord
	for rows.Next() {
		var r FrameRecord
		if err := rows.Scan(&r.FrameID, &r.Packets, &r.Bytes, &r.PaddingBlocks,
			&r.FirstEncoder, &r.LastEncoder, &r.ErrorKind, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan transmit frame: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
