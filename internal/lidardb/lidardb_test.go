package lidardb

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidar-synth/internal/lidar/node"
	"github.com/banshee-data/lidar-synth/internal/lidar/ouster"
	"github.com/banshee-data/lidar-synth/internal/version"
)

func newTestDB(t *testing.T) *TransmitDB {
	t.Helper()
	db, err := NewTransmitDB(filepath.Join(t.TempDir(), "transmit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewTransmitDB_SchemaIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transmit.db")
	db, err := NewTransmitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewTransmitDB(path)
	require.NoError(t, err)
	defer db.Close()

	var tables int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name LIKE 'transmit_%'`).Scan(&tables)
	require.NoError(t, err)
	assert.Equal(t, 2, tables)
}

func TestTransmitDB_SessionLifecycle(t *testing.T) {
	db := newTestDB(t)
	nodeID := uuid.New()

	sessionID, err := db.StartSession(Session{
		NodeID:      nodeID,
		Destination: "127.0.0.1:7502",
		NumRows:     64,
		NumCols:     1024,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, sessionID)

	summary, err := db.GetSession(sessionID)
	require.NoError(t, err)
	assert.Equal(t, sessionID, summary.ID)
	assert.Equal(t, nodeID, summary.NodeID)
	assert.Equal(t, "127.0.0.1:7502", summary.Destination)
	assert.False(t, summary.Broadcast)
	assert.False(t, summary.Ended)
	assert.Equal(t, version.String(), summary.Build)

	for i := 0; i < 3; i++ {
		report := ouster.FrameReport{FrameID: uint16(i), Columns: 1024, Packets: 64, Bytes: 64 * 12608}
		require.NoError(t, db.RecordFrame(sessionID, NewFrameRecord(report, nil)))
	}
	failed := fmt.Errorf("%w: %w", node.ErrRange, ouster.ErrEncoderRange)
	require.NoError(t, db.RecordFrame(sessionID, NewFrameRecord(ouster.FrameReport{FrameID: 3, Packets: 2, Bytes: 2 * 12608}, failed)))

	require.NoError(t, db.EndSession(sessionID))

	summary, err = db.GetSession(sessionID)
	require.NoError(t, err)
	assert.True(t, summary.Ended)
	assert.Equal(t, int64(3), summary.FramesOK)
	assert.Equal(t, int64(1), summary.FramesFailed)
	assert.Equal(t, int64(3*64+2), summary.Packets)
	assert.Equal(t, int64((3*64+2)*12608), summary.Bytes)
}

func TestTransmitDB_RecentFailures(t *testing.T) {
	db := newTestDB(t)
	sessionID, err := db.StartSession(Session{ID: uuid.New(), Destination: "192.168.1.255:7502", Broadcast: true, NumRows: 16, NumCols: 512})
	require.NoError(t, err)

	errs := []error{
		fmt.Errorf("%w: %w", node.ErrConfiguration, ouster.ErrRowCount),
		nil,
		fmt.Errorf("%w: send failed", node.ErrSocket),
		errors.New("unexpected"),
	}
	for i, e := range errs {
		require.NoError(t, db.RecordFrame(sessionID, NewFrameRecord(ouster.FrameReport{FrameID: uint16(i), LastEncoder: 90111}, e)))
	}

	failures, err := db.RecentFailures(sessionID, 2)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, uint16(3), failures[0].FrameID)
	assert.Equal(t, "internal fault", failures[0].ErrorKind)
	assert.Equal(t, "unexpected", failures[0].Error)
	assert.Equal(t, uint16(2), failures[1].FrameID)
	assert.Equal(t, "socket error", failures[1].ErrorKind)
	assert.Equal(t, uint32(90111), failures[1].LastEncoder)

	summary, err := db.GetSession(sessionID)
	require.NoError(t, err)
	assert.True(t, summary.Broadcast)
	assert.Equal(t, 16, summary.NumRows)
	assert.Equal(t, 512, summary.NumCols)
}

func TestTransmitDB_ExplicitBuild(t *testing.T) {
	db := newTestDB(t)
	sessionID, err := db.StartSession(Session{Destination: "127.0.0.1:8037", NumRows: 64, NumCols: 1024, Build: "v9.9.9"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, sessionID)

	summary, err := db.GetSession(sessionID)
	require.NoError(t, err)
	assert.Equal(t, "v9.9.9", summary.Build)
}

func TestTransmitDB_UnknownSession(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetSession(uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, db.EndSession(uuid.New()), ErrSessionNotFound)
}

func TestNewFrameRecord(t *testing.T) {
	report := ouster.FrameReport{FrameID: 9, Packets: 4, Bytes: 100, PaddingBlocks: 3, FirstEncoder: 10, LastEncoder: 20}

	ok := NewFrameRecord(report, nil)
	assert.True(t, ok.OK())
	assert.Empty(t, ok.ErrorKind)
	assert.Equal(t, FrameRecord{FrameID: 9, Packets: 4, Bytes: 100, PaddingBlocks: 3, FirstEncoder: 10, LastEncoder: 20}, ok)

	bad := NewFrameRecord(report, fmt.Errorf("%w: bad rows", node.ErrConfiguration))
	assert.False(t, bad.OK())
	assert.Equal(t, "configuration error", bad.ErrorKind)
	assert.Equal(t, "configuration error: bad rows", bad.Error)
}
