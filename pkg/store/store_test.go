package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	s.etcDir = t.TempDir()
	return s
}

func TestNewStoreCreatesStateDir(t *testing.T) {
	stateDir := filepath.Join(t.TempDir(), "nested", "state")
	_, err := NewStore(stateDir)
	require.NoError(t, err)

	info, err := os.Stat(stateDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRecordPersistence(t *testing.T) {
	s := newTestStore(t)

	record := &Record{
		Bridge:          "br-int",
		Vendor:          "openvswitch",
		Controllers:     []string{"tcp:192.168.1.1:6633", "tcp:192.168.1.2:6633"},
		TunnelInterface: "eth2",
		CompletedAt:     time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, s.SaveRecord(record))

	loaded, err := s.LoadRecord()
	require.NoError(t, err)
	assert.Equal(t, record, loaded)
}

func TestRecordOverwrite(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveRecord(&Record{Bridge: "br-int", Controllers: []string{"tcp:10.0.0.1:6633"}}))
	require.NoError(t, s.SaveRecord(&Record{Bridge: "br-int", Controllers: []string{"tcp:10.0.0.2:6633"}}))

	loaded, err := s.LoadRecord()
	require.NoError(t, err)
	assert.Equal(t, []string{"tcp:10.0.0.2:6633"}, loaded.Controllers)
}

func TestLoadRecordMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadRecord()
	assert.Error(t, err)
}

func TestTunnelInterfaceRoundTrip(t *testing.T) {
	s := newTestStore(t)

	path, err := s.WriteTunnelInterface("openvswitch", "eth2")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.etcDir, "openvswitch_tunnel_interface"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "eth2\n", string(data))

	iface, err := s.ReadTunnelInterface("openvswitch")
	require.NoError(t, err)
	assert.Equal(t, "eth2", iface)
}

func TestReadTunnelInterfaceMissing(t *testing.T) {
	s := newTestStore(t)

	iface, err := s.ReadTunnelInterface("openvswitch")
	require.NoError(t, err)
	assert.Empty(t, iface)
}

func TestWriteTunnelInterfaceValidation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.WriteTunnelInterface("", "eth2")
	assert.Error(t, err)

	_, err = s.WriteTunnelInterface("openvswitch", "")
	assert.Error(t, err)
}
