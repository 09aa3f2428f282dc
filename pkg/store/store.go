package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Record captures the result of the last bootstrap run. It exists for
// operators and orchestration tooling to inspect; the authoritative
// network state always lives in the OVS database.
type Record struct {
	Bridge          string    `json:"bridge"`
	Vendor          string    `json:"vendor"`
	Controllers     []string  `json:"controllers"`
	TunnelInterface string    `json:"tunnel_interface,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

// Store manages the on-disk bootstrap state
type Store struct {
	stateDir string
	etcDir   string
	mu       sync.Mutex
}

// NewStore creates a store rooted at stateDir
func NewStore(stateDir string) (*Store, error) {
	if stateDir == "" {
		stateDir = "/var/lib/ovs-node-bootstrap"
	}

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	return &Store{
		stateDir: stateDir,
		etcDir:   "/etc",
	}, nil
}

// SaveRecord persists the bootstrap record, replacing any previous run's
func (s *Store) SaveRecord(record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal bootstrap record: %w", err)
	}

	recordFile := filepath.Join(s.stateDir, "bootstrap.json")
	if err := os.WriteFile(recordFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write bootstrap record: %w", err)
	}
	return nil
}

// LoadRecord reads the last bootstrap record, if any
func (s *Store) LoadRecord() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recordFile := filepath.Join(s.stateDir, "bootstrap.json")
	data, err := os.ReadFile(recordFile)
	if err != nil {
		return nil, fmt.Errorf("no bootstrap record: %w", err)
	}

	record := &Record{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bootstrap record: %w", err)
	}
	return record, nil
}

// TunnelInterfacePath returns the vendor-tagged record file read by the
// networking agents, e.g. /etc/openvswitch_tunnel_interface
func (s *Store) TunnelInterfacePath(vendor string) string {
	return filepath.Join(s.etcDir, vendor+"_tunnel_interface")
}

// WriteTunnelInterface records the tunnel interface name for the vendor
func (s *Store) WriteTunnelInterface(vendor, iface string) (string, error) {
	if vendor == "" || iface == "" {
		return "", fmt.Errorf("vendor and interface are required")
	}

	path := s.TunnelInterfacePath(vendor)
	if err := os.WriteFile(path, []byte(iface+"\n"), 0644); err != nil {
		return "", fmt.Errorf("failed to write tunnel interface file: %w", err)
	}
	return path, nil
}

// ReadTunnelInterface returns the recorded tunnel interface name, or an
// empty string when none was recorded
func (s *Store) ReadTunnelInterface(vendor string) (string, error) {
	data, err := os.ReadFile(s.TunnelInterfacePath(vendor))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read tunnel interface file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
