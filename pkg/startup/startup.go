package startup

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/coreos/go-systemd/v22/unit"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

// UnitName is the systemd unit emitted by the bootstrapper
const UnitName = "ovs-node-bootstrap-startup.service"

// DefaultUnitDir is where the emitted unit file is installed
const DefaultUnitDir = "/etc/systemd/system"

// WaitAttempts bounds the bridge-ready polling loop
const WaitAttempts = 100

// GuestPortPrefixes identify hypervisor-managed guest interfaces whose
// bridge ports go stale when the backing link disappears across reboots
var GuestPortPrefixes = []string{"qvo", "qvb", "tap", "vnet"}

// DefaultAgentUnits are restarted after cleanup so the agents rebind to
// the freshly recreated bridge
var DefaultAgentUnits = []string{"neutron-openvswitch-agent.service"}

// BridgeClient is the subset of OVS operations the startup task needs
type BridgeClient interface {
	WaitForBridge(bridge string, maxAttempts uint64) error
	ListPorts(bridge string) ([]string, error)
	DeletePort(bridge, port string) error
}

// LinkChecker reports whether a kernel network link exists
type LinkChecker interface {
	LinkExists(name string) bool
}

type netlinkChecker struct{}

func (netlinkChecker) LinkExists(name string) bool {
	_, err := netlink.LinkByName(name)
	return err == nil
}

// Runner executes an external command and returns its combined output
type Runner interface {
	CombinedOutput(name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) CombinedOutput(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// Task waits for the bridge at boot, drops stale guest ports, and
// restarts the networking agents
type Task struct {
	bridge     string
	agentUnits []string
	ovs        BridgeClient
	links      LinkChecker
	runner     Runner
	logger     *logrus.Logger
}

// NewTask creates a startup task for the given bridge
func NewTask(bridge string, ovsClient BridgeClient) *Task {
	logger := logrus.New()
	logger.SetLevel(logrus.GetLevel())

	return &Task{
		bridge:     bridge,
		agentUnits: DefaultAgentUnits,
		ovs:        ovsClient,
		links:      netlinkChecker{},
		runner:     execRunner{},
		logger:     logger,
	}
}

// Run executes the startup task. Only the bridge wait is fatal; cleanup
// and agent restarts are best-effort.
func (t *Task) Run() error {
	t.logger.Infof("Waiting for bridge %s", t.bridge)
	if err := t.ovs.WaitForBridge(t.bridge, WaitAttempts); err != nil {
		return err
	}

	if err := t.cleanupStalePorts(); err != nil {
		t.logger.Warnf("Guest port cleanup incomplete: %v", err)
	}

	t.restartAgents()
	return nil
}

// cleanupStalePorts removes guest ports whose kernel link no longer exists
func (t *Task) cleanupStalePorts() error {
	ports, err := t.ovs.ListPorts(t.bridge)
	if err != nil {
		return err
	}

	for _, port := range ports {
		if !isGuestPort(port) {
			continue
		}
		if t.links.LinkExists(port) {
			continue
		}
		t.logger.Infof("Removing stale guest port %s from bridge %s", port, t.bridge)
		if err := t.ovs.DeletePort(t.bridge, port); err != nil {
			t.logger.Warnf("Failed to remove stale port %s: %v", port, err)
		}
	}
	return nil
}

func (t *Task) restartAgents() {
	for _, agent := range t.agentUnits {
		t.logger.Infof("Restarting %s", agent)
		if output, err := t.runner.CombinedOutput("systemctl", "restart", agent); err != nil {
			t.logger.Warnf("Failed to restart %s: %v (output: %s)",
				agent, err, strings.TrimSpace(string(output)))
		}
	}
}

func isGuestPort(port string) bool {
	for _, prefix := range GuestPortPrefixes {
		if strings.HasPrefix(port, prefix) {
			return true
		}
	}
	return false
}

// UnitOptions builds the systemd unit that re-runs the startup task at boot
func UnitOptions(execPath, bridge string) []*unit.UnitOption {
	return []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", "OVS node bootstrap startup task"),
		unit.NewUnitOption("Unit", "After", "network.target openvswitch-switch.service"),
		unit.NewUnitOption("Service", "Type", "oneshot"),
		unit.NewUnitOption("Service", "ExecStart",
			fmt.Sprintf("%s --startup-task --bridge %s", execPath, bridge)),
		unit.NewUnitOption("Service", "RemainAfterExit", "yes"),
		unit.NewUnitOption("Install", "WantedBy", "multi-user.target"),
	}
}

// WriteUnit serializes the startup unit into dir and returns its path
func WriteUnit(dir, execPath, bridge string) (string, error) {
	if dir == "" {
		dir = DefaultUnitDir
	}

	data, err := io.ReadAll(unit.Serialize(UnitOptions(execPath, bridge)))
	if err != nil {
		return "", fmt.Errorf("failed to serialize unit: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create unit directory: %w", err)
	}

	path := filepath.Join(dir, UnitName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write unit file: %w", err)
	}
	return path, nil
}

// EnableUnit reloads systemd and enables the startup unit
func EnableUnit(runner Runner) error {
	if runner == nil {
		runner = execRunner{}
	}

	if output, err := runner.CombinedOutput("systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("systemctl daemon-reload failed: %w (output: %s)",
			err, strings.TrimSpace(string(output)))
	}
	if output, err := runner.CombinedOutput("systemctl", "enable", UnitName); err != nil {
		return fmt.Errorf("failed to enable %s: %w (output: %s)",
			UnitName, err, strings.TrimSpace(string(output)))
	}
	return nil
}
