package ovs

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Runner executes an external command and returns its combined output.
// The default implementation shells out; tests inject a fake.
type Runner interface {
	CombinedOutput(name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) CombinedOutput(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// Client provides an interface to Open vSwitch via the ovs-vsctl CLI
type Client struct {
	logger *logrus.Logger
	runner Runner
}

// NewClient creates a new OVS client
func NewClient() (*Client, error) {
	logger := logrus.New()
	logger.SetLevel(logrus.GetLevel())

	return &Client{
		logger: logger,
		runner: execRunner{},
	}, nil
}

// vsctl runs a single ovs-vsctl transaction and returns its trimmed output
func (c *Client) vsctl(args ...string) (string, error) {
	c.logger.Debugf("Running: ovs-vsctl %s", strings.Join(args, " "))
	output, err := c.runner.CombinedOutput("ovs-vsctl", args...)
	if err != nil {
		return "", fmt.Errorf("ovs-vsctl %s failed: %w (output: %s)",
			strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return strings.TrimSpace(string(output)), nil
}

// Ping verifies that OVS is accessible
func (c *Client) Ping() error {
	output, err := c.runner.CombinedOutput("ovs-vsctl", "--version")
	if err != nil {
		return fmt.Errorf("ovs-vsctl not accessible: %w (output: %s)", err, string(output))
	}
	c.logger.Debugf("OVS version: %s", strings.TrimSpace(string(output)))
	return nil
}

// BridgeExists reports whether the bridge is present in the OVS database
func (c *Client) BridgeExists(bridge string) bool {
	// br-exists exits 2 when the bridge is absent
	_, err := c.runner.CombinedOutput("ovs-vsctl", "br-exists", bridge)
	return err == nil
}

// ResetBridge deletes the bridge if it exists and recreates it empty.
// A full reset keeps repeated bootstraps convergent instead of trying
// to reconcile whatever a previous run left behind.
func (c *Client) ResetBridge(bridge string) error {
	if _, err := c.vsctl("--if-exists", "del-br", bridge); err != nil {
		return fmt.Errorf("failed to delete bridge %s: %w", bridge, err)
	}

	c.logger.Infof("Creating OVS bridge %s", bridge)
	if _, err := c.vsctl("add-br", bridge); err != nil {
		return fmt.Errorf("failed to create bridge %s: %w", bridge, err)
	}
	return nil
}

// SetExternalID tags the bridge with a key/value pair for orchestration tooling
func (c *Client) SetExternalID(bridge, key, value string) error {
	if _, err := c.vsctl("br-set-external-id", bridge, key, value); err != nil {
		return fmt.Errorf("failed to set external-id %s on bridge %s: %w", key, bridge, err)
	}
	return nil
}

// SetFailMode sets the bridge fail mode (secure keeps the bridge from
// falling back to standalone MAC learning while controllers are down)
func (c *Client) SetFailMode(bridge, mode string) error {
	if _, err := c.vsctl("set-fail-mode", bridge, mode); err != nil {
		return fmt.Errorf("failed to set fail-mode %s on bridge %s: %w", mode, bridge, err)
	}
	return nil
}

// SetControllers attaches the full controller set to the bridge in a
// single transaction, replacing whatever was configured before
func (c *Client) SetControllers(bridge string, uris []string) error {
	if len(uris) == 0 {
		return fmt.Errorf("no controllers given for bridge %s", bridge)
	}

	args := append([]string{"set-controller", bridge}, uris...)
	if _, err := c.vsctl(args...); err != nil {
		return fmt.Errorf("failed to set controllers on bridge %s: %w", bridge, err)
	}

	c.logger.Infof("Attached %d controller(s) to bridge %s: %s",
		len(uris), bridge, strings.Join(uris, " "))
	return nil
}

// AddGRETunnelPort adds a GRE tunnel port to the bridge. remoteIP is
// optional; without it the port is created unpeered for the controller
// to program later.
func (c *Client) AddGRETunnelPort(bridge, port, remoteIP string) error {
	args := []string{
		"--may-exist", "add-port", bridge, port,
		"--", "set", "interface", port, "type=gre",
	}
	if remoteIP != "" {
		args = append(args, "options:remote_ip="+remoteIP)
	}

	if _, err := c.vsctl(args...); err != nil {
		return fmt.Errorf("failed to add GRE port %s to bridge %s: %w", port, bridge, err)
	}

	c.logger.Infof("Added GRE tunnel port %s to bridge %s", port, bridge)
	return nil
}

// ListPorts returns the ports attached to a bridge
func (c *Client) ListPorts(bridge string) ([]string, error) {
	output, err := c.vsctl("list-ports", bridge)
	if err != nil {
		return nil, fmt.Errorf("failed to list ports on bridge %s: %w", bridge, err)
	}

	ports := []string{}
	for _, line := range strings.Split(output, "\n") {
		port := strings.TrimSpace(line)
		if port != "" {
			ports = append(ports, port)
		}
	}
	return ports, nil
}

// DeletePort removes a port from an OVS bridge
func (c *Client) DeletePort(bridge, port string) error {
	if _, err := c.vsctl("--if-exists", "del-port", bridge, port); err != nil {
		return fmt.Errorf("failed to delete port %s from bridge %s: %w", port, bridge, err)
	}

	c.logger.Infof("Deleted port %s from bridge %s", port, bridge)
	return nil
}

// WaitForBridge polls until the bridge exists, up to maxAttempts one-second
// tries. Used by the startup task while the OVS daemon is still coming up.
func (c *Client) WaitForBridge(bridge string, maxAttempts uint64) error {
	if maxAttempts == 0 {
		maxAttempts = 100
	}

	attempt := 0
	check := func() error {
		attempt++
		if c.BridgeExists(bridge) {
			return nil
		}
		return fmt.Errorf("bridge %s not ready (attempt %d)", bridge, attempt)
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), maxAttempts-1)
	if err := backoff.Retry(check, policy); err != nil {
		return fmt.Errorf("gave up waiting for bridge %s after %d attempts: %w",
			bridge, attempt, err)
	}

	c.logger.Debugf("Bridge %s ready after %d attempt(s)", bridge, attempt)
	return nil
}
