package ovs

import (
	"fmt"
	"os/exec"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records every invocation and replies from a canned script
type fakeRunner struct {
	calls     []string
	outputs   map[string]string
	errors    map[string]error
	failTimes map[string]int // fail a call this many times before succeeding
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		outputs:   make(map[string]string),
		errors:    make(map[string]error),
		failTimes: make(map[string]int),
	}
}

func (f *fakeRunner) CombinedOutput(name string, args ...string) ([]byte, error) {
	call := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call)
	if n, ok := f.failTimes[call]; ok && n > 0 {
		f.failTimes[call] = n - 1
		return nil, fmt.Errorf("exit status 2")
	}
	if err, ok := f.errors[call]; ok {
		return nil, err
	}
	return []byte(f.outputs[call]), nil
}

func newTestClient(runner Runner) *Client {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return &Client{logger: logger, runner: runner}
}

func TestPing(t *testing.T) {
	// Check if OVS is installed
	if _, err := exec.LookPath("ovs-vsctl"); err != nil {
		t.Skip("ovs-vsctl not found, skipping OVS tests")
	}

	client, err := NewClient()
	require.NoError(t, err)

	err = client.Ping()
	// This will only pass if OVS is actually installed
	if err != nil {
		t.Skipf("OVS not accessible: %v", err)
	}
}

func TestResetBridge(t *testing.T) {
	runner := newFakeRunner()
	client := newTestClient(runner)

	err := client.ResetBridge("br-int")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"ovs-vsctl --if-exists del-br br-int",
		"ovs-vsctl add-br br-int",
	}, runner.calls)
}

func TestResetBridgeIdempotent(t *testing.T) {
	runner := newFakeRunner()
	client := newTestClient(runner)

	require.NoError(t, client.ResetBridge("br-int"))
	firstRun := append([]string{}, runner.calls...)

	runner.calls = nil
	require.NoError(t, client.ResetBridge("br-int"))

	// Delete-then-create issues the same transaction sequence every run
	assert.Equal(t, firstRun, runner.calls)
}

func TestResetBridgeCreateFails(t *testing.T) {
	runner := newFakeRunner()
	runner.errors["ovs-vsctl add-br br-int"] = fmt.Errorf("exit status 1")
	client := newTestClient(runner)

	err := client.ResetBridge("br-int")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "br-int")
}

func TestSetControllers(t *testing.T) {
	runner := newFakeRunner()
	client := newTestClient(runner)

	uris := []string{"tcp:192.168.1.1:6633", "tcp:192.168.1.2:6633"}
	err := client.SetControllers("br-int", uris)
	require.NoError(t, err)

	// One entry per input host, applied in a single transaction
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "ovs-vsctl set-controller br-int tcp:192.168.1.1:6633 tcp:192.168.1.2:6633",
		runner.calls[0])
}

func TestSetControllersEmpty(t *testing.T) {
	runner := newFakeRunner()
	client := newTestClient(runner)

	err := client.SetControllers("br-int", nil)
	require.Error(t, err)
	assert.Empty(t, runner.calls)
}

func TestSetExternalID(t *testing.T) {
	runner := newFakeRunner()
	client := newTestClient(runner)

	err := client.SetExternalID("br-int", "bridge-id", "openvswitch")
	require.NoError(t, err)
	assert.Equal(t, []string{"ovs-vsctl br-set-external-id br-int bridge-id openvswitch"}, runner.calls)
}

func TestAddGRETunnelPort(t *testing.T) {
	runner := newFakeRunner()
	client := newTestClient(runner)

	err := client.AddGRETunnelPort("br-int", "gre0", "10.1.0.2")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ovs-vsctl --may-exist add-port br-int gre0 -- set interface gre0 type=gre options:remote_ip=10.1.0.2",
	}, runner.calls)
}

func TestAddGRETunnelPortNoRemote(t *testing.T) {
	runner := newFakeRunner()
	client := newTestClient(runner)

	err := client.AddGRETunnelPort("br-int", "gre0", "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ovs-vsctl --may-exist add-port br-int gre0 -- set interface gre0 type=gre",
	}, runner.calls)
}

func TestListPorts(t *testing.T) {
	runner := newFakeRunner()
	runner.outputs["ovs-vsctl list-ports br-int"] = "gre0\nqvoabc123\n\n"
	client := newTestClient(runner)

	ports, err := client.ListPorts("br-int")
	require.NoError(t, err)
	assert.Equal(t, []string{"gre0", "qvoabc123"}, ports)
}

func TestBridgeExists(t *testing.T) {
	runner := newFakeRunner()
	client := newTestClient(runner)
	assert.True(t, client.BridgeExists("br-int"))

	runner.errors["ovs-vsctl br-exists br-missing"] = fmt.Errorf("exit status 2")
	assert.False(t, client.BridgeExists("br-missing"))
}

func TestWaitForBridgeGivesUp(t *testing.T) {
	runner := newFakeRunner()
	runner.errors["ovs-vsctl br-exists br-int"] = fmt.Errorf("exit status 2")
	client := newTestClient(runner)

	err := client.WaitForBridge("br-int", 2)
	require.Error(t, err)
	// One initial try plus one retry
	assert.Len(t, runner.calls, 2)
}

func TestWaitForBridgeRecovers(t *testing.T) {
	runner := newFakeRunner()
	// Bridge shows up on the third poll
	runner.failTimes["ovs-vsctl br-exists br-int"] = 2
	client := newTestClient(runner)

	err := client.WaitForBridge("br-int", 5)
	require.NoError(t, err)
	assert.Len(t, runner.calls, 3)
}
