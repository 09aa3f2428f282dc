package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/ovs-container-lab/ovs-node-bootstrap/pkg/bootstrap"
	"github.com/ovs-container-lab/ovs-node-bootstrap/pkg/ovs"
	"github.com/ovs-container-lab/ovs-node-bootstrap/pkg/startup"
	"github.com/ovs-container-lab/ovs-node-bootstrap/pkg/types"
)

const (
	programName    = "ovs-node-bootstrap"
	programVersion = "0.1.0"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <comma-separated-controller-list>\n\n", programName)
	fmt.Fprintf(os.Stderr, "Provisions Open vSwitch on a compute node and attaches the\n")
	fmt.Fprintf(os.Stderr, "integration bridge to the given OpenFlow controllers.\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n%s", flag.CommandLine.FlagUsages())
}

func main() {
	defaultStateDir := os.Getenv("OVS_BOOTSTRAP_STATE_DIR")
	if defaultStateDir == "" {
		defaultStateDir = "/var/lib/ovs-node-bootstrap"
	}

	var (
		bridgeName  = flag.String("bridge", "br-int", "Target OVS bridge name")
		port        = flag.Int("port", types.DefaultOpenFlowPort, "Default OpenFlow port for controllers given without one")
		vendor      = flag.String("vendor", "openvswitch", "Vendor tag for the bridge external-id and tunnel record file")
		tunnelIface = flag.String("tunnel-interface", "", "Local interface terminating GRE tunnels (enables the tunnel step)")
		greRemote   = flag.String("gre-remote", "", "Remote IP for the GRE tunnel port")
		skipPkgs    = flag.Bool("skip-packages", false, "Skip the package install/upgrade step")
		emitUnit    = flag.Bool("startup-unit", false, "Install a persistent systemd startup-task unit")
		startupTask = flag.Bool("startup-task", false, "Run the boot-time startup task instead of a full bootstrap")
		stateDir    = flag.String("state-dir", defaultStateDir, "Directory for the bootstrap record")
		debugMode   = flag.Bool("debug", false, "Enable debug logging")
		version     = flag.Bool("version", false, "Print version and exit")
	)
	flag.Usage = usage
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", programName, programVersion)
		os.Exit(0)
	}

	// Configure logging
	if *debugMode {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if *startupTask {
		runStartupTask(*bridgeName)
		return
	}

	if flag.NArg() != 1 {
		usage()
		os.Exit(1)
	}

	controllers, err := types.ParseControllerList(flag.Arg(0), *port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n\n", programName, err)
		usage()
		os.Exit(1)
	}

	cfg := bootstrap.Config{
		Bridge: types.BridgeConfig{
			Name:            *bridgeName,
			Vendor:          *vendor,
			Controllers:     controllers,
			TunnelInterface: *tunnelIface,
			GRERemoteIP:     *greRemote,
		},
		SkipPackages:    *skipPkgs,
		EmitStartupUnit: *emitUnit,
		StateDir:        *stateDir,
	}

	logrus.Infof("Starting %s version %s", programName, programVersion)

	b, err := bootstrap.New(cfg)
	if err != nil {
		logrus.Fatalf("Failed to create bootstrapper: %v", err)
	}
	if err := b.Run(); err != nil {
		logrus.Fatalf("Bootstrap failed: %v", err)
	}
}

// runStartupTask is invoked by the emitted systemd unit at boot
func runStartupTask(bridge string) {
	client, err := ovs.NewClient()
	if err != nil {
		logrus.Fatalf("Failed to create OVS client: %v", err)
	}

	task := startup.NewTask(bridge, client)
	if err := task.Run(); err != nil {
		logrus.Fatalf("Startup task failed: %v", err)
	}
}
