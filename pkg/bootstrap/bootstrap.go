package bootstrap

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"

	"github.com/ovs-container-lab/ovs-node-bootstrap/pkg/ovs"
	"github.com/ovs-container-lab/ovs-node-bootstrap/pkg/pkgmgr"
	"github.com/ovs-container-lab/ovs-node-bootstrap/pkg/startup"
	"github.com/ovs-container-lab/ovs-node-bootstrap/pkg/store"
	"github.com/ovs-container-lab/ovs-node-bootstrap/pkg/types"
)

// greTunnelPort is the name of the GRE port added for tunnel-mode nodes
const greTunnelPort = "gre0"

// Config drives a single bootstrap run
type Config struct {
	Bridge          types.BridgeConfig
	SkipPackages    bool
	EmitStartupUnit bool
	StateDir        string
}

type ovsClient interface {
	Ping() error
	ResetBridge(bridge string) error
	SetExternalID(bridge, key, value string) error
	SetFailMode(bridge, mode string) error
	SetControllers(bridge string, uris []string) error
	AddGRETunnelPort(bridge, port, remoteIP string) error
}

type packageManager interface {
	OVSPackages() types.PackageSet
	Purge(packages types.PackageSet)
	Install(packages types.PackageSet) error
}

type stateStore interface {
	SaveRecord(record *store.Record) error
	WriteTunnelInterface(vendor, iface string) (string, error)
}

// linkManager brings kernel links up after bridge creation
type linkManager interface {
	SetUp(name string) error
}

type netlinkManager struct{}

func (netlinkManager) SetUp(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("link %s not found: %w", name, err)
	}
	return netlink.LinkSetUp(link)
}

// UnitInstaller installs the persistent startup-task unit
type UnitInstaller interface {
	Install(bridge string) error
}

type systemdInstaller struct{}

func (systemdInstaller) Install(bridge string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}
	if _, err := startup.WriteUnit("", execPath, bridge); err != nil {
		return err
	}
	return startup.EnableUnit(nil)
}

// Bootstrapper converges a compute node onto the desired OVS state
type Bootstrapper struct {
	cfg    Config
	ovs    ovsClient
	pkgs   packageManager
	store  stateStore
	links  linkManager
	units  UnitInstaller
	logger *logrus.Logger
}

// New creates a bootstrapper wired to the real node
func New(cfg Config) (*Bootstrapper, error) {
	logger := logrus.New()
	logger.SetLevel(logrus.GetLevel())

	var pkgs packageManager
	if !cfg.SkipPackages {
		family, err := pkgmgr.DetectFamily()
		if err != nil {
			return nil, err
		}
		manager, err := pkgmgr.NewManager(family)
		if err != nil {
			return nil, err
		}
		logger.Infof("Detected %s package family", family)
		pkgs = manager
	}

	ovsClient, err := ovs.NewClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create OVS client: %w", err)
	}

	bootstrapStore, err := store.NewStore(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	return &Bootstrapper{
		cfg:    cfg,
		ovs:    ovsClient,
		pkgs:   pkgs,
		store:  bootstrapStore,
		links:  netlinkManager{},
		units:  systemdInstaller{},
		logger: logger,
	}, nil
}

// Run executes the bootstrap pipeline. Every step except the best-effort
// purge and the final link-up is fatal on first error.
func (b *Bootstrapper) Run() error {
	bridge := b.cfg.Bridge
	if len(bridge.Controllers) == 0 {
		return fmt.Errorf("no controllers configured")
	}

	if err := b.installPackages(); err != nil {
		return err
	}

	if err := b.ovs.Ping(); err != nil {
		return fmt.Errorf("OVS is not accessible: %w", err)
	}

	if err := b.ovs.ResetBridge(bridge.Name); err != nil {
		return err
	}
	if err := b.ovs.SetExternalID(bridge.Name, "bridge-id", bridge.Vendor); err != nil {
		return err
	}
	if err := b.ovs.SetFailMode(bridge.Name, "secure"); err != nil {
		return err
	}
	if err := b.ovs.SetControllers(bridge.Name, bridge.ControllerURIs()); err != nil {
		return err
	}

	if bridge.TunnelInterface != "" {
		if err := b.configureTunnel(); err != nil {
			return err
		}
	}

	if b.cfg.EmitStartupUnit {
		b.logger.Infof("Installing startup unit %s", startup.UnitName)
		if err := b.units.Install(bridge.Name); err != nil {
			return fmt.Errorf("failed to install startup unit: %w", err)
		}
	}

	record := &store.Record{
		Bridge:          bridge.Name,
		Vendor:          bridge.Vendor,
		Controllers:     bridge.ControllerURIs(),
		TunnelInterface: bridge.TunnelInterface,
		CompletedAt:     time.Now().UTC(),
	}
	if err := b.store.SaveRecord(record); err != nil {
		return err
	}

	b.logger.Infof("Node bootstrap complete: bridge %s, %d controller(s)",
		bridge.Name, len(bridge.Controllers))
	return nil
}

func (b *Bootstrapper) installPackages() error {
	if b.cfg.SkipPackages {
		b.logger.Info("Skipping package installation")
		return nil
	}

	packages := b.pkgs.OVSPackages()
	b.pkgs.Purge(packages)
	return b.pkgs.Install(packages)
}

func (b *Bootstrapper) configureTunnel() error {
	bridge := b.cfg.Bridge

	path, err := b.store.WriteTunnelInterface(bridge.Vendor, bridge.TunnelInterface)
	if err != nil {
		return err
	}
	b.logger.Infof("Recorded tunnel interface %s in %s", bridge.TunnelInterface, path)

	if err := b.ovs.AddGRETunnelPort(bridge.Name, greTunnelPort, bridge.GRERemoteIP); err != nil {
		return err
	}

	if err := b.links.SetUp(bridge.Name); err != nil {
		b.logger.Warnf("Failed to bring up bridge link %s: %v", bridge.Name, err)
	}
	return nil
}
