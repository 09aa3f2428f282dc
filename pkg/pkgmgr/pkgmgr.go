package pkgmgr

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ovs-container-lab/ovs-node-bootstrap/pkg/types"
)

// Family is the OS package family a node belongs to
type Family string

const (
	FamilyDeb Family = "deb"
	FamilyRPM Family = "rpm"
)

const osReleasePath = "/etc/os-release"

// Runner executes an external command and returns its combined output
type Runner interface {
	CombinedOutput(name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) CombinedOutput(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// DetectFamily determines the package family from /etc/os-release
func DetectFamily() (Family, error) {
	f, err := os.Open(osReleasePath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", osReleasePath, err)
	}
	defer f.Close()
	return detectFamily(f)
}

func detectFamily(r io.Reader) (Family, error) {
	ids := []string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if key == "ID" || key == "ID_LIKE" {
			value = strings.Trim(value, `"`)
			ids = append(ids, strings.Fields(strings.ToLower(value))...)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to parse os-release: %w", err)
	}

	for _, id := range ids {
		switch id {
		case "debian", "ubuntu":
			return FamilyDeb, nil
		case "rhel", "centos", "fedora", "rocky", "almalinux":
			return FamilyRPM, nil
		}
	}
	return "", fmt.Errorf("unsupported OS (os-release ids: %s)", strings.Join(ids, " "))
}

// Manager installs and removes packages through the node's package manager
type Manager struct {
	family Family
	logger *logrus.Logger
	runner Runner
}

// NewManager creates a package manager for the given OS family
func NewManager(family Family) (*Manager, error) {
	if family != FamilyDeb && family != FamilyRPM {
		return nil, fmt.Errorf("unknown package family %q", family)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.GetLevel())

	return &Manager{
		family: family,
		logger: logger,
		runner: execRunner{},
	}, nil
}

// OVSPackages returns the Open vSwitch package set for this OS family
func (m *Manager) OVSPackages() types.PackageSet {
	switch m.family {
	case FamilyDeb:
		return types.PackageSet{"openvswitch-switch", "openvswitch-common"}
	default:
		return types.PackageSet{"openvswitch"}
	}
}

// Purge removes the packages best-effort. A failed purge is logged and
// ignored so a fresh node bootstraps the same way as a re-bootstrap.
func (m *Manager) Purge(packages types.PackageSet) {
	name, args := m.purgeCommand(packages)
	if output, err := m.runner.CombinedOutput(name, args...); err != nil {
		m.logger.Warnf("Purge of %s failed (continuing): %v (output: %s)",
			strings.Join(packages, " "), err, strings.TrimSpace(string(output)))
		return
	}
	m.logger.Infof("Purged packages: %s", strings.Join(packages, " "))
}

// Install installs or upgrades the packages; failure is fatal to the bootstrap
func (m *Manager) Install(packages types.PackageSet) error {
	name, args := m.installCommand(packages)
	m.logger.Infof("Installing packages: %s", strings.Join(packages, " "))
	if output, err := m.runner.CombinedOutput(name, args...); err != nil {
		return fmt.Errorf("failed to install %s: %w (output: %s)",
			strings.Join(packages, " "), err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (m *Manager) purgeCommand(packages types.PackageSet) (string, []string) {
	if m.family == FamilyDeb {
		return "apt-get", append([]string{"purge", "-qy"}, packages...)
	}
	return "yum", append([]string{"remove", "-y"}, packages...)
}

func (m *Manager) installCommand(packages types.PackageSet) (string, []string) {
	if m.family == FamilyDeb {
		return "apt-get", append([]string{"install", "-qy"}, packages...)
	}
	return "yum", append([]string{"install", "-y"}, packages...)
}
