package types

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultOpenFlowPort is used for controller endpoints given without a port.
const DefaultOpenFlowPort = 6633

// ControllerEndpoint is a single OpenFlow control-plane endpoint
type ControllerEndpoint struct {
	Host string // hostname or IP (IPv6 without brackets)
	Port int    // OpenFlow port, normally 6633
}

// URI returns the endpoint in ovs-vsctl controller form, e.g. tcp:10.0.0.1:6633
func (e ControllerEndpoint) URI() string {
	return "tcp:" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseControllerList parses a comma-separated list of host[:port] entries
// into ordered endpoints. Hosts without a port get defaultPort. IPv6 hosts
// must be bracketed when a port is given.
func ParseControllerList(list string, defaultPort int) ([]ControllerEndpoint, error) {
	if strings.TrimSpace(list) == "" {
		return nil, fmt.Errorf("controller list is empty")
	}
	if defaultPort <= 0 {
		defaultPort = DefaultOpenFlowPort
	}

	var endpoints []ControllerEndpoint
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			return nil, fmt.Errorf("controller list %q contains an empty entry", list)
		}

		endpoint, err := parseEndpoint(entry, defaultPort)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, endpoint)
	}

	return endpoints, nil
}

func parseEndpoint(entry string, defaultPort int) (ControllerEndpoint, error) {
	if host, port, err := net.SplitHostPort(entry); err == nil {
		p, err := strconv.Atoi(port)
		if err != nil || p < 1 || p > 65535 {
			return ControllerEndpoint{}, fmt.Errorf("invalid controller port in %q", entry)
		}
		if host == "" {
			return ControllerEndpoint{}, fmt.Errorf("invalid controller entry %q", entry)
		}
		return ControllerEndpoint{Host: host, Port: p}, nil
	}

	// No port: the entry is a bare host, possibly a bracketed IPv6 literal
	host := strings.TrimSuffix(strings.TrimPrefix(entry, "["), "]")
	if host == "" {
		return ControllerEndpoint{}, fmt.Errorf("invalid controller entry %q", entry)
	}
	return ControllerEndpoint{Host: host, Port: defaultPort}, nil
}

// BridgeConfig describes the desired state of the integration bridge
type BridgeConfig struct {
	Name            string               // OVS bridge name
	Vendor          string               // external-id tag for orchestration tooling
	Controllers     []ControllerEndpoint // ordered controller endpoints
	TunnelInterface string               // local interface terminating GRE tunnels, optional
	GRERemoteIP     string               // remote endpoint for the GRE port, optional
}

// ControllerURIs returns the controller set in ovs-vsctl form, input order preserved
func (b BridgeConfig) ControllerURIs() []string {
	uris := make([]string, 0, len(b.Controllers))
	for _, endpoint := range b.Controllers {
		uris = append(uris, endpoint.URI())
	}
	return uris
}

// PackageSet is a flat ordered list of packages handed to the OS package manager
type PackageSet []string
