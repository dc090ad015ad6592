package socket

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/sys/unix"
)

// Endpoint is an immutable host/port pair identifying one side of a connection
type Endpoint struct {
	host string
	port int
}

// NewEndpoint creates an endpoint from a host (name or IP literal) and a port
func NewEndpoint(host string, port int) Endpoint {
	return Endpoint{host: host, port: port}
}

// ParseEndpoint parses an endpoint in the form "host:port" (IPv6 hosts in brackets)
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("invalid port in endpoint %q", s)
	}
	return Endpoint{host: host, port: port}, nil
}

// EndpointFromSockaddr converts a raw OS socket address into a numeric endpoint
func EndpointFromSockaddr(sa unix.Sockaddr) (Endpoint, error) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return Endpoint{host: netip.AddrFrom4(a.Addr).String(), port: a.Port}, nil
	case *unix.SockaddrInet6:
		addr := netip.AddrFrom16(a.Addr)
		if a.ZoneId != 0 {
			addr = addr.WithZone(zoneName(a.ZoneId))
		}
		return Endpoint{host: addr.String(), port: a.Port}, nil
	default:
		return Endpoint{}, fmt.Errorf("unsupported socket address type %T", sa)
	}
}

// Host returns the host part
func (e Endpoint) Host() string {
	return e.host
}

// Port returns the port part
func (e Endpoint) Port() int {
	return e.port
}

// IsZero reports whether the endpoint was never set
func (e Endpoint) IsZero() bool {
	return e.host == "" && e.port == 0
}

// String returns the endpoint as "host:port"
func (e Endpoint) String() string {
	return net.JoinHostPort(e.host, strconv.Itoa(e.port))
}

// withPort returns a copy of the endpoint with another port
func (e Endpoint) withPort(port int) Endpoint {
	return Endpoint{host: e.host, port: port}
}

// --------------------------------------------------------------------------
// Resolution
// --------------------------------------------------------------------------

// resolve returns the candidate socket addresses for the endpoint, in the order they should be tried.
// With passive set an empty host means "any address", otherwise it means loopback.
func (e Endpoint) resolve(passive bool) ([]unix.Sockaddr, error) {
	if e.port < 0 || e.port > 65535 {
		return nil, fmt.Errorf("%w: invalid port %d", ErrNoUsableAddress, e.port)
	}

	var addrs []netip.Addr
	switch {
	case e.host == "" && passive:
		addrs = []netip.Addr{netip.IPv4Unspecified(), netip.IPv6Unspecified()}
	case e.host == "":
		addrs = []netip.Addr{netip.MustParseAddr("127.0.0.1"), netip.IPv6Loopback()}
	default:
		if addr, err := netip.ParseAddr(e.host); err == nil {
			addrs = []netip.Addr{addr}
			break
		}
		resolved, err := net.DefaultResolver.LookupNetIP(context.Background(), "ip", e.host)
		if err != nil {
			return nil, fmt.Errorf("%w: resolving %s: %v", ErrNoUsableAddress, e.host, err)
		}
		addrs = resolved
	}

	candidates := make([]unix.Sockaddr, 0, len(addrs))
	for _, addr := range addrs {
		sa, err := toSockaddr(addr, e.port)
		if err != nil {
			Logger.Debugf("skipping candidate %s: %v", addr, err)
			continue
		}
		candidates = append(candidates, sa)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidate addresses for %s", ErrNoUsableAddress, e)
	}
	return candidates, nil
}

// toSockaddr converts an IP address and port into a raw socket address
func toSockaddr(addr netip.Addr, port int) (unix.Sockaddr, error) {
	addr = addr.Unmap()
	if addr.Is4() {
		return &unix.SockaddrInet4{Port: port, Addr: addr.As4()}, nil
	}
	if !addr.Is6() {
		return nil, fmt.Errorf("invalid address %v", addr)
	}
	sa := &unix.SockaddrInet6{Port: port, Addr: addr.As16()}
	if zone := addr.Zone(); zone != "" {
		id, err := zoneID(zone)
		if err != nil {
			return nil, err
		}
		sa.ZoneId = id
	}
	return sa, nil
}

// family returns the address family of a raw socket address
func family(sa unix.Sockaddr) int {
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		return unix.AF_INET6
	}
	return unix.AF_INET
}

// zoneName converts an IPv6 zone index into an interface name (or the number if unknown)
func zoneName(id uint32) string {
	if ifi, err := net.InterfaceByIndex(int(id)); err == nil {
		return ifi.Name
	}
	return strconv.FormatUint(uint64(id), 10)
}

// zoneID converts an IPv6 zone (interface name or number) into an interface index
func zoneID(zone string) (uint32, error) {
	if n, err := strconv.ParseUint(zone, 10, 32); err == nil {
		return uint32(n), nil
	}
	ifi, err := net.InterfaceByName(zone)
	if err != nil {
		return 0, fmt.Errorf("unknown zone %q: %w", zone, err)
	}
	return uint32(ifi.Index), nil
}
