package relay

import (
	"net/netip"
	"strings"
)

const (
	// ipv4SubnetBits is the prefix length two IPv4 relays must share to be
	// considered part of the same network block.
	ipv4SubnetBits = 16

	// ipv6SubnetBits is the IPv6 equivalent of ipv4SubnetBits.
	ipv6SubnetBits = 32
)

// SameSubnet returns true if both addresses fall into the same /16 for IPv4,
// or the same /32 for IPv6. Addresses that fail to parse as IPs are compared
// on their first two dot separated labels.
func SameSubnet(a, b string) bool {
	pa, errA := subnetOf(a)
	pb, errB := subnetOf(b)
	if errA == nil && errB == nil {
		return pa == pb
	}

	la := strings.SplitN(a, ".", 3)
	lb := strings.SplitN(b, ".", 3)
	if len(la) < 2 || len(lb) < 2 {
		return a == b
	}

	return la[0] == lb[0] && la[1] == lb[1]
}

// subnetOf returns the coarse network prefix of the given address.
func subnetOf(addr string) (netip.Prefix, error) {
	ip, err := netip.ParseAddr(strings.Trim(addr, "[]"))
	if err != nil {
		return netip.Prefix{}, err
	}
	ip = ip.Unmap()

	bits := ipv6SubnetBits
	if ip.Is4() {
		bits = ipv4SubnetBits
	}

	return ip.Prefix(bits)
}
