package chute

import (
	"encoding/binary"
	"net"
)

// IsIPValid reports whether s is a well-formed IPv4 address.
func IsIPValid(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

// IsIPAvailable reports whether ip is not reserved by any chute other than
// name. A chute's own reservation never conflicts with itself.
func IsIPAvailable(ip string, chutes []*Chute, name string) bool {
	return available(ip, chutes, name, func(c *Chute) []string { return c.IPs })
}

// IsSSIDAvailable reports whether ssid is not claimed by another chute.
func IsSSIDAvailable(ssid string, chutes []*Chute, name string) bool {
	return available(ssid, chutes, name, func(c *Chute) []string { return c.SSIDs })
}

// IsStaticIPAvailable reports whether ip is not reserved as a static IP by
// another chute.
func IsStaticIPAvailable(ip string, chutes []*Chute, name string) bool {
	return available(ip, chutes, name, func(c *Chute) []string { return c.StaticIPs })
}

func available(value string, chutes []*Chute, name string, field func(*Chute) []string) bool {
	for _, c := range chutes {
		if c.Name == name {
			continue
		}
		for _, v := range field(c) {
			if v == value {
				return false
			}
		}
	}
	return true
}

// IncIP returns the next IPv4 address, or "" when s is not valid IPv4.
func IncIP(s string) string {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return ""
	}
	v := binary.BigEndian.Uint32(ip.To4()) + 1
	out := make(net.IP, 4)
	binary.BigEndian.PutUint32(out, v)
	return out.String()
}

// MaxIP returns the highest usable host address in the subnet defined by
// ipaddr/netmask (one below broadcast), or "" on malformed input.
func MaxIP(ipaddr, netmask string) string {
	ip := net.ParseIP(ipaddr)
	mask := net.ParseIP(netmask)
	if ip == nil || ip.To4() == nil || mask == nil || mask.To4() == nil {
		return ""
	}
	ipv := binary.BigEndian.Uint32(ip.To4())
	maskv := binary.BigEndian.Uint32(mask.To4())
	broadcast := ipv | ^maskv
	out := make(net.IP, 4)
	binary.BigEndian.PutUint32(out, broadcast-1)
	return out.String()
}

// Subnet returns the network address for ipaddr/netmask, or "" on malformed
// input.
func Subnet(ipaddr, netmask string) string {
	ip := net.ParseIP(ipaddr)
	mask := net.ParseIP(netmask)
	if ip == nil || ip.To4() == nil || mask == nil || mask.To4() == nil {
		return ""
	}
	ipv := binary.BigEndian.Uint32(ip.To4())
	maskv := binary.BigEndian.Uint32(mask.To4())
	out := make(net.IP, 4)
	binary.BigEndian.PutUint32(out, ipv&maskv)
	return out.String()
}
