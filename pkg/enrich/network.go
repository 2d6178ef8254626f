// Package enrich adds network context to audit events: private/external origin and subnet grouping.
package enrich

import (
	"net/netip"
	"strings"
)

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("::1/128"),
}

func parse(ip string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// IsPrivateIP reports whether ip is in an RFC1918, loopback or link-local range.
func IsPrivateIP(ip string) bool {
	addr, ok := parse(ip)
	if !ok {
		return false
	}
	for _, p := range privatePrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// awsInternal is the sourceIPAddress CloudTrail records for calls made inside AWS.
const awsInternal = "AWS Internal"

// IsExternalIP reports whether ip is a source outside the private ranges. Service host names
// such as "s3.amazonaws.com" count as external; the placeholders "", "0.0.0.0" and
// "AWS Internal" do not.
func IsExternalIP(ip string) bool {
	ip = strings.TrimSpace(ip)
	if ip == "" || strings.EqualFold(ip, awsInternal) {
		return false
	}
	addr, ok := parse(ip)
	if !ok {
		return true
	}
	if addr.IsUnspecified() {
		return false
	}
	return !IsPrivateIP(ip)
}

// Subnet24 returns the "a.b.c" prefix of an IPv4 address.
func Subnet24(ip string) (string, bool) {
	addr, ok := parse(ip)
	if !ok || !addr.Is4() {
		return "", false
	}
	s := addr.String()
	return s[:strings.LastIndexByte(s, '.')], true
}

// SameSubnet24 reports whether a and b are IPv4 addresses in the same /24.
func SameSubnet24(a, b string) bool {
	sa, ok := Subnet24(a)
	if !ok {
		return false
	}
	sb, ok := Subnet24(b)
	return ok && sa == sb
}
