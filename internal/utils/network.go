package utils

import (
	"net"
	"strings"
)

// tunnelHints are interface name fragments used by VPN and tunnel software.
var tunnelHints = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// BehindTunnel reports whether an active interface looks like a VPN or
// carrier-grade NAT (100.64.0.0/10). Direct peer paths rarely work there, so
// callers prefer TURN relays when they have one.
func BehindTunnel() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if looksLikeTunnel(iface.Name) {
			return true
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && cgnat.Contains(ipnet.IP) {
				return true
			}
		}
	}
	return false
}

func looksLikeTunnel(name string) bool {
	name = strings.ToLower(name)
	for _, hint := range tunnelHints {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}
