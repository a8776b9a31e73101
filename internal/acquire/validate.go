package acquire

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

const maxURLLength = 2048

// Validator checks references before anything is fetched:
//   - max length 2048 characters
//   - scheme must be http or https
//   - no embedded credentials (user:pass@host)
//   - unless AllowPrivate, the host must resolve to public addresses only
type Validator struct {
	AllowPrivate bool
	Resolver     *net.Resolver
}

// Validate returns the parsed URL or an error wrapping ErrInvalidReference.
func (v Validator) Validate(ctx context.Context, reference string) (*url.URL, error) {
	if len(reference) > maxURLLength {
		return nil, fmt.Errorf("%w: URL too long (%d chars, max %d)", ErrInvalidReference, len(reference), maxURLLength)
	}

	u, err := url.Parse(reference)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidReference, u.Scheme)
	}
	if u.User != nil {
		return nil, fmt.Errorf("%w: embedded credentials are not allowed", ErrInvalidReference)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: URL has no hostname", ErrInvalidReference)
	}
	if v.AllowPrivate {
		return u, nil
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		resolver := v.Resolver
		if resolver == nil {
			resolver = net.DefaultResolver
		}
		addrs, err := resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("%w: DNS resolution failed for %q: %v", ErrInvalidReference, host, err)
		}
		for _, a := range addrs {
			ips = append(ips, a.IP)
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: no DNS results for %q", ErrInvalidReference, host)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return nil, fmt.Errorf("%w: %q resolves to private address %s", ErrInvalidReference, host, ip)
		}
	}
	return u, nil
}

var privateRanges []*net.IPNet

func init() {
	cidrs := []string{
		"0.0.0.0/8",
		"127.0.0.0/8",
		"10.0.0.0/8",
		"100.64.0.0/10",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	}
	for _, cidr := range cidrs {
		_, network, _ := net.ParseCIDR(cidr)
		privateRanges = append(privateRanges, network)
	}
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsUnspecified() {
		return true
	}
	for _, network := range privateRanges {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
