package utils

import (
	"fmt"
	"net"
)

func GetLocalIPs(onlyIPv4 bool) ([]string, error) {
	var ips []string

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}

		ip := ipnet.IP
		if ip4 := ip.To4(); ip4 != nil {
			ips = append(ips, ip4.String())
			continue
		}
		if !onlyIPv4 && ip.To16() != nil {
			ips = append(ips, ip.String())
		}
	}

	if len(ips) == 0 {
		return nil, fmt.Errorf("no non-loopback interface addresses found")
	}
	return ips, nil
}

// ListenURLs expands a listen address such as ":3040" into URLs clients can
// reach, substituting the host's interface addresses for a wildcard host.
func ListenURLs(scheme, addr, path string) ([]string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listen address: %w", err)
	}

	hosts := []string{host}
	if host == "" || host == "::" || host == "0.0.0.0" {
		hosts = []string{"localhost"}
		if ips, err := GetLocalIPs(true); err == nil {
			hosts = append(hosts, ips...)
		}
	}

	urls := make([]string, 0, len(hosts))
	for _, h := range hosts {
		urls = append(urls, fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(h, port), path))
	}
	return urls, nil
}
