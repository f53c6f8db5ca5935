package utils

import (
	"net"
	"os"
)

// Localhost is returned by GetLocalIP when no LAN address is available.
const Localhost = "localhost"

// Interface is the subset of a network interface needed to pick an address.
type Interface struct {
	Name  string
	Flags net.Flags
	Addrs []net.Addr
}

// GetLocalIP returns the first non-internal IPv4 address of this machine, in the
// order the OS reports interfaces, or "localhost" if there is none.
func GetLocalIP() string {
	ifaces, err := systemInterfaces()
	if err != nil {
		return Localhost
	}
	return FirstLANIPv4(ifaces)
}

// GetHostname returns the OS hostname unmodified.
func GetHostname() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}

// FirstLANIPv4 picks the first IPv4 address that is not on a loopback
// interface and is not itself a loopback address.
func FirstLANIPv4(ifaces []Interface) string {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		for _, addr := range iface.Addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			ip4 := ip.To4()
			if ip4 == nil || ip4.IsLoopback() {
				continue
			}
			return ip4.String()
		}
	}
	return Localhost
}

func systemInterfaces() ([]Interface, error) {
	raw, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Interface, 0, len(raw))
	for _, iface := range raw {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		out = append(out, Interface{Name: iface.Name, Flags: iface.Flags, Addrs: addrs})
	}
	return out, nil
}
