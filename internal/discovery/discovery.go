package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"

	"lanshare/internal/models"
)

// ErrNotImplemented is returned by Unavailable.Scan. Peer discovery has no
// backing mechanism yet; the device list stays empty.
var ErrNotImplemented = errors.New("device discovery not implemented")

type Discovery interface {
	Scan(ctx context.Context) ([]models.Device, error)
}

// Unavailable is the Discovery used until a LAN discovery mechanism exists.
type Unavailable struct{}

func (Unavailable) Scan(ctx context.Context) ([]models.Device, error) {
	return nil, ErrNotImplemented
}

// Static returns a fixed device list; used to point the app at known hosts.
type Static []models.Device

func (s Static) Scan(ctx context.Context) ([]models.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]models.Device, len(s))
	copy(out, s)
	return out, nil
}

// ParseStatic builds a Static list from "name=ip" or bare "ip" entries.
// Device IDs are derived from the IP so they are stable across runs.
func ParseStatic(entries []string) (Static, error) {
	out := make(Static, 0, len(entries))
	for _, e := range entries {
		name, ip, found := strings.Cut(e, "=")
		if !found {
			name, ip = e, e
		}
		name, ip = strings.TrimSpace(name), strings.TrimSpace(ip)
		if net.ParseIP(ip) == nil {
			return nil, fmt.Errorf("invalid peer %q: not an IP address", e)
		}
		out = append(out, models.Device{
			ID:       uuid.NewSHA1(uuid.NameSpaceURL, []byte("lanshare://"+ip)).String(),
			Name:     name,
			IP:       ip,
			IsOnline: true,
		})
	}
	return out, nil
}
