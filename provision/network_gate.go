package provision

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/sirupsen/logrus"
)

// NetworkGate admits remote hosts that resolve into one of the allowed networks
type NetworkGate struct {
	resolver Resolver
	networks []netip.Prefix
	logger   *logrus.Logger
}

func NewNetworkGate(resolver Resolver, networks []netip.Prefix, logger *logrus.Logger) *NetworkGate {
	return &NetworkGate{
		resolver: resolver,
		networks: networks,
		logger:   logger,
	}
}

// IsAllowed reports whether any address of host lies in any allowed network
func (g *NetworkGate) IsAllowed(ctx context.Context, host string) (bool, error) {
	if len(g.networks) == 0 {
		return false, nil
	}

	addrs, err := g.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return false, fmt.Errorf("failed to resolve %s: %w", host, err)
	}

	for _, addr := range addrs {
		addr = addr.Unmap()
		for _, network := range g.networks {
			if network.Contains(addr) {
				g.logger.WithFields(logrus.Fields{
					"host":    host,
					"address": addr.String(),
					"network": network.String(),
				}).Debug("Remote host allowed")
				return true, nil
			}
		}
	}

	return false, nil
}

// Check returns an UnauthorizedHostError unless host is allowed
func (g *NetworkGate) Check(ctx context.Context, host string) error {
	allowed, err := g.IsAllowed(ctx, host)
	if err != nil {
		return &UnauthorizedHostError{Host: host, Err: err}
	}
	if !allowed {
		return &UnauthorizedHostError{Host: host}
	}
	return nil
}
