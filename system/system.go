// Copyright 2026 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package system provides a resolver backed by a [net.Resolver], which
// uses the operating system's configuration (or Go's own DNS client) to
// look up names.
package system

import (
	"cmp"
	"context"
	"errors"
	"net"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/bufbuild/ns"
	"github.com/bufbuild/ns/poll"
)

// AddressFamilyAffinity controls which resolved addresses are used, based on
// their address family.
type AddressFamilyAffinity int

const (
	// AllFamilies will result in all addresses being used, regardless of
	// their address family.
	AllFamilies AddressFamilyAffinity = iota

	// PreferIPv4 will result in only IPv4 addresses being used, if any
	// IPv4 addresses are present. If no IPv4 addresses are resolved, then
	// all addresses will be used.
	PreferIPv4

	// PreferIPv6 will result in only IPv6 addresses being used, if any
	// IPv6 addresses are present. If no IPv6 addresses are resolved, then
	// all addresses will be used.
	PreferIPv6

	// RequireIPv4 will result in only IPv4 addresses being used. Names with
	// only IPv6 addresses are reported as not found.
	RequireIPv4

	// RequireIPv6 will result in only IPv6 addresses being used. Names with
	// only IPv4 addresses are reported as not found.
	RequireIPv6
)

// New creates a resolver that looks up names using resolver.
//
// Host resolution returns the A and AAAA records of the host, filtered by
// affinity. Service resolution of a name with a default port joins those
// IPs with the port. Service resolution of a name without a default port
// looks up the SRV records of the host (for example
// "_http._tcp.example.com"), using their priorities and weights.
//
// Because net.Resolver does not expose record TTLs, subscriptions re-resolve
// at the interval configured with poll.WithDefaultTTL.
func New(resolver *net.Resolver, affinity AddressFamilyAffinity, opts ...poll.Option) ns.Resolver {
	return poll.NewResolver(NewProber(resolver, affinity), opts...)
}

// NewProber returns the single-shot prober used by New, for callers that
// want to wrap it before polling.
func NewProber(resolver *net.Resolver, affinity AddressFamilyAffinity) poll.Prober {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &prober{resolver: resolver, affinity: affinity}
}

type prober struct {
	resolver *net.Resolver
	affinity AddressFamilyAffinity
}

func (p *prober) ProbeHost(ctx context.Context, name ns.Name) (ns.IPList, time.Duration, error) {
	ips, err := p.lookupIPs(ctx, name.Host())
	if err != nil {
		return ns.IPList{}, 0, err
	}
	return ns.NewIPList(ips...), 0, nil
}

func (p *prober) Probe(ctx context.Context, name ns.Name) (ns.Address, time.Duration, error) {
	if port, ok := name.DefaultPort(); ok {
		ips, err := p.lookupIPs(ctx, name.Host())
		if err != nil {
			return ns.Address{}, 0, err
		}
		return ns.NewIPList(ips...).WithPort(port), 0, nil
	}
	_, records, err := p.resolver.LookupSRV(ctx, "", "", name.Host())
	if err != nil {
		return ns.Address{}, 0, convertError(err)
	}
	// LookupSRV already sorts by priority, but shuffles by weight within a
	// priority; the order within a level doesn't matter to an Address.
	slices.SortStableFunc(records, func(a, b *net.SRV) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
	var builder ns.AddressBuilder
	var level []ns.WeightedAddr
	for i, record := range records {
		ips, err := p.lookupIPs(ctx, record.Target)
		switch {
		case errors.Is(err, ns.ErrNameNotFound):
			// A dangling target doesn't invalidate the other records.
		case err != nil:
			return ns.Address{}, 0, err
		}
		for _, ip := range ips {
			level = append(level, ns.WeightedAddr{
				Weight: ns.Weight(record.Weight),
				Addr:   netip.AddrPortFrom(ip, record.Port),
			})
		}
		if i == len(records)-1 || records[i+1].Priority != record.Priority {
			builder.AddAddresses(level...)
			level = level[:0]
		}
	}
	addr := builder.Build()
	if addr.IsEmpty() {
		return ns.Address{}, 0, ns.ErrNameNotFound
	}
	return addr, 0, nil
}

func (p *prober) lookupIPs(ctx context.Context, host string) ([]netip.Addr, error) {
	network := "ip"
	switch p.affinity {
	case RequireIPv4:
		network = "ip4"
	case RequireIPv6:
		network = "ip6"
	case AllFamilies, PreferIPv4, PreferIPv6:
	}
	addresses, err := p.resolver.LookupNetIP(ctx, network, host)
	if err != nil {
		return nil, convertError(err)
	}
	for i, address := range addresses {
		addresses[i] = address.Unmap()
	}
	switch p.affinity {
	case PreferIPv4:
		addresses = preferFamily(addresses, netip.Addr.Is4)
	case PreferIPv6:
		addresses = preferFamily(addresses, netip.Addr.Is6)
	case RequireIPv4:
		addresses = slices.DeleteFunc(addresses, func(addr netip.Addr) bool { return !addr.Is4() })
	case RequireIPv6:
		addresses = slices.DeleteFunc(addresses, func(addr netip.Addr) bool { return !addr.Is6() })
	case AllFamilies:
	}
	if len(addresses) == 0 {
		return nil, ns.ErrNameNotFound
	}
	return addresses, nil
}

func preferFamily(addresses []netip.Addr, inFamily func(netip.Addr) bool) []netip.Addr {
	preferred := make([]netip.Addr, 0, len(addresses))
	for _, address := range addresses {
		if inFamily(address) {
			preferred = append(preferred, address)
		}
	}
	if len(preferred) == 0 {
		return addresses
	}
	return preferred
}

// convertError maps net package errors onto the ns error kinds.
func convertError(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return ns.ErrNameNotFound
	}
	var addrErr *net.AddrError
	if errors.As(err, &addrErr) && strings.Contains(addrErr.Err, "no suitable address") {
		return ns.ErrNameNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return ns.Temporary(err)
}
