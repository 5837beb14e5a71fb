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

// Package nameserver provides a resolver that queries specific DNS servers
// directly, instead of going through the operating system. Unlike the
// resolver in package system, it knows the TTL of every record, so
// subscriptions refresh exactly when the records expire.
package nameserver

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/netip"
	"slices"
	"time"

	"github.com/bufbuild/ns"
	"github.com/bufbuild/ns/poll"
	"github.com/miekg/dns"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeout is the time allowed for each query to a server.
	DefaultTimeout = 2 * time.Second

	defaultPort = "53"
)

// Option configures a name server resolver.
type Option interface {
	apply(*prober)
}

// WithNet sets the transport used for queries: "udp" (the default), "tcp",
// or "tcp-tls". Truncated UDP responses are always retried over TCP.
func WithNet(network string) Option {
	return optionFunc(func(p *prober) {
		p.network = network
	})
}

// WithTimeout sets the time allowed for each query to a server. If not
// specified, DefaultTimeout is used.
func WithTimeout(timeout time.Duration) Option {
	return optionFunc(func(p *prober) {
		p.timeout = timeout
	})
}

// WithLogger configures the logger used to report failing servers. It is
// passed on to the polling layer too.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(p *prober) {
		p.logger = logger
		p.pollOptions = append(p.pollOptions, poll.WithLogger(logger))
	})
}

// WithPollOptions configures how subscriptions refresh.
func WithPollOptions(opts ...poll.Option) Option {
	return optionFunc(func(p *prober) {
		p.pollOptions = append(p.pollOptions, opts...)
	})
}

type optionFunc func(*prober)

func (f optionFunc) apply(p *prober) {
	f(p)
}

// New returns a resolver that sends queries to servers, trying them in
// order until one gives an answer. Servers are given as "host:port"; a
// server without a port uses port 53.
//
// Host resolution queries the A and AAAA records of the host. Service
// resolution of a name without a default port queries its SRV records,
// using the priorities and weights of the records.
func New(servers []string, opts ...Option) (ns.Resolver, error) {
	p, err := newProber(servers, opts)
	if err != nil {
		return nil, err
	}
	return poll.NewResolver(p, p.pollOptions...), nil
}

// NewProber returns the single-shot prober used by New.
func NewProber(servers []string, opts ...Option) (poll.Prober, error) {
	return newProber(servers, opts)
}

func newProber(servers []string, opts []Option) (*prober, error) {
	if len(servers) == 0 {
		return nil, errors.New("at least one name server is required")
	}
	p := &prober{
		network: "udp",
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt.apply(p)
	}
	for _, server := range servers {
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(server, defaultPort)
		}
		p.servers = append(p.servers, server)
	}
	p.client = &dns.Client{Net: p.network, Timeout: p.timeout}
	p.tcpClient = &dns.Client{Net: "tcp", Timeout: p.timeout}
	return p, nil
}

type prober struct {
	servers     []string
	network     string
	timeout     time.Duration
	logger      *zap.Logger
	pollOptions []poll.Option

	client    *dns.Client
	tcpClient *dns.Client
}

func (p *prober) ProbeHost(ctx context.Context, name ns.Name) (ns.IPList, time.Duration, error) {
	ips, ttl, err := p.lookupIPs(ctx, name.Host())
	if err != nil {
		return ns.IPList{}, 0, err
	}
	return ns.NewIPList(ips...), ttl, nil
}

func (p *prober) Probe(ctx context.Context, name ns.Name) (ns.Address, time.Duration, error) {
	if port, ok := name.DefaultPort(); ok {
		ips, ttl, err := p.lookupIPs(ctx, name.Host())
		if err != nil {
			return ns.Address{}, 0, err
		}
		return ns.NewIPList(ips...).WithPort(port), ttl, nil
	}
	return p.lookupSRV(ctx, name.Host())
}

func (p *prober) lookupSRV(ctx context.Context, host string) (ns.Address, time.Duration, error) {
	resp, err := p.exchange(ctx, host, dns.TypeSRV)
	if err != nil {
		return ns.Address{}, 0, err
	}
	var ttl minTTL
	var records []*dns.SRV
	for _, rr := range resp.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			records = append(records, srv)
			ttl.add(srv.Hdr.Ttl)
		}
	}
	slices.SortStableFunc(records, func(a, b *dns.SRV) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
	extra := additionalIPs(resp)
	var builder ns.AddressBuilder
	var level []ns.WeightedAddr
	for i, record := range records {
		target := dns.CanonicalName(record.Target)
		var ips []netip.Addr
		if found, ok := extra[target]; ok {
			ips = found.ips
			ttl.merge(found.ttl)
		} else {
			var targetTTL time.Duration
			ips, targetTTL, err = p.lookupIPs(ctx, target)
			switch {
			case errors.Is(err, ns.ErrNameNotFound):
			case err != nil:
				return ns.Address{}, 0, err
			default:
				ttl.add(uint32(targetTTL / time.Second))
			}
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
	return addr, ttl.duration(), nil
}

// lookupIPs queries the A and AAAA records of host concurrently.
func (p *prober) lookupIPs(ctx context.Context, host string) ([]netip.Addr, time.Duration, error) {
	qtypes := [...]uint16{dns.TypeA, dns.TypeAAAA}
	var results [len(qtypes)]*dns.Msg
	group, groupCtx := errgroup.WithContext(ctx)
	for i, qtype := range qtypes {
		group.Go(func() error {
			resp, err := p.exchange(groupCtx, host, qtype)
			if errors.Is(err, ns.ErrNameNotFound) {
				return nil
			}
			results[i] = resp
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return nil, 0, err
	}
	var ttl minTTL
	var ips []netip.Addr
	for _, resp := range results {
		if resp == nil {
			continue
		}
		for _, rr := range resp.Answer {
			if ip, ok := ipFromRR(rr); ok {
				ips = append(ips, ip)
				ttl.add(rr.Header().Ttl)
			}
		}
	}
	if len(ips) == 0 {
		return nil, 0, ns.ErrNameNotFound
	}
	return ips, ttl.duration(), nil
}

// exchange sends a query to each server in turn, and returns the first
// conclusive response. NXDOMAIN is conclusive and reported as
// ns.ErrNameNotFound.
func (p *prober) exchange(ctx context.Context, host string, qtype uint16) (*dns.Msg, error) {
	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn(host), qtype)
	var errs error
	for _, server := range p.servers {
		resp, _, err := p.client.ExchangeContext(ctx, query, server)
		if err == nil && resp.Truncated && p.network == "udp" {
			resp, _, err = p.tcpClient.ExchangeContext(ctx, query, server)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			p.logger.Debug("name server query failed",
				zap.String("server", server), zap.String("name", query.Question[0].Name), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}
		switch resp.Rcode {
		case dns.RcodeSuccess:
			return resp, nil
		case dns.RcodeNameError:
			return nil, ns.ErrNameNotFound
		default:
			p.logger.Debug("name server returned an error",
				zap.String("server", server), zap.String("name", query.Question[0].Name),
				zap.String("rcode", dns.RcodeToString[resp.Rcode]))
			errs = multierr.Append(errs, fmt.Errorf("%s: %s", server, dns.RcodeToString[resp.Rcode]))
		}
	}
	return nil, ns.Temporary(fmt.Errorf("failed to query %s %s: %w",
		dns.TypeToString[qtype], query.Question[0].Name, errs))
}

type addressRecords struct {
	ips []netip.Addr
	ttl minTTL
}

// additionalIPs indexes the address records in the additional section of
// resp by their canonical owner name.
func additionalIPs(resp *dns.Msg) map[string]*addressRecords {
	records := map[string]*addressRecords{}
	for _, rr := range resp.Extra {
		ip, ok := ipFromRR(rr)
		if !ok {
			continue
		}
		name := dns.CanonicalName(rr.Header().Name)
		entry := records[name]
		if entry == nil {
			entry = &addressRecords{}
			records[name] = entry
		}
		entry.ips = append(entry.ips, ip)
		entry.ttl.add(rr.Header().Ttl)
	}
	return records
}

func ipFromRR(rr dns.RR) (netip.Addr, bool) {
	var ip net.IP
	switch rr := rr.(type) {
	case *dns.A:
		ip = rr.A
	case *dns.AAAA:
		ip = rr.AAAA
	default:
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(ip)
	return addr.Unmap(), ok
}

// minTTL tracks the smallest TTL of a set of records, in seconds.
type minTTL struct {
	seconds uint32
	set     bool
}

func (m *minTTL) add(seconds uint32) {
	if !m.set || seconds < m.seconds {
		m.seconds, m.set = seconds, true
	}
}

func (m *minTTL) merge(other minTTL) {
	if other.set {
		m.add(other.seconds)
	}
}

func (m *minTTL) duration() time.Duration {
	if !m.set {
		return 0
	}
	return time.Duration(min(m.seconds, math.MaxInt32)) * time.Second
}
