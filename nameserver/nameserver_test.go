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

package nameserver

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/bufbuild/ns"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestProbeHost(t *testing.T) {
	t.Parallel()

	server := newFakeServer(t,
		"example.com. 60 IN A 192.0.2.1",
		"example.com. 30 IN A 192.0.2.2",
		"example.com. 90 IN AAAA 2001:db8::1",
	)
	prober, err := NewProber([]string{server.addr})
	require.NoError(t, err)
	ips, ttl, err := prober.ProbeHost(context.Background(), ns.MustParseName("example.com"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []netip.Addr{
		netip.MustParseAddr("192.0.2.1"),
		netip.MustParseAddr("192.0.2.2"),
		netip.MustParseAddr("2001:db8::1"),
	}, ips.Addrs())
	assert.Equal(t, 30*time.Second, ttl)
}

func TestProbeWithPort(t *testing.T) {
	t.Parallel()

	server := newFakeServer(t, "example.com. 60 IN A 192.0.2.1")
	prober, err := NewProber([]string{server.addr})
	require.NoError(t, err)
	addr, ttl, err := prober.Probe(context.Background(), ns.MustParseName("example.com:8080"))
	require.NoError(t, err)
	assert.Equal(t, ns.MustParseAddressList("192.0.2.1:8080"), addr)
	assert.Equal(t, time.Minute, ttl)
}

func TestProbeSRV(t *testing.T) {
	t.Parallel()

	server := newFakeServer(t,
		"_grpc._tcp.example.com. 120 IN SRV 10 5 8080 a.example.com.",
		"_grpc._tcp.example.com. 120 IN SRV 10 1 8081 b.example.com.",
		"_grpc._tcp.example.com. 120 IN SRV 20 0 9090 c.example.com.",
		"a.example.com. 60 IN A 192.0.2.1",
		"b.example.com. 60 IN A 192.0.2.2",
		"c.example.com. 10 IN AAAA 2001:db8::3",
	)
	// Only a. is in the additional section, the others are queried.
	server.setExtra("_grpc._tcp.example.com.", "a.example.com. 60 IN A 192.0.2.1")

	prober, err := NewProber([]string{server.addr})
	require.NoError(t, err)
	addr, ttl, err := prober.Probe(context.Background(), ns.MustParseName("_grpc._tcp.example.com"))
	require.NoError(t, err)
	require.Equal(t, 2, addr.NumLevels())
	assert.ElementsMatch(t, []ns.WeightedAddr{
		{Weight: 5, Addr: netip.MustParseAddrPort("192.0.2.1:8080")},
		{Weight: 1, Addr: netip.MustParseAddrPort("192.0.2.2:8081")},
	}, addr.At(0).Entries())
	assert.Equal(t, []ns.WeightedAddr{
		{Weight: 0, Addr: netip.MustParseAddrPort("[2001:db8::3]:9090")},
	}, addr.At(1).Entries())
	assert.Equal(t, 10*time.Second, ttl)
	assert.NotContains(t, server.queries(), "a.example.com. A")
	assert.Contains(t, server.queries(), "b.example.com. A")
}

func TestProbeSRVAdditionalTTL(t *testing.T) {
	t.Parallel()

	server := newFakeServer(t,
		"_grpc._tcp.example.com. 120 IN SRV 10 5 8080 a.example.com.",
		"a.example.com. 600 IN A 192.0.2.1",
	)
	// The additional section carries a shorter TTL than the SRV record.
	server.setExtra("_grpc._tcp.example.com.", "a.example.com. 5 IN A 192.0.2.1")

	prober, err := NewProber([]string{server.addr})
	require.NoError(t, err)
	addr, ttl, err := prober.Probe(context.Background(), ns.MustParseName("_grpc._tcp.example.com"))
	require.NoError(t, err)
	assert.Equal(t, []netip.AddrPort{netip.MustParseAddrPort("192.0.2.1:8080")}, addr.AddressesAt(0))
	assert.Equal(t, 5*time.Second, ttl)
	assert.NotContains(t, server.queries(), "a.example.com. A")
}

func TestNameNotFound(t *testing.T) {
	t.Parallel()

	server := newFakeServer(t, "example.com. 60 IN A 192.0.2.1")
	prober, err := NewProber([]string{server.addr})
	require.NoError(t, err)
	_, _, err = prober.ProbeHost(context.Background(), ns.MustParseName("missing.example.com"))
	require.ErrorIs(t, err, ns.ErrNameNotFound)
	_, _, err = prober.Probe(context.Background(), ns.MustParseName("_grpc._tcp.example.com"))
	require.ErrorIs(t, err, ns.ErrNameNotFound)
}

func TestServerFailover(t *testing.T) {
	t.Parallel()

	failing := newFakeServer(t)
	failing.setRcode(dns.RcodeServerFailure)
	working := newFakeServer(t, "example.com. 60 IN A 192.0.2.1")

	prober, err := NewProber([]string{failing.addr, working.addr}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	ips, _, err := prober.ProbeHost(context.Background(), ns.MustParseName("example.com"))
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("192.0.2.1")}, ips.Addrs())

	prober, err = NewProber([]string{failing.addr})
	require.NoError(t, err)
	_, _, err = prober.ProbeHost(context.Background(), ns.MustParseName("example.com"))
	require.Error(t, err)
	assert.True(t, ns.IsTemporary(err))
	assert.NotErrorIs(t, err, ns.ErrNameNotFound)
}

func TestSubscribe(t *testing.T) {
	t.Parallel()

	server := newFakeServer(t, "example.com. 60 IN A 192.0.2.1")
	resolver, err := New([]string{server.addr})
	require.NoError(t, err)
	stream := resolver.Subscribe(ns.MustParseName("example.com:443"))
	t.Cleanup(func() { _ = stream.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	addr, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, ns.MustParseAddressList("192.0.2.1:443"), addr)
}

func TestNoServers(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)
}

type fakeServer struct {
	addr   string
	server *dns.Server

	mu    sync.Mutex
	rcode int
	zone  map[string][]dns.RR
	extra map[string][]dns.RR
	seen  []string
}

func newFakeServer(t *testing.T, records ...string) *fakeServer {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	fake := &fakeServer{
		addr:  conn.LocalAddr().String(),
		rcode: dns.RcodeSuccess,
		zone:  map[string][]dns.RR{},
		extra: map[string][]dns.RR{},
	}
	for _, record := range records {
		rr := mustRR(t, record)
		name := dns.CanonicalName(rr.Header().Name)
		fake.zone[name] = append(fake.zone[name], rr)
	}
	started := make(chan struct{})
	fake.server = &dns.Server{
		PacketConn:        conn,
		Handler:           dns.HandlerFunc(fake.serveDNS),
		NotifyStartedFunc: func() { close(started) },
	}
	go func() {
		_ = fake.server.ActivateAndServe()
	}()
	<-started
	t.Cleanup(func() {
		_ = fake.server.Shutdown()
	})
	return fake
}

func (f *fakeServer) setExtra(name string, records ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range records {
		rr, err := dns.NewRR(record)
		if err != nil {
			panic(err)
		}
		f.extra[dns.CanonicalName(name)] = append(f.extra[dns.CanonicalName(name)], rr)
	}
}

func (f *fakeServer) setRcode(rcode int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rcode = rcode
}

func (f *fakeServer) queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func (f *fakeServer) serveDNS(w dns.ResponseWriter, req *dns.Msg) {
	question := req.Question[0]
	name := dns.CanonicalName(question.Name)
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Authoritative = true

	f.mu.Lock()
	f.seen = append(f.seen, name+" "+dns.TypeToString[question.Qtype])
	records, exists := f.zone[name]
	extra := f.extra[name]
	rcode := f.rcode
	f.mu.Unlock()

	switch {
	case rcode != dns.RcodeSuccess:
		resp.Rcode = rcode
	case !exists:
		resp.Rcode = dns.RcodeNameError
	default:
		for _, rr := range records {
			if rr.Header().Rrtype == question.Qtype {
				resp.Answer = append(resp.Answer, rr)
			}
		}
		resp.Extra = extra
	}
	_ = w.WriteMsg(resp)
}

func mustRR(t *testing.T, record string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(record)
	require.NoError(t, err)
	return rr
}
