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

// Package mem provides a resolver that answers from an in-memory table of
// host names.
//
// While it is mostly useful in tests, it can also be used as part of a
// router to resolve "localhost" or other built-in names.
package mem

import (
	"context"
	"net/netip"
	"sync"

	"github.com/bufbuild/ns"
)

// Resolver resolves host names from an in-memory table. Host names are
// matched verbatim, without a port.
//
// Service resolution joins the IPs of the host with the default port of the
// name and fails with ns.ErrNoDefaultPort if the name has none.
// Subscriptions resolve once and never update.
//
// The zero value is an empty table that is ready to use.
type Resolver struct {
	mu sync.RWMutex
	// +checklocks:mu
	hosts map[string]ns.IPList
}

var _ ns.Resolver = (*Resolver)(nil)

// New returns a resolver with an empty table.
func New() *Resolver {
	return &Resolver{}
}

// AddHost adds a host that resolves to the given IPs, replacing any
// previous entry for the same host.
func (r *Resolver) AddHost(host string, ips ...netip.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hosts == nil {
		r.hosts = map[string]ns.IPList{}
	}
	r.hosts[host] = ns.NewIPList(ips...)
}

// Contains reports whether host is in the table.
func (r *Resolver) Contains(host string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.hosts[host]
	return ok
}

// Len returns the number of hosts in the table.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hosts)
}

// Clone returns a copy of the resolver; later changes to either one are not
// visible in the other.
func (r *Resolver) Clone() *Resolver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hosts := make(map[string]ns.IPList, len(r.hosts))
	for host, ips := range r.hosts {
		hosts[host] = ips
	}
	return &Resolver{hosts: hosts}
}

// ResolveHost implements ns.HostResolver.
func (r *Resolver) ResolveHost(_ context.Context, name ns.Name) (ns.IPList, error) {
	r.mu.RLock()
	ips, ok := r.hosts[name.Host()]
	r.mu.RUnlock()
	if !ok {
		return ns.IPList{}, ns.ErrNameNotFound
	}
	return ips, nil
}

// Resolve implements ns.ServiceResolver.
func (r *Resolver) Resolve(ctx context.Context, name ns.Name) (ns.Address, error) {
	port, ok := name.DefaultPort()
	if !ok {
		return ns.Address{}, ns.ErrNoDefaultPort
	}
	ips, err := r.ResolveHost(ctx, name)
	if err != nil {
		return ns.Address{}, err
	}
	return ips.WithPort(port), nil
}

// SubscribeHost implements ns.HostSubscriber.
func (r *Resolver) SubscribeHost(name ns.Name) ns.Stream[ns.IPList] {
	return ns.StreamOnce(func(ctx context.Context) (ns.IPList, error) {
		return r.ResolveHost(ctx, name)
	})
}

// Subscribe implements ns.Subscriber.
func (r *Resolver) Subscribe(name ns.Name) ns.Stream[ns.Address] {
	return ns.StreamOnce(func(ctx context.Context) (ns.Address, error) {
		return r.Resolve(ctx, name)
	})
}
