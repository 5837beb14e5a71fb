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

package ns

import "context"

// HostResolver resolves a host name into IP addresses, like DNS A and AAAA
// lookups. The default port of the name, if any, is ignored.
type HostResolver interface {
	// ResolveHost resolves the host once. It blocks until the result is
	// available or the context is done.
	ResolveHost(ctx context.Context, name Name) (IPList, error)
}

// ServiceResolver resolves a name into a prioritized, weighted Address, like
// DNS SRV lookups. Resolvers that only know about hosts should use the
// default port of the name, failing with ErrNoDefaultPort if it has none.
type ServiceResolver interface {
	// Resolve resolves the name once. It blocks until the result is
	// available or the context is done.
	Resolve(ctx context.Context, name Name) (Address, error)
}

// HostSubscriber provides a long-lived feed of host resolution results.
type HostSubscriber interface {
	// SubscribeHost returns a stream that yields the IP addresses of the host
	// each time they change. The stream must be closed by the caller.
	SubscribeHost(name Name) Stream[IPList]
}

// Subscriber provides a long-lived feed of service resolution results.
type Subscriber interface {
	// Subscribe returns a stream that yields the full Address each time it
	// changes. The stream must be closed by the caller.
	Subscribe(name Name) Stream[Address]
}

// OneShotResolver can resolve both hosts and services, but only once per
// call. Use Frozen to turn it into a Resolver.
type OneShotResolver interface {
	HostResolver
	ServiceResolver
}

// Resolver is the full name resolution capability: one-shot resolution and
// subscriptions, for both hosts and services. This is what a Router needs
// from each of the resolvers it dispatches to.
//
// Resolvers must be safe for concurrent use.
type Resolver interface {
	HostResolver
	ServiceResolver
	HostSubscriber
	Subscriber
}

// HostResolverFunc is an adapter that allows the use of an ordinary function
// as a HostResolver.
type HostResolverFunc func(ctx context.Context, name Name) (IPList, error)

// ResolveHost calls f(ctx, name).
func (f HostResolverFunc) ResolveHost(ctx context.Context, name Name) (IPList, error) {
	return f(ctx, name)
}

// ServiceResolverFunc is an adapter that allows the use of an ordinary
// function as a ServiceResolver.
type ServiceResolverFunc func(ctx context.Context, name Name) (Address, error)

// Resolve calls f(ctx, name).
func (f ServiceResolverFunc) Resolve(ctx context.Context, name Name) (Address, error) {
	return f(ctx, name)
}
