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

import (
	"context"
	"net/netip"
	"strings"
)

// NullServiceResolver returns a OneShotResolver that delegates host
// resolution to resolver and fails every service resolution with
// ErrNameNotFound. This lets a resolver that only knows about hosts be
// installed where a full resolver is required, such as in a Router.
func NullServiceResolver(resolver HostResolver) OneShotResolver {
	return nullServiceResolver{resolver}
}

// NullHostResolver returns a OneShotResolver that delegates service
// resolution to resolver and fails every host resolution with
// ErrNameNotFound. It is the inverse of NullServiceResolver.
func NullHostResolver(resolver ServiceResolver) OneShotResolver {
	return nullHostResolver{resolver}
}

// Frozen returns a Resolver whose subscriptions resolve once and never
// update, using StreamOnce. This is useful for tests and for static sources
// that never change.
func Frozen(resolver OneShotResolver) Resolver {
	return frozenResolver{resolver}
}

// Identity returns a Resolver for names whose host is an IP literal, such as
// "127.0.0.1:8080". Host resolution yields that IP; service resolution
// requires a default port. Names that aren't IP literals fail with
// ErrNameNotFound. Only IPv4 literals can be expressed: a [Name] can't hold
// the colons or brackets of an IPv6 literal.
//
// It is useful when users may supply either addresses or names, for example
// on a command line, and as a stand-in before real name resolution is
// configured.
func Identity() Resolver {
	return Frozen(identityResolver{})
}

type nullServiceResolver struct {
	HostResolver
}

func (nullServiceResolver) Resolve(context.Context, Name) (Address, error) {
	return Address{}, ErrNameNotFound
}

type nullHostResolver struct {
	ServiceResolver
}

func (nullHostResolver) ResolveHost(context.Context, Name) (IPList, error) {
	return IPList{}, ErrNameNotFound
}

type frozenResolver struct {
	OneShotResolver
}

func (r frozenResolver) SubscribeHost(name Name) Stream[IPList] {
	return StreamOnce(func(ctx context.Context) (IPList, error) {
		return r.ResolveHost(ctx, name)
	})
}

func (r frozenResolver) Subscribe(name Name) Stream[Address] {
	return StreamOnce(func(ctx context.Context) (Address, error) {
		return r.Resolve(ctx, name)
	})
}

type identityResolver struct{}

func (identityResolver) ResolveHost(_ context.Context, name Name) (IPList, error) {
	ip, err := netip.ParseAddr(strings.TrimSuffix(name.Host(), "."))
	if err != nil {
		return IPList{}, ErrNameNotFound
	}
	return NewIPList(ip), nil
}

func (r identityResolver) Resolve(ctx context.Context, name Name) (Address, error) {
	ips, err := r.ResolveHost(ctx, name)
	if err != nil {
		return Address{}, err
	}
	port, ok := name.DefaultPort()
	if !ok {
		return Address{}, ErrNoDefaultPort
	}
	return ips.WithPort(port), nil
}
