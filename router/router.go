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

// Package router dispatches name resolution to one of several resolvers
// based on the host being resolved.
//
// A [Router] consults, in order: hosts registered with [Builder.AddIP],
// resolvers registered for a domain suffix with [Builder.AddSuffix] (the
// longest matching suffix wins, and a host equal to a suffix matches it), and
// finally the resolver set with [Builder.AddDefault]. A name that matches
// nothing fails with [ns.ErrNameNotFound]. The first matching resolver
// decides the outcome; its errors are returned as is, without consulting
// later tiers.
package router

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/bufbuild/ns"
	"github.com/bufbuild/ns/mem"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Option configures a Router.
type Option interface {
	apply(*Builder)
}

// WithLogger configures the logger that the router uses to report its
// routing decisions, at debug level. By default nothing is logged.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(b *Builder) {
		b.logger = logger
	})
}

type optionFunc func(*Builder)

func (f optionFunc) apply(b *Builder) {
	f(b)
}

// Builder accumulates the routing table of a Router. A Builder is not safe
// for concurrent use.
type Builder struct {
	names    *mem.Resolver
	suffixes map[string]ns.Resolver
	fallback ns.Resolver
	logger   *zap.Logger
	err      error
}

// NewBuilder returns a Builder with an empty routing table.
func NewBuilder(opts ...Option) *Builder {
	builder := &Builder{
		names:    mem.New(),
		suffixes: map[string]ns.Resolver{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt.apply(builder)
	}
	return builder
}

// AddIP adds a host name, without a port, that resolves to a single IP.
// Exact names take precedence over suffixes and the default resolver.
func (b *Builder) AddIP(host string, ip netip.Addr) *Builder {
	if _, err := ns.NewHostName(host); err != nil {
		b.err = multierr.Append(b.err, fmt.Errorf("invalid host: %w", err))
		return b
	}
	b.names.AddHost(host, ip)
	return b
}

// AddSuffix routes every name that ends with the given suffix to resolver.
// This is useful, for example, to resolve all "*.consul" names against
// Consul.
//
// Suffixes are always matched after a dot in the name and must not start
// with a dot themselves. A name equal to the suffix is matched too. If
// overlapping suffixes are registered, the longest matching suffix wins. If
// the same suffix is registered more than once, the last registration wins.
func (b *Builder) AddSuffix(suffix string, resolver ns.Resolver) *Builder {
	if strings.HasPrefix(suffix, ".") {
		b.err = multierr.Append(b.err, fmt.Errorf("invalid suffix %q: must not start with a dot", suffix))
		return b
	}
	if _, err := ns.NewHostName(suffix); err != nil {
		b.err = multierr.Append(b.err, fmt.Errorf("invalid suffix: %w", err))
		return b
	}
	b.suffixes[strings.TrimSuffix(suffix, ".")] = resolver
	return b
}

// AddDefault sets the resolver used when neither an exact name nor a suffix
// matches.
//
// The default resolver is not consulted when a suffix matches, even if the
// resolver for that suffix reports that the name does not exist.
func (b *Builder) AddDefault(resolver ns.Resolver) *Builder {
	b.fallback = resolver
	return b
}

// Build returns a Router with the routing table accumulated so far. It
// returns an error if any of the names or suffixes added were invalid.
//
// The builder may continue to be used; changes to it are not visible to
// routers that were already built.
func (b *Builder) Build() (*Router, error) {
	if b.err != nil {
		return nil, b.err
	}
	suffixes := make(map[string]ns.Resolver, len(b.suffixes))
	for suffix, resolver := range b.suffixes {
		suffixes[suffix] = resolver
	}
	return &Router{
		names:    b.names.Clone(),
		suffixes: suffixes,
		fallback: b.fallback,
		logger:   b.logger,
	}, nil
}

// Router is an ns.Resolver that dispatches each name to one of several
// resolvers. To pick a resolver for a name, it checks, in order:
//
//  1. The exact host names added with Builder.AddIP.
//  2. The suffixes added with Builder.AddSuffix, where the whole host may
//     match a suffix, and otherwise the longest matching suffix wins.
//  3. The default resolver, if one was set with Builder.AddDefault.
//
// If nothing matches, resolution fails with ns.ErrNameNotFound.
//
// A name is resolved only once: if the chosen resolver returns an error, the
// error is returned as is and no other resolver is tried.
//
// A Router can't be changed after it is built and is safe for concurrent
// use.
type Router struct {
	names    *mem.Resolver
	suffixes map[string]ns.Resolver
	fallback ns.Resolver
	logger   *zap.Logger
}

var _ ns.Resolver = (*Router)(nil)

// ResolveHost implements ns.HostResolver.
func (r *Router) ResolveHost(ctx context.Context, name ns.Name) (ns.IPList, error) {
	resolver := r.route(name)
	if resolver == nil {
		return ns.IPList{}, ns.ErrNameNotFound
	}
	return resolver.ResolveHost(ctx, name)
}

// Resolve implements ns.ServiceResolver.
func (r *Router) Resolve(ctx context.Context, name ns.Name) (ns.Address, error) {
	resolver := r.route(name)
	if resolver == nil {
		return ns.Address{}, ns.ErrNameNotFound
	}
	return resolver.Resolve(ctx, name)
}

// SubscribeHost implements ns.HostSubscriber.
func (r *Router) SubscribeHost(name ns.Name) ns.Stream[ns.IPList] {
	resolver := r.route(name)
	if resolver == nil {
		return ns.FailedStream[ns.IPList](ns.ErrNameNotFound)
	}
	return resolver.SubscribeHost(name)
}

// Subscribe implements ns.Subscriber.
func (r *Router) Subscribe(name ns.Name) ns.Stream[ns.Address] {
	resolver := r.route(name)
	if resolver == nil {
		return ns.FailedStream[ns.Address](ns.ErrNameNotFound)
	}
	return resolver.Subscribe(name)
}

// route returns the resolver responsible for name, or nil if there is none.
func (r *Router) route(name ns.Name) ns.Resolver {
	if r.names.Contains(name.Host()) {
		r.logger.Debug("routing to exact name", zap.Stringer("name", name))
		return r.names
	}
	host := strings.TrimSuffix(name.Host(), ".")
	if suffix, resolver := r.matchSuffix(host); resolver != nil {
		r.logger.Debug("routing by suffix", zap.Stringer("name", name), zap.String("suffix", suffix))
		return resolver
	}
	if r.fallback != nil {
		r.logger.Debug("routing to default resolver", zap.Stringer("name", name))
		return r.fallback
	}
	r.logger.Debug("no route for name", zap.Stringer("name", name))
	return nil
}

// matchSuffix returns the longest registered suffix of host. Candidate
// suffixes are tried from the first dot onwards, so the first hit is the
// longest.
func (r *Router) matchSuffix(host string) (string, ns.Resolver) {
	if resolver, ok := r.suffixes[host]; ok {
		return host, resolver
	}
	for i := range len(host) {
		if host[i] != '.' {
			continue
		}
		suffix := host[i+1:]
		if resolver, ok := r.suffixes[suffix]; ok {
			return suffix, resolver
		}
	}
	return "", nil
}
