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

// Package poll turns single-shot name resolution into subscriptions by
// re-resolving a name whenever the previous result expires.
//
// To create a resolver that uses periodic polling, implement the [Prober]
// interface and pass it to [NewResolver]. Each subscription probes the name
// right away, then again each time the TTL reported with the result
// elapses, and yields a new item only when the result has changed. Nothing
// runs in the background: probes happen inside calls to Next, so a
// subscription that is not being read does no work.
package poll

import (
	"context"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/bufbuild/ns"
	"github.com/bufbuild/ns/internal"
	"go.uber.org/zap"
)

const (
	// DefaultTTL is the refresh interval used when a prober does not report
	// a TTL.
	DefaultTTL = 30 * time.Second
	// DefaultMinTTL is the shortest refresh interval allowed by default.
	DefaultMinTTL = time.Second
)

// Prober is an interface for types that provide single-shot name resolution.
type Prober interface {
	// ProbeHost resolves the host of the given name once. The second return
	// value is the TTL of the result, or 0 if there is no known TTL.
	ProbeHost(ctx context.Context, name ns.Name) (ips ns.IPList, ttl time.Duration, err error)
	// Probe resolves the name as a service once. The second return value is
	// the TTL of the result, or 0 if there is no known TTL.
	Probe(ctx context.Context, name ns.Name) (addr ns.Address, ttl time.Duration, err error)
}

// Option configures a polling resolver.
type Option interface {
	apply(*resolver)
}

// WithDefaultTTL sets the refresh interval used when the prober returns a
// zero TTL. If not specified, DefaultTTL is used.
func WithDefaultTTL(ttl time.Duration) Option {
	return optionFunc(func(r *resolver) {
		r.defaultTTL = ttl
	})
}

// WithMinTTL sets the shortest refresh interval. Shorter TTLs reported by the
// prober are raised to this value. If not specified, DefaultMinTTL is used.
func WithMinTTL(ttl time.Duration) Option {
	return optionFunc(func(r *resolver) {
		r.minTTL = ttl
	})
}

// WithLogger configures the logger used to report probes and failures. By
// default nothing is logged.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(r *resolver) {
		r.logger = logger
	})
}

type optionFunc func(*resolver)

func (f optionFunc) apply(r *resolver) {
	f(r)
}

// NewResolver returns a resolver whose one-shot methods call prober directly
// and whose subscriptions poll it.
func NewResolver(prober Prober, opts ...Option) ns.Resolver {
	res := &resolver{
		prober:     prober,
		defaultTTL: DefaultTTL,
		minTTL:     DefaultMinTTL,
		logger:     zap.NewNop(),
		clock:      internal.NewRealClock(),
	}
	for _, opt := range opts {
		opt.apply(res)
	}
	return res
}

type resolver struct {
	prober     Prober
	defaultTTL time.Duration
	minTTL     time.Duration
	logger     *zap.Logger
	clock      internal.Clock
}

func (r *resolver) ResolveHost(ctx context.Context, name ns.Name) (ns.IPList, error) {
	ips, _, err := r.prober.ProbeHost(ctx, name)
	return ips, err
}

func (r *resolver) Resolve(ctx context.Context, name ns.Name) (ns.Address, error) {
	addr, _, err := r.prober.Probe(ctx, name)
	return addr, err
}

func (r *resolver) SubscribeHost(name ns.Name) ns.Stream[ns.IPList] {
	return newStream(r, name, r.prober.ProbeHost, sameIPs)
}

func (r *resolver) Subscribe(name ns.Name) ns.Stream[ns.Address] {
	return newStream(r, name, r.prober.Probe, ns.Address.Equal)
}

func (r *resolver) refreshAfter(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	return max(ttl, r.minTTL)
}

type stream[T any] struct {
	resolver *resolver
	name     ns.Name
	probe    func(context.Context, ns.Name) (T, time.Duration, error)
	equal    func(T, T) bool

	// Only accessed by the goroutine calling Next.
	last      T
	hasLast   bool
	nextProbe time.Time
	err       error

	closed    chan struct{}
	closeOnce sync.Once
}

func newStream[T any](
	res *resolver,
	name ns.Name,
	probe func(context.Context, ns.Name) (T, time.Duration, error),
	equal func(T, T) bool,
) *stream[T] {
	return &stream[T]{
		resolver: res,
		name:     name,
		probe:    probe,
		equal:    equal,
		closed:   make(chan struct{}),
	}
}

func (s *stream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	clock := s.resolver.clock
	logger := s.resolver.logger
	for {
		if s.err != nil {
			return zero, s.err
		}
		select {
		case <-s.closed:
			return zero, ns.ErrClosed
		default:
		}
		if !s.nextProbe.IsZero() {
			if wait := s.nextProbe.Sub(clock.Now()); wait > 0 {
				if err := s.sleep(ctx, wait); err != nil {
					return zero, err
				}
			}
		}
		val, ttl, err := s.probe(ctx, s.name)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				// Not the prober's fault: probe again on the next call.
				s.nextProbe = time.Time{}
				return zero, ctxErr
			}
			logger.Warn("name resolution failed", zap.Stringer("name", s.name), zap.Error(err))
			s.err = err
			return zero, err
		}
		refresh := s.resolver.refreshAfter(ttl)
		s.nextProbe = clock.Now().Add(refresh)
		if s.hasLast && s.equal(s.last, val) {
			logger.Debug("name resolution unchanged", zap.Stringer("name", s.name), zap.Duration("refresh", refresh))
			continue
		}
		logger.Debug("name resolved", zap.Stringer("name", s.name), zap.Duration("refresh", refresh))
		s.last, s.hasLast = val, true
		return val, nil
	}
}

func (s *stream[T]) sleep(ctx context.Context, wait time.Duration) error {
	timer := s.resolver.clock.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return ns.ErrClosed
	case <-timer.Chan():
		return nil
	}
}

func (s *stream[T]) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// sameIPs compares IP lists as sets, since name servers commonly rotate the
// order of records between responses.
func sameIPs(a, b ns.IPList) bool {
	if a.Len() != b.Len() {
		return false
	}
	ipsA, ipsB := a.Addrs(), b.Addrs()
	slices.SortFunc(ipsA, netip.Addr.Compare)
	slices.SortFunc(ipsB, netip.Addr.Compare)
	return slices.Equal(ipsA, ipsB)
}
