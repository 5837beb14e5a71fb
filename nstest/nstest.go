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

// Package nstest provides helper types that can be useful when testing code
// that consumes name resolution, or when testing custom resolvers.
package nstest

import (
	"context"
	"io"
	"sync"

	"github.com/bufbuild/ns"
)

// Stream is an implementation of ns.Stream whose items are supplied by the
// test, using Push, Fail, and End.
type Stream[T any] struct {
	signal    chan struct{}
	closedCh  chan struct{}
	closeOnce sync.Once

	mu sync.Mutex
	// +checklocks:mu
	queue []streamItem[T]
	// +checklocks:mu
	ended bool
}

type streamItem[T any] struct {
	val T
	err error
}

// NewStream returns a new Stream with no items.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{
		signal:   make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
}

// Push queues val to be returned by a future call to Next.
func (s *Stream[T]) Push(val T) {
	s.enqueue(streamItem[T]{val: val})
}

// Fail queues err to be returned by a future call to Next.
func (s *Stream[T]) Fail(err error) {
	s.enqueue(streamItem[T]{err: err})
}

// End marks the stream as finished. After all queued items have been
// returned, Next returns io.EOF.
func (s *Stream[T]) End() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.notify()
}

// IsClosed reports whether Close has been called.
func (s *Stream[T]) IsClosed() bool {
	select {
	case <-s.closedCh:
		return true
	default:
		return false
	}
}

// Next implements ns.Stream.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		if s.IsClosed() {
			return zero, ns.ErrClosed
		}
		item, ok, ended := s.dequeue()
		if ok {
			return item.val, item.err
		}
		if ended {
			return zero, io.EOF
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-s.closedCh:
			return zero, ns.ErrClosed
		case <-s.signal:
		}
	}
}

// Close implements ns.Stream.
func (s *Stream[T]) Close() error {
	s.closeOnce.Do(func() { close(s.closedCh) })
	return nil
}

func (s *Stream[T]) enqueue(item streamItem[T]) {
	s.mu.Lock()
	s.queue = append(s.queue, item)
	s.mu.Unlock()
	s.notify()
}

func (s *Stream[T]) dequeue() (item streamItem[T], ok, ended bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return item, false, s.ended
	}
	item = s.queue[0]
	s.queue = s.queue[1:]
	return item, true, false
}

func (s *Stream[T]) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Resolver is an implementation of ns.Resolver backed by tables that the
// test populates. It records every name it is asked about, so tests can
// verify which resolver handled a request.
//
// Names missing from the tables fail with ns.ErrNameNotFound. Subscriptions
// use the stream registered with SetStream or SetHostStream, if any, and
// otherwise resolve once and never update.
type Resolver struct {
	// Addresses maps the string form of a name to its service address.
	Addresses map[string]ns.Address
	// Hosts maps a host name to its IPs.
	Hosts map[string]ns.IPList
	// Err, if not nil, is returned by every resolution.
	Err error

	mu sync.Mutex
	// +checklocks:mu
	calls []string
	// +checklocks:mu
	streams map[string]ns.Stream[ns.Address]
	// +checklocks:mu
	hostStreams map[string]ns.Stream[ns.IPList]
}

var _ ns.Resolver = (*Resolver)(nil)

// SetStream registers the stream returned by Subscribe for the given name.
func (r *Resolver) SetStream(name string, stream ns.Stream[ns.Address]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streams == nil {
		r.streams = map[string]ns.Stream[ns.Address]{}
	}
	r.streams[name] = stream
}

// SetHostStream registers the stream returned by SubscribeHost for the
// given host.
func (r *Resolver) SetHostStream(host string, stream ns.Stream[ns.IPList]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hostStreams == nil {
		r.hostStreams = map[string]ns.Stream[ns.IPList]{}
	}
	r.hostStreams[host] = stream
}

// Calls returns the operations performed so far, in order, formatted as
// the method name followed by the name, for example "Resolve foo.consul:80".
func (r *Resolver) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// ResolveHost implements ns.Resolver.
func (r *Resolver) ResolveHost(_ context.Context, name ns.Name) (ns.IPList, error) {
	r.record("ResolveHost", name)
	return r.lookupHost(name)
}

// Resolve implements ns.Resolver.
func (r *Resolver) Resolve(_ context.Context, name ns.Name) (ns.Address, error) {
	r.record("Resolve", name)
	return r.lookup(name)
}

// SubscribeHost implements ns.Resolver.
func (r *Resolver) SubscribeHost(name ns.Name) ns.Stream[ns.IPList] {
	r.record("SubscribeHost", name)
	r.mu.Lock()
	stream, ok := r.hostStreams[name.Host()]
	r.mu.Unlock()
	if ok {
		return stream
	}
	return ns.StreamOnce(func(context.Context) (ns.IPList, error) {
		return r.lookupHost(name)
	})
}

// Subscribe implements ns.Resolver.
func (r *Resolver) Subscribe(name ns.Name) ns.Stream[ns.Address] {
	r.record("Subscribe", name)
	r.mu.Lock()
	stream, ok := r.streams[name.String()]
	r.mu.Unlock()
	if ok {
		return stream
	}
	return ns.StreamOnce(func(context.Context) (ns.Address, error) {
		return r.lookup(name)
	})
}

func (r *Resolver) lookup(name ns.Name) (ns.Address, error) {
	if r.Err != nil {
		return ns.Address{}, r.Err
	}
	addr, ok := r.Addresses[name.String()]
	if !ok {
		return ns.Address{}, ns.ErrNameNotFound
	}
	return addr, nil
}

func (r *Resolver) lookupHost(name ns.Name) (ns.IPList, error) {
	if r.Err != nil {
		return ns.IPList{}, r.Err
	}
	ips, ok := r.Hosts[name.Host()]
	if !ok {
		return ns.IPList{}, ns.ErrNameNotFound
	}
	return ips, nil
}

func (r *Resolver) record(method string, name ns.Name) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, method+" "+name.String())
}
