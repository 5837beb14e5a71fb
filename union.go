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
	"errors"
	"io"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// UnionStream merges several address streams into one. Each time any of the
// inputs yields a new Address, the returned stream yields the Union of the
// latest Address of every input that has produced one so far. Updates that
// arrive together are coalesced into a single item.
//
// An input that ends (returns io.EOF) keeps contributing its last value. An
// error from any input is fatal for the union. Closing the union closes all
// of the inputs.
func UnionStream(streams ...Stream[Address]) Stream[Address] {
	ctx, cancel := context.WithCancel(context.Background())
	union := &unionStream{
		streams: streams,
		updates: make(chan unionUpdate, len(streams)),
		latest:  make([]*Address, len(streams)),
		cancel:  cancel,
		closed:  make(chan struct{}),
	}
	for i, stream := range streams {
		union.group.Go(func() error {
			union.forward(ctx, i, stream)
			return nil
		})
	}
	return union
}

type unionUpdate struct {
	index int
	addr  Address
	err   error
}

type unionStream struct {
	streams []Stream[Address]
	updates chan unionUpdate
	cancel  context.CancelFunc
	group   errgroup.Group

	// Only accessed by the goroutine calling Next.
	latest []*Address
	err    error

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (u *unionStream) Next(ctx context.Context) (Address, error) {
	if u.err != nil {
		return Address{}, u.err
	}
	select {
	case update := <-u.updates:
		u.apply(update)
	case <-ctx.Done():
		return Address{}, ctx.Err()
	case <-u.closed:
		return Address{}, ErrClosed
	}
	// Coalesce anything else that is already waiting.
	for drained := false; !drained; {
		select {
		case update := <-u.updates:
			u.apply(update)
		default:
			drained = true
		}
	}
	if u.err != nil {
		return Address{}, u.err
	}
	addrs := make([]Address, 0, len(u.latest))
	for _, addr := range u.latest {
		if addr != nil {
			addrs = append(addrs, *addr)
		}
	}
	return Union(addrs...), nil
}

func (u *unionStream) apply(update unionUpdate) {
	if update.err != nil {
		if u.err == nil {
			u.err = update.err
		}
		return
	}
	u.latest[update.index] = &update.addr
}

func (u *unionStream) forward(ctx context.Context, index int, stream Stream[Address]) {
	for {
		addr, err := stream.Next(ctx)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, io.EOF) {
			// The last known value stays in the union.
			return
		}
		select {
		case u.updates <- unionUpdate{index: index, addr: addr, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (u *unionStream) Close() error {
	u.closeOnce.Do(func() {
		close(u.closed)
		u.cancel()
		var err error
		for _, stream := range u.streams {
			err = multierr.Append(err, stream.Close())
		}
		_ = u.group.Wait()
		u.closeErr = err
	})
	return u.closeErr
}
