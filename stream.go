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
	"sync"
)

// Stream is a long-lived feed of resolution results.
//
// Name subscriptions never end by convention: a stream that has nothing new
// to report blocks in Next until the context is done. A stream may return
// io.EOF to report that it will never produce another item, but consumers
// built on subscriptions (such as Union) treat that as "no more updates"
// rather than "no more addresses".
//
// Any error other than a context error is fatal for the stream instance,
// and Next must not be called again after it. Call Subscribe again to
// retry.
//
// A Stream is not safe for concurrent calls to Next. Close may be called
// concurrently with Next, in which case Next returns ErrClosed.
type Stream[T any] interface {
	// Next blocks until the next item is available, the stream fails, or
	// ctx is done. When ctx is done, it returns ctx.Err() and the stream
	// remains usable.
	Next(ctx context.Context) (T, error)
	// Close releases any resources held by the stream.
	Close() error
}

// StreamOnce adapts a one-shot resolution into a Stream. The first call to
// Next runs resolve and returns its result (success or error). If ctx is done
// before resolve finishes, Next returns ctx.Err() and the next call runs
// resolve again. Once resolve has produced an item the
// stream stays pending forever: Next blocks until the context is done or the
// stream is closed. It never reports the end of the stream.
//
// This is the default subscription behavior for resolvers that can't push
// updates. Don't use it with consumers that rely on streams ending.
func StreamOnce[T any](resolve func(ctx context.Context) (T, error)) Stream[T] {
	return &streamOnce[T]{
		resolve: resolve,
		closed:  make(chan struct{}),
	}
}

// StaticStream returns a stream that yields addr once and never updates.
// This is useful to provide a stream for localhost or for tests.
func StaticStream(addr Address) Stream[Address] {
	return StreamOnce(func(context.Context) (Address, error) {
		return addr, nil
	})
}

// FailedStream returns a stream whose first item is err.
func FailedStream[T any](err error) Stream[T] {
	return StreamOnce(func(context.Context) (T, error) {
		var zero T
		return zero, err
	})
}

type streamOnce[T any] struct {
	resolve   func(ctx context.Context) (T, error)
	done      bool
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *streamOnce[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-s.closed:
		return zero, ErrClosed
	default:
	}
	if !s.done {
		val, err := s.resolve(ctx)
		if err != nil && ctx.Err() != nil {
			// Not ready: resolve again on the next call.
			return zero, ctx.Err()
		}
		s.done = true
		return val, err
	}
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.closed:
		return zero, ErrClosed
	}
}

func (s *streamOnce[T]) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
