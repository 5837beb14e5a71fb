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

package ns_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bufbuild/ns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamOnce(t *testing.T) {
	t.Parallel()

	var calls int
	stream := ns.StreamOnce(func(context.Context) (ns.Address, error) {
		calls++
		return ns.AddressFrom(addrA), nil
	})
	addr, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, addr.Equal(ns.AddressFrom(addrA)))

	// The second poll is never ready.
	for range 2 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		_, err = stream.Next(ctx)
		cancel()
		require.ErrorIs(t, err, context.DeadlineExceeded)
	}
	assert.Equal(t, 1, calls)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	_, err = stream.Next(context.Background())
	require.ErrorIs(t, err, ns.ErrClosed)
}

func TestStreamOnceNotReady(t *testing.T) {
	t.Parallel()

	var calls int
	release := make(chan struct{})
	stream := ns.StreamOnce(func(ctx context.Context) (ns.Address, error) {
		calls++
		select {
		case <-release:
			return ns.AddressFrom(addrA), nil
		case <-ctx.Done():
			return ns.Address{}, ctx.Err()
		}
	})
	t.Cleanup(func() { _ = stream.Close() })

	// A caller that gives up before the result is ready doesn't consume it.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := stream.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	addr, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.True(t, addr.Equal(ns.AddressFrom(addrA)))
	assert.Equal(t, 2, calls)
}

func TestStreamOnceCloseUnblocksNext(t *testing.T) {
	t.Parallel()

	stream := ns.StaticStream(ns.AddressFrom(addrA))
	_, err := stream.Next(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := stream.Next(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, stream.Close())
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ns.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestFailedStream(t *testing.T) {
	t.Parallel()

	errBackend := errors.New("backend unavailable")
	stream := ns.FailedStream[ns.IPList](ns.Temporary(errBackend))
	_, err := stream.Next(context.Background())
	require.ErrorIs(t, err, errBackend)
	assert.True(t, ns.IsTemporary(err))
	require.NoError(t, stream.Close())
}
