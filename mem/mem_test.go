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

package mem_test

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/bufbuild/ns"
	"github.com/bufbuild/ns/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	localhost := netip.MustParseAddr("127.0.0.1")
	localhost6 := netip.MustParseAddr("::1")

	var resolver mem.Resolver
	_, err := resolver.ResolveHost(ctx, ns.MustParseName("localhost"))
	require.ErrorIs(t, err, ns.ErrNameNotFound)

	resolver.AddHost("localhost", localhost, localhost6)
	assert.True(t, resolver.Contains("localhost"))
	assert.False(t, resolver.Contains("localhost."))
	assert.Equal(t, 1, resolver.Len())

	ips, err := resolver.ResolveHost(ctx, ns.MustParseName("localhost:80"))
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{localhost, localhost6}, ips.Addrs())

	addr, err := resolver.Resolve(ctx, ns.MustParseName("localhost:80"))
	require.NoError(t, err)
	assert.Equal(t, ns.MustParseAddressList("127.0.0.1:80", "[::1]:80"), addr)

	_, err = resolver.Resolve(ctx, ns.MustParseName("localhost"))
	require.ErrorIs(t, err, ns.ErrNoDefaultPort)
	// The port is checked before the host.
	_, err = resolver.Resolve(ctx, ns.MustParseName("missing"))
	require.ErrorIs(t, err, ns.ErrNoDefaultPort)
	_, err = resolver.Resolve(ctx, ns.MustParseName("missing:80"))
	require.ErrorIs(t, err, ns.ErrNameNotFound)

	// Adding a host again replaces it.
	resolver.AddHost("localhost", localhost)
	ips, err = resolver.ResolveHost(ctx, ns.MustParseName("localhost"))
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{localhost}, ips.Addrs())
}

func TestClone(t *testing.T) {
	t.Parallel()

	original := mem.New()
	original.AddHost("a.internal", netip.MustParseAddr("10.0.0.1"))
	clone := original.Clone()
	original.AddHost("b.internal", netip.MustParseAddr("10.0.0.2"))
	clone.AddHost("c.internal", netip.MustParseAddr("10.0.0.3"))

	assert.True(t, clone.Contains("a.internal"))
	assert.False(t, clone.Contains("b.internal"))
	assert.False(t, original.Contains("c.internal"))
}

func TestSubscribe(t *testing.T) {
	t.Parallel()

	resolver := mem.New()
	resolver.AddHost("db.internal", netip.MustParseAddr("10.0.0.5"))

	stream := resolver.Subscribe(ns.MustParseName("db.internal:5432"))
	t.Cleanup(func() { _ = stream.Close() })
	addr, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ns.MustParseAddressList("10.0.0.5:5432"), addr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = stream.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	hostStream := resolver.SubscribeHost(ns.MustParseName("other.internal"))
	t.Cleanup(func() { _ = hostStream.Close() })
	_, err = hostStream.Next(context.Background())
	require.ErrorIs(t, err, ns.ErrNameNotFound)
}
