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

package subset_test

import (
	"context"
	"fmt"
	"hash"
	"hash/fnv"
	"slices"
	"testing"
	"time"

	"github.com/bufbuild/ns"
	"github.com/bufbuild/ns/nstest"
	. "github.com/bufbuild/ns/subset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRendezvous(t *testing.T) {
	t.Parallel()

	_, err := NewRendezvous(Config{})
	require.ErrorContains(t, err, "NumBackends must be set")

	subsetter, err := NewRendezvous(Config{NumBackends: 5, SelectionKey: "foo"})
	require.NoError(t, err)

	small := ns.MustParseAddressList("10.0.0.1:80", "10.0.0.2:80")
	assert.Equal(t, small, subsetter.Subset(small))

	addresses := manyAddresses(50)
	set1 := subsetter.Subset(addresses)
	require.Equal(t, 1, set1.NumLevels())
	require.Len(t, set1.AddressesAt(0), 5)
	for _, addr := range set1.AddressesAt(0) {
		assert.True(t, addresses.At(0).Contains(addr))
	}
	// Same key, same subset.
	assert.True(t, set1.Equal(subsetter.Subset(addresses)))

	other, err := NewRendezvous(Config{NumBackends: 5, SelectionKey: "bar"})
	require.NoError(t, err)
	assert.False(t, set1.Equal(other.Subset(addresses)))
}

func TestRendezvousStability(t *testing.T) {
	t.Parallel()

	subsetter, err := NewRendezvous(Config{NumBackends: 3, SelectionKey: "host-1"})
	require.NoError(t, err)
	addresses := manyAddresses(10)
	before := subsetter.Subset(addresses).AddressesAt(0)

	// Removing an address that wasn't selected doesn't change the subset.
	var remaining []string
	removed := false
	for _, addr := range addresses.AddressesAt(0) {
		if !removed && !slices.Contains(before, addr) {
			removed = true
			continue
		}
		remaining = append(remaining, addr.String())
	}
	require.True(t, removed)
	after := subsetter.Subset(ns.MustParseAddressList(remaining...)).AddressesAt(0)
	assert.Equal(t, before, after)
}

func TestRendezvousLevels(t *testing.T) {
	t.Parallel()

	subsetter, err := NewRendezvous(Config{NumBackends: 2, SelectionKey: "foo", Hash: func() hash.Hash32 { return fnv.New32a() }})
	require.NoError(t, err)
	addr := ns.NewAddressBuilder().
		AddAddresses(weighted(5, "10.0.0.1:80", "10.0.0.2:80", "10.0.0.3:80", "10.0.0.4:80")...).
		AddAddresses(weighted(0, "10.0.1.1:80")...).
		Build()
	subset := subsetter.Subset(addr)
	require.Equal(t, 2, subset.NumLevels())
	assert.Equal(t, 2, subset.At(0).Len())
	for _, entry := range subset.At(0).Entries() {
		assert.Equal(t, ns.Weight(5), entry.Weight)
	}
	assert.True(t, subset.At(1).Equal(addr.At(1)))
}

func TestWrap(t *testing.T) {
	t.Parallel()

	subsetter, err := NewRendezvous(Config{NumBackends: 1, SelectionKey: "foo"})
	require.NoError(t, err)
	name := ns.MustParseName("backend.internal:80")
	addresses := manyAddresses(4)
	stream := nstest.NewStream[ns.Address]()
	fake := &nstest.Resolver{Addresses: map[string]ns.Address{name.String(): addresses}}
	fake.SetStream(name.String(), stream)
	resolver := subsetter.Wrap(fake)

	addr, err := resolver.Resolve(context.Background(), name)
	require.NoError(t, err)
	assert.Len(t, addr.AddressesAt(0), 1)

	sub := resolver.Subscribe(name)
	stream.Push(addresses)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	update, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.True(t, addr.Equal(update))
	require.NoError(t, sub.Close())
	assert.True(t, stream.IsClosed())
}

func manyAddresses(n int) ns.Address {
	values := make([]string, n)
	for i := range n {
		values[i] = fmt.Sprintf("10.0.0.%d:8080", i+1)
	}
	return ns.MustParseAddressList(values...)
}

func weighted(weight ns.Weight, values ...string) []ns.WeightedAddr {
	entries := make([]ns.WeightedAddr, len(values))
	for i, value := range ns.MustParseAddressList(values...).AddressesAt(0) {
		entries[i] = ns.WeightedAddr{Weight: weight, Addr: value}
	}
	return entries
}
