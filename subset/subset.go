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

// Package subset narrows resolved addresses down to a small, consistent
// subset, so that a large fleet of clients doesn't connect every client to
// every backend.
package subset

import (
	"container/heap"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"hash"
	"slices"

	"github.com/bufbuild/ns"
	"github.com/spaolacci/murmur3"
)

// Config represents the configuration options for use with NewRendezvous.
type Config struct {
	// NumBackends specifies the number of backends to select out of each
	// priority level of an address. This option is required.
	NumBackends int

	// SelectionKey specifies the key used to uniquely select hosts. This value
	// controls which hosts get selected, thus typically you set a unique value
	// for each program instance, using e.g. the machine host name. If not set,
	// a random string will be used.
	SelectionKey string

	// Hash creates the hash function used to rank addresses. If unspecified,
	// 32-bit MurmurHash3 will be used.
	Hash func() hash.Hash32
}

// Rendezvous uses rendezvous hashing to pick a randomly-distributed but
// consistent subset of addresses. When provided the same selection key and
// number of backends, it will return the same addresses. When an address is
// removed, all the clients that had selected it will pick the same
// replacement as they would have if it had never been there.
type Rendezvous struct {
	key     []byte
	k       int
	newHash func() hash.Hash32
}

// NewRendezvous validates config and returns a Rendezvous subsetter.
func NewRendezvous(config Config) (*Rendezvous, error) {
	if config.NumBackends <= 0 {
		return nil, errors.New("NumBackends must be set")
	}
	if config.SelectionKey == "" {
		randomKey, err := randomKey()
		if err != nil {
			return nil, err
		}
		config.SelectionKey = randomKey
	}
	if config.Hash == nil {
		config.Hash = func() hash.Hash32 { return murmur3.New32() }
	}
	return &Rendezvous{
		key:     []byte(config.SelectionKey),
		k:       config.NumBackends,
		newHash: config.Hash,
	}, nil
}

// Subset narrows each priority level of addr to at most NumBackends
// addresses. Weights are kept, and the selected addresses keep their
// relative order.
func (r *Rendezvous) Subset(addr ns.Address) ns.Address {
	levels := addr.Levels()
	if !slices.ContainsFunc(levels, func(level ns.WeightedSet) bool { return level.Len() > r.k }) {
		return addr
	}
	var builder ns.AddressBuilder
	hasher := r.newHash()
	for _, level := range levels {
		builder.AddAddresses(r.subsetLevel(level.Entries(), hasher)...)
	}
	return builder.Build()
}

func (r *Rendezvous) subsetLevel(entries []ns.WeightedAddr, hasher hash.Hash32) []ns.WeightedAddr {
	if len(entries) <= r.k {
		return entries
	}
	entryHeap := newEntryHeap(entries, r.k, r.key, hasher)
	for i := r.k; i < len(entries); i++ {
		rank := entryHeap.rank(entries[i])
		if rank > entryHeap.ranks[0] {
			entryHeap.indexes[0] = i
			entryHeap.ranks[0] = rank
			heap.Fix(entryHeap, 0)
		}
	}
	slices.Sort(entryHeap.indexes)
	subset := make([]ns.WeightedAddr, len(entryHeap.indexes))
	for i, index := range entryHeap.indexes {
		subset[i] = entries[index]
	}
	return subset
}

// Wrap returns a resolver whose service resolution and subscriptions are
// narrowed by r. Host resolution is passed through unchanged.
func (r *Rendezvous) Wrap(resolver ns.Resolver) ns.Resolver {
	return &subsetResolver{Resolver: resolver, subsetter: r}
}

type subsetResolver struct {
	ns.Resolver
	subsetter *Rendezvous
}

func (s *subsetResolver) Resolve(ctx context.Context, name ns.Name) (ns.Address, error) {
	addr, err := s.Resolver.Resolve(ctx, name)
	if err != nil {
		return ns.Address{}, err
	}
	return s.subsetter.Subset(addr), nil
}

func (s *subsetResolver) Subscribe(name ns.Name) ns.Stream[ns.Address] {
	return &subsetStream{Stream: s.Resolver.Subscribe(name), subsetter: s.subsetter}
}

type subsetStream struct {
	ns.Stream[ns.Address]
	subsetter *Rendezvous
}

func (s *subsetStream) Next(ctx context.Context) (ns.Address, error) {
	addr, err := s.Stream.Next(ctx)
	if err != nil {
		return ns.Address{}, err
	}
	return s.subsetter.Subset(addr), nil
}

// entryHeap is a min-heap of the best ranked entries seen so far, so the
// worst of them is at the root.
type entryHeap struct {
	indexes []int
	ranks   []uint32
	key     []byte
	hash    hash.Hash32
}

func newEntryHeap(entries []ns.WeightedAddr, k int, key []byte, hash hash.Hash32) *entryHeap {
	entryHeap := &entryHeap{
		indexes: make([]int, k),
		ranks:   make([]uint32, k),
		key:     key,
		hash:    hash,
	}
	for i := range k {
		entryHeap.indexes[i] = i
		entryHeap.ranks[i] = entryHeap.rank(entries[i])
	}
	heap.Init(entryHeap)
	return entryHeap
}

func (h *entryHeap) rank(entry ns.WeightedAddr) uint32 {
	h.hash.Reset()
	_, _ = h.hash.Write(h.key)
	_, _ = h.hash.Write([]byte(entry.Addr.String()))
	return h.hash.Sum32()
}

func (h *entryHeap) Len() int { return len(h.indexes) }

func (h *entryHeap) Less(i, j int) bool {
	return h.ranks[i] < h.ranks[j]
}

func (h *entryHeap) Swap(i, j int) {
	h.indexes[i], h.indexes[j] = h.indexes[j], h.indexes[i]
	h.ranks[i], h.ranks[j] = h.ranks[j], h.ranks[i]
}

func (h *entryHeap) Push(any) { panic("Push should not be called") } //nolint:forbidigo // inaccessible code
func (h *entryHeap) Pop() any { panic("Pop should not be called") }  //nolint:forbidigo // inaccessible code

func randomKey() (string, error) {
	data := [16]byte{}
	if _, err := rand.Read(data[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(data[:]), nil
}
