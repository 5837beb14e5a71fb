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
	"fmt"
	"math/bits"
	"math/rand/v2"
	"net/netip"
	"slices"
	"strconv"
	"strings"
)

// Weight is the relative selection weight of an address within its
// priority level. Entries with a higher weight are picked proportionally
// more often. When every entry of a level has weight zero, all of them are
// equally likely.
type Weight = uint64

// WeightedAddr is a single socket address with its selection weight.
type WeightedAddr struct {
	Weight Weight
	Addr   netip.AddrPort
}

// Rand is a source of randomness for weighted selection. A *rand.Rand from
// the "math/rand/v2" package implements it, which allows tests to inject a
// seeded generator.
type Rand interface {
	IntN(n int) int
	Uint64N(n uint64) uint64
}

// DefaultRand returns a Rand that uses the top-level functions of the
// "math/rand/v2" package. It is safe for concurrent use.
func DefaultRand() Rand {
	return globalRand{}
}

type globalRand struct{}

func (globalRand) IntN(n int) int {
	return rand.IntN(n) //nolint:gosec // does not need to be cryptographically secure
}

func (globalRand) Uint64N(n uint64) uint64 {
	return rand.Uint64N(n) //nolint:gosec // does not need to be cryptographically secure
}

// Address is the result of service resolution: a prioritized list of
// weighted sets of socket addresses. Level zero has the highest priority.
//
// Address is immutable. Copies share the same underlying data, so it is
// cheap to pass around, cache, and use from concurrent goroutines. The zero
// value is an empty address. Use an AddressBuilder to construct addresses
// with more than one priority level or with non-zero weights.
type Address struct {
	data *addressData
}

type addressData struct {
	levels [][]WeightedAddr
}

// AddressFrom returns a single-level address containing addrs, each with
// weight zero.
func AddressFrom(addrs ...netip.AddrPort) Address {
	if len(addrs) == 0 {
		return Address{}
	}
	level := make([]WeightedAddr, len(addrs))
	for i, addr := range addrs {
		level[i] = WeightedAddr{Addr: addr}
	}
	return Address{data: &addressData{levels: [][]WeightedAddr{level}}}
}

// AddressFromIP returns a single-entry address for the given IP and port.
func AddressFromIP(ip netip.Addr, port uint16) Address {
	return AddressFrom(netip.AddrPortFrom(ip, port))
}

// ParseAddressList parses a list of "ip:port" strings into a single-level
// address in which all entries have weight zero. This is mostly useful for
// tests and static configuration.
func ParseAddressList(values ...string) (Address, error) {
	addrs := make([]netip.AddrPort, len(values))
	for i, value := range values {
		addr, err := netip.ParseAddrPort(value)
		if err != nil {
			return Address{}, fmt.Errorf("failed to parse address %q: %w", value, err)
		}
		addrs[i] = addr
	}
	return AddressFrom(addrs...), nil
}

// MustParseAddressList is like ParseAddressList but panics on error.
func MustParseAddressList(values ...string) Address {
	addr, err := ParseAddressList(values...)
	if err != nil {
		panic(err) //nolint:forbidigo
	}
	return addr
}

// PickOne selects one address from the highest priority level, at random
// according to the weights. It returns false if the address is empty.
//
// This method is stateless: it can't find out that the high priority
// addresses are all inaccessible and that lower priority levels should be
// used instead.
func (a Address) PickOne() (netip.AddrPort, bool) {
	return a.At(0).PickOne()
}

// PickOneWith is like PickOne but draws random numbers from r.
func (a Address) PickOneWith(r Rand) (netip.AddrPort, bool) {
	return a.At(0).Pick(r)
}

// At returns the weighted set at the given priority. Original priority
// values are not retained: levels are contiguous and the highest priority is
// at zero. An empty set is returned for priorities that don't exist.
func (a Address) At(priority int) WeightedSet {
	if a.data == nil || priority < 0 || priority >= len(a.data.levels) {
		return WeightedSet{}
	}
	return WeightedSet{entries: a.data.levels[priority]}
}

// AddressesAt returns a copy of the socket addresses at the given priority,
// discarding weights.
func (a Address) AddressesAt(priority int) []netip.AddrPort {
	return a.At(priority).Addrs()
}

// Levels returns the weighted sets of the address in priority order.
func (a Address) Levels() []WeightedSet {
	if a.data == nil {
		return nil
	}
	sets := make([]WeightedSet, len(a.data.levels))
	for i, level := range a.data.levels {
		sets[i] = WeightedSet{entries: level}
	}
	return sets
}

// NumLevels returns the number of priority levels.
func (a Address) NumLevels() int {
	if a.data == nil {
		return 0
	}
	return len(a.data.levels)
}

// IsEmpty reports whether the address contains no socket addresses.
func (a Address) IsEmpty() bool {
	return a.NumLevels() == 0
}

// Equal reports whether both addresses have the same number of priority
// levels and, level by level, the same (weight, address) pairs. Order within
// a level is ignored.
func (a Address) Equal(other Address) bool {
	if a.NumLevels() != other.NumLevels() {
		return false
	}
	for i := range a.NumLevels() {
		if !a.At(i).Equal(other.At(i)) {
			return false
		}
	}
	return true
}

func (a Address) String() string {
	var buf strings.Builder
	buf.WriteByte('[')
	for i, level := range a.Levels() {
		if i > 0 {
			buf.WriteString(" | ")
		}
		buf.WriteString(level.String())
	}
	buf.WriteByte(']')
	return buf.String()
}

// Union returns a single-level address containing the deduplicated union of
// the highest priority level of every input. All entries have weight zero,
// since the union discards priority and weight semantics. Entries appear in
// the order they were first seen.
func Union(addrs ...Address) Address {
	seen := make(map[netip.AddrPort]struct{})
	var level []netip.AddrPort
	for _, addr := range addrs {
		for _, entry := range addr.At(0).entries {
			if _, ok := seen[entry.Addr]; ok {
				continue
			}
			seen[entry.Addr] = struct{}{}
			level = append(level, entry.Addr)
		}
	}
	return AddressFrom(level...)
}

// WeightedSet is a read-only view of one priority level of an Address.
type WeightedSet struct {
	entries []WeightedAddr
}

// Len returns the number of entries in the set.
func (s WeightedSet) Len() int {
	return len(s.entries)
}

// Entries returns a copy of the weighted entries, in stored order.
func (s WeightedSet) Entries() []WeightedAddr {
	return slices.Clone(s.entries)
}

// Addrs returns a copy of the socket addresses in the set, discarding
// weights. This is useful when treating the set as a plain set of addresses.
func (s WeightedSet) Addrs() []netip.AddrPort {
	addrs := make([]netip.AddrPort, len(s.entries))
	for i, entry := range s.entries {
		addrs[i] = entry.Addr
	}
	return addrs
}

// Contains reports whether addr is in the set, regardless of weight.
func (s WeightedSet) Contains(addr netip.AddrPort) bool {
	return slices.ContainsFunc(s.entries, func(entry WeightedAddr) bool {
		return entry.Addr == addr
	})
}

// PickOne selects one address at random according to the weights, using
// DefaultRand. It returns false if the set is empty.
func (s WeightedSet) PickOne() (netip.AddrPort, bool) {
	return s.Pick(globalRand{})
}

// Pick selects one address at random according to the weights, drawing
// random numbers from r. It returns false if the set is empty.
func (s WeightedSet) Pick(r Rand) (netip.AddrPort, bool) {
	if len(s.entries) == 0 {
		return netip.AddrPort{}, false
	}
	var total Weight
	for _, entry := range s.entries {
		total += entry.Weight
	}
	if total == 0 {
		// All addresses are equally likely.
		return s.entries[r.IntN(len(s.entries))].Addr, true
	}
	n := r.Uint64N(total)
	for _, entry := range s.entries {
		if n < entry.Weight {
			return entry.Addr, true
		}
		n -= entry.Weight
	}
	panic("ns: weighted pick fell through all entries") //nolint:forbidigo // unreachable when total > 0
}

// CompareAddresses finds which addresses were removed and which were added
// when going from s to other. Weights are not compared. Both results are
// free of duplicates and keep the stored order of their source set.
func (s WeightedSet) CompareAddresses(other WeightedSet) (removed, added []netip.AddrPort) {
	return difference(s, other), difference(other, s)
}

// difference returns the addresses in from that are not in to.
func difference(from, to WeightedSet) []netip.AddrPort {
	var result []netip.AddrPort
	for _, entry := range from.entries {
		if to.Contains(entry.Addr) || slices.Contains(result, entry.Addr) {
			continue
		}
		result = append(result, entry.Addr)
	}
	return result
}

// Equal reports whether both sets hold the same multiset of (weight, address)
// pairs, regardless of order.
func (s WeightedSet) Equal(other WeightedSet) bool {
	if len(s.entries) != len(other.entries) {
		return false
	}
	counts := make(map[WeightedAddr]int, len(s.entries))
	for _, entry := range s.entries {
		counts[entry]++
	}
	for _, entry := range other.entries {
		if counts[entry] == 0 {
			return false
		}
		counts[entry]--
	}
	return true
}

func (s WeightedSet) String() string {
	strs := make([]string, len(s.entries))
	for i, entry := range s.entries {
		strs[i] = entry.Addr.String()
		if entry.Weight != 0 {
			strs[i] += "*" + strconv.FormatUint(entry.Weight, 10)
		}
	}
	return strings.Join(strs, " ")
}

// AddressBuilder accumulates priority levels for a new Address.
//
//	var builder ns.AddressBuilder
//	builder.AddAddresses(ns.WeightedAddr{Weight: 1, Addr: primary})
//	builder.AddAddresses(ns.WeightedAddr{Weight: 1, Addr: backup})
//	addr := builder.Build()
//
// The zero value is ready to use.
type AddressBuilder struct {
	levels [][]WeightedAddr
}

// NewAddressBuilder returns an empty builder.
func NewAddressBuilder() *AddressBuilder {
	return &AddressBuilder{}
}

// AddAddresses appends a new priority level, lower than every level added
// before. All addresses of the same priority must be added in a single
// call. It panics if the weights of the level sum to more than the maximum
// Weight.
func (b *AddressBuilder) AddAddresses(entries ...WeightedAddr) *AddressBuilder {
	var total, carry Weight
	for _, entry := range entries {
		total, carry = bits.Add64(total, entry.Weight, 0)
		if carry != 0 {
			panic("ns: total weight of a priority level overflows") //nolint:forbidigo
		}
	}
	b.levels = append(b.levels, slices.Clone(entries))
	return b
}

// Build finishes building the address. Empty levels are dropped. The
// builder may continue to be used afterwards; the returned Address does not
// share memory with it.
func (b *AddressBuilder) Build() Address {
	var levels [][]WeightedAddr
	for _, level := range b.levels {
		if len(level) > 0 {
			levels = append(levels, slices.Clone(level))
		}
	}
	if len(levels) == 0 {
		return Address{}
	}
	return Address{data: &addressData{levels: levels}}
}
