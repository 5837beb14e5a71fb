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
	"net/netip"
	"slices"
	"strings"
)

// IPList is the result of host resolution (A/AAAA style lookups). It plays
// the same role as Address, but for host names rather than services.
//
// Like Address, an IPList is immutable and cheap to copy.
type IPList struct {
	ips []netip.Addr
}

// NewIPList returns a list containing the given addresses, in order.
func NewIPList(ips ...netip.Addr) IPList {
	return IPList{ips: slices.Clone(ips)}
}

// Len returns the number of addresses in the list.
func (l IPList) Len() int {
	return len(l.ips)
}

// At returns the address at index i.
func (l IPList) At(i int) netip.Addr {
	return l.ips[i]
}

// Addrs returns a copy of the addresses in the list.
func (l IPList) Addrs() []netip.Addr {
	return slices.Clone(l.ips)
}

// WithPort joins every IP with the given port, producing a single-level
// Address in which all entries have weight zero.
func (l IPList) WithPort(port uint16) Address {
	addrs := make([]netip.AddrPort, len(l.ips))
	for i, ip := range l.ips {
		addrs[i] = netip.AddrPortFrom(ip, port)
	}
	return AddressFrom(addrs...)
}

// Equal reports whether both lists hold the same addresses in the same order.
func (l IPList) Equal(other IPList) bool {
	return slices.Equal(l.ips, other.ips)
}

func (l IPList) String() string {
	strs := make([]string, len(l.ips))
	for i, ip := range l.ips {
		strs[i] = ip.String()
	}
	return "[" + strings.Join(strs, " ") + "]"
}
