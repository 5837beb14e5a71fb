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

// Package ns provides an abstraction over name resolution. It decouples
// protocol and application code from the concrete mechanism used to turn a
// service name into network addresses, whether that is DNS, a static table,
// or a service discovery backend.
//
// The package defines the data model and the capability interfaces; the
// concrete mechanisms live in other packages:
//
//   - [router] dispatches each name to a different resolver, by exact name,
//     by longest matching suffix, or to a fallback.
//   - [mem] resolves names from an in-memory table.
//   - [system] resolves names using a [net.Resolver].
//   - [nameserver] queries specific DNS servers, such as a Consul agent.
//   - [poll] turns any one-shot resolver into one with subscriptions, by
//     re-resolving whenever the result's TTL expires.
//
// # Names and Addresses
//
// A [Name] is a validated host name that may carry a default port, like
// "example.com:443". Host resolution produces an [IPList]. Service
// resolution produces an [Address]: a prioritized list of weighted sets of
// socket addresses, such as the ones described by DNS SRV records. Both are
// immutable and cheap to copy, so they can be cached and shared between
// goroutines.
//
// To connect once, pick an address with [Address.PickOne]. Connection pools
// should instead subscribe to updates and use [WeightedSet.CompareAddresses]
// to find which connections to open and close as the address changes.
//
// # Implementing a Resolver
//
// A full [Resolver] can resolve hosts and services, both once and as a
// subscription. Not every mechanism supports all of that, so this package
// contains adapters: [Frozen] implements subscriptions that resolve once and
// never update, and [NullServiceResolver] and [NullHostResolver] fill in
// the half of a [OneShotResolver] that a mechanism does not support.
//
// # Subscriptions
//
// A subscription is a [Stream] of results. By convention, name streams
// never end: a stream that has nothing new to report simply blocks. Use
// [UnionStream] to merge the subscriptions for several names into one.
//
// [router]: https://pkg.go.dev/github.com/bufbuild/ns/router
// [mem]: https://pkg.go.dev/github.com/bufbuild/ns/mem
// [system]: https://pkg.go.dev/github.com/bufbuild/ns/system
// [nameserver]: https://pkg.go.dev/github.com/bufbuild/ns/nameserver
// [poll]: https://pkg.go.dev/github.com/bufbuild/ns/poll
package ns
