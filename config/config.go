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

// Package config builds a router from a TOML document. For example:
//
//	[hosts]
//	"db.local" = "10.0.0.5"
//
//	[[suffix]]
//	suffix = "consul"
//	kind = "nameserver"
//	nameservers = ["127.0.0.1:8600"]
//	min_ttl = "1s"
//
//	[default]
//	kind = "system"
//	affinity = "prefer-ipv4"
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bufbuild/ns"
	"github.com/bufbuild/ns/nameserver"
	"github.com/bufbuild/ns/poll"
	"github.com/bufbuild/ns/router"
	"github.com/bufbuild/ns/subset"
	"github.com/bufbuild/ns/system"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Backend kinds.
const (
	KindSystem     = "system"
	KindNameserver = "nameserver"
	KindIdentity   = "identity"
)

// Config is the routing table of a router.
type Config struct {
	// Hosts maps exact host names to IP addresses.
	Hosts map[string]string `toml:"hosts"`
	// Suffixes routes names by suffix.
	Suffixes []Suffix `toml:"suffix"`
	// Default is used for names that match nothing else. Without it, those
	// names are not found.
	Default *Backend `toml:"default"`
}

// Suffix routes all the names ending with Suffix to a backend.
type Suffix struct {
	Suffix string `toml:"suffix"`
	Backend
}

// Backend describes a resolver.
type Backend struct {
	// Kind is one of "system", "nameserver" or "identity".
	Kind string `toml:"kind"`
	// Nameservers lists the servers queried by a "nameserver" backend.
	Nameservers []string `toml:"nameservers"`
	// Net is the transport of a "nameserver" backend: "udp", "tcp" or
	// "tcp-tls".
	Net string `toml:"net"`
	// Timeout bounds each query of a "nameserver" backend.
	Timeout Duration `toml:"timeout"`
	// Affinity filters the address families used by a "system" backend:
	// "all", "prefer-ipv4", "prefer-ipv6", "require-ipv4" or "require-ipv6".
	Affinity string `toml:"affinity"`
	// TTL is the refresh interval of subscriptions when the backend doesn't
	// know the TTL of its records.
	TTL Duration `toml:"ttl"`
	// MinTTL is the shortest refresh interval of subscriptions.
	MinTTL Duration `toml:"min_ttl"`
	// Subset, if set, narrows service addresses down to this many backends
	// per priority level using rendezvous hashing.
	Subset int `toml:"subset"`
	// SelectionKey is the rendezvous hashing key. It defaults to the host
	// name of the machine.
	SelectionKey string `toml:"selection_key"`
}

// Duration is a time.Duration that is written as a string in TOML, such
// as "1m30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = duration
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

var affinities = map[string]system.AddressFamilyAffinity{
	"":             system.AllFamilies,
	"all":          system.AllFamilies,
	"prefer-ipv4":  system.PreferIPv4,
	"prefer-ipv6":  system.PreferIPv6,
	"require-ipv4": system.RequireIPv4,
	"require-ipv6": system.RequireIPv6,
}

// Parse decodes and validates a TOML document. Unknown keys are an error.
func Parse(data []byte) (*Config, error) {
	var config Config
	meta, err := toml.Decode(string(data), &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Load reads and parses the TOML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Validate reports every problem of the configuration at once.
func (c *Config) Validate() error {
	var errs error
	for _, host := range sortedKeys(c.Hosts) {
		if _, err := ns.NewHostName(host); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("hosts: %w", err))
		}
		if _, err := netip.ParseAddr(c.Hosts[host]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("hosts: %q: %w", host, err))
		}
	}
	for i, suffix := range c.Suffixes {
		if suffix.Suffix == "" {
			errs = multierr.Append(errs, fmt.Errorf("suffix[%d]: suffix is required", i))
		}
		if err := suffix.Backend.validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("suffix[%d] %q: %w", i, suffix.Suffix, err))
		}
	}
	if c.Default != nil {
		if err := c.Default.validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("default: %w", err))
		}
	}
	return errs
}

func (b *Backend) validate() error {
	var errs error
	switch b.Kind {
	case KindSystem:
		if _, ok := affinities[b.Affinity]; !ok {
			errs = multierr.Append(errs, fmt.Errorf("unknown affinity %q", b.Affinity))
		}
	case KindNameserver:
		if len(b.Nameservers) == 0 {
			errs = multierr.Append(errs, errors.New("nameservers are required"))
		}
	case KindIdentity:
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown kind %q", b.Kind))
	}
	if b.Subset < 0 {
		errs = multierr.Append(errs, errors.New("subset can't be negative"))
	}
	return errs
}

// NewRouter builds a router with the configured routing table. A nil
// logger disables logging.
func (c *Config) NewRouter(logger *zap.Logger) (*router.Router, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	builder := router.NewBuilder(router.WithLogger(logger))
	for _, host := range sortedKeys(c.Hosts) {
		ip, err := netip.ParseAddr(c.Hosts[host])
		if err != nil {
			return nil, fmt.Errorf("hosts: %q: %w", host, err)
		}
		builder.AddIP(host, ip)
	}
	for _, suffix := range c.Suffixes {
		resolver, err := suffix.Backend.newResolver(logger.With(zap.String("suffix", suffix.Suffix)))
		if err != nil {
			return nil, fmt.Errorf("suffix %q: %w", suffix.Suffix, err)
		}
		builder.AddSuffix(suffix.Suffix, resolver)
	}
	if c.Default != nil {
		resolver, err := c.Default.newResolver(logger.With(zap.String("route", "default")))
		if err != nil {
			return nil, fmt.Errorf("default: %w", err)
		}
		builder.AddDefault(resolver)
	}
	return builder.Build()
}

func (b *Backend) newResolver(logger *zap.Logger) (ns.Resolver, error) {
	pollOptions := []poll.Option{poll.WithLogger(logger)}
	if b.TTL.Duration > 0 {
		pollOptions = append(pollOptions, poll.WithDefaultTTL(b.TTL.Duration))
	}
	if b.MinTTL.Duration > 0 {
		pollOptions = append(pollOptions, poll.WithMinTTL(b.MinTTL.Duration))
	}
	var resolver ns.Resolver
	switch b.Kind {
	case KindSystem:
		affinity, ok := affinities[b.Affinity]
		if !ok {
			return nil, fmt.Errorf("unknown affinity %q", b.Affinity)
		}
		resolver = system.New(nil, affinity, pollOptions...)
	case KindNameserver:
		opts := []nameserver.Option{
			nameserver.WithLogger(logger),
			nameserver.WithPollOptions(pollOptions...),
		}
		if b.Net != "" {
			opts = append(opts, nameserver.WithNet(b.Net))
		}
		if b.Timeout.Duration > 0 {
			opts = append(opts, nameserver.WithTimeout(b.Timeout.Duration))
		}
		var err error
		resolver, err = nameserver.New(b.Nameservers, opts...)
		if err != nil {
			return nil, err
		}
	case KindIdentity:
		resolver = ns.Identity()
	default:
		return nil, fmt.Errorf("unknown kind %q", b.Kind)
	}
	if b.Subset > 0 {
		key := b.SelectionKey
		if key == "" {
			// An error leaves the key empty, which picks a random one.
			key, _ = os.Hostname()
		}
		subsetter, err := subset.NewRendezvous(subset.Config{NumBackends: b.Subset, SelectionKey: key})
		if err != nil {
			return nil, err
		}
		resolver = subsetter.Wrap(resolver)
	}
	return resolver, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
