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

package config

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bufbuild/ns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"
)

const exampleConfig = `
[hosts]
"db.local" = "10.0.0.5"

[[suffix]]
suffix = "consul"
kind = "nameserver"
nameservers = ["127.0.0.1:8600"]
net = "tcp"
timeout = "500ms"
min_ttl = "1s"

[[suffix]]
suffix = "ip.internal"
kind = "identity"
subset = 2
selection_key = "client-1"

[default]
kind = "system"
affinity = "prefer-ipv4"
ttl = "1m"
`

func TestParse(t *testing.T) {
	t.Parallel()

	config, err := Parse([]byte(exampleConfig))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"db.local": "10.0.0.5"}, config.Hosts)
	require.Len(t, config.Suffixes, 2)
	consul := config.Suffixes[0]
	assert.Equal(t, "consul", consul.Suffix)
	assert.Equal(t, KindNameserver, consul.Kind)
	assert.Equal(t, []string{"127.0.0.1:8600"}, consul.Nameservers)
	assert.Equal(t, "tcp", consul.Net)
	assert.Equal(t, 500*time.Millisecond, consul.Timeout.Duration)
	assert.Equal(t, time.Second, consul.MinTTL.Duration)
	assert.Equal(t, 2, config.Suffixes[1].Subset)
	require.NotNil(t, config.Default)
	assert.Equal(t, KindSystem, config.Default.Kind)
	assert.Equal(t, "prefer-ipv4", config.Default.Affinity)
	assert.Equal(t, time.Minute, config.Default.TTL.Duration)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`[hosts`))
	require.ErrorContains(t, err, "failed to parse config")

	_, err = Parse([]byte("[default]\nkind = \"system\"\nretries = 3\n"))
	require.ErrorContains(t, err, "unknown config keys: default.retries")

	_, err = Parse([]byte("[default]\nkind = \"system\"\nttl = \"soon\"\n"))
	require.Error(t, err)

	_, err = Parse([]byte(`
[hosts]
"-bad" = "10.0.0.1"
"good" = "not an ip"

[[suffix]]
kind = "nameserver"

[default]
kind = "carrier-pigeon"
`))
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 5)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ns.toml")
	require.NoError(t, os.WriteFile(path, []byte(exampleConfig), 0o600))
	config, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, config.Suffixes, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewRouter(t *testing.T) {
	t.Parallel()

	config, err := Parse([]byte(exampleConfig))
	require.NoError(t, err)
	router, err := config.NewRouter(zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	ips, err := router.ResolveHost(ctx, ns.MustParseName("db.local"))
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("10.0.0.5")}, ips.Addrs())

	addr, err := router.Resolve(ctx, ns.MustParseName("10.1.2.3.ip.internal:80"))
	// The identity resolver only understands IP literals.
	require.ErrorIs(t, err, ns.ErrNameNotFound)
	assert.True(t, addr.IsEmpty())

	_, err = (&Config{}).NewRouter(nil)
	require.NoError(t, err)
}
