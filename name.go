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
	"cmp"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

const (
	reasonDots       = "name can't start with dot and can't have subsequent dots"
	reasonChars      = "only lower-case ascii letters, digits, dash `-`, underscore `_` and dot `.` are supported in names"
	reasonDash       = "any part of name can't start or end with dash"
	reasonPort       = "default port number is invalid"
	reasonIDNConvert = "name can't be converted to ascii"
)

//nolint:gochecknoglobals
var idnaProfile = idna.New(
	idna.MapForLookup(),
	// Underscores are allowed in service names (e.g. "_http._tcp.example.com").
	idna.StrictDomainName(false),
	idna.Transitional(false),
)

// Name is a validated host name, optionally carrying a default port.
//
// The host is a dot-separated sequence of labels. Each label consists of
// lower-case ASCII letters, digits, dashes and underscores, and must not start
// or end with a dash. A single trailing dot is allowed and means the name is
// fully qualified (no search domains should be applied).
//
// Name is an immutable value. It is comparable, so it can be used as a map
// key, and it is cheap to copy.
type Name struct {
	host    string
	port    uint16
	hasPort bool
}

// ParseName parses a string of the form "host" or "host:port".
func ParseName(value string) (Name, error) {
	host, port, hasPort, err := splitPort(value)
	if err != nil {
		return Name{}, err
	}
	if err := checkHost(value, host); err != nil {
		return Name{}, err
	}
	return Name{host: host, port: port, hasPort: hasPort}, nil
}

// MustParseName is like ParseName but panics if the name is invalid. It is
// intended for tests and for names that are constants in a program.
func MustParseName(value string) Name {
	name, err := ParseName(value)
	if err != nil {
		panic(err) //nolint:forbidigo
	}
	return name
}

// ParseIDN is like ParseName but also accepts internationalized host names,
// which are mapped to their lower-case ASCII ("xn--") form before validation.
func ParseIDN(value string) (Name, error) {
	host, port, hasPort, err := splitPort(value)
	if err != nil {
		return Name{}, err
	}
	asciiHost, err := idnaProfile.ToASCII(host)
	if err != nil {
		return Name{}, invalidName(value, reasonIDNConvert+": "+err.Error())
	}
	if err := checkHost(value, asciiHost); err != nil {
		return Name{}, err
	}
	return Name{host: asciiHost, port: port, hasPort: hasPort}, nil
}

// NewName validates host and returns a name with the given default port.
func NewName(host string, port uint16) (Name, error) {
	if err := checkHost(host, host); err != nil {
		return Name{}, err
	}
	return Name{host: host, port: port, hasPort: true}, nil
}

// NewHostName validates host and returns a name without a default port.
func NewHostName(host string) (Name, error) {
	if err := checkHost(host, host); err != nil {
		return Name{}, err
	}
	return Name{host: host}, nil
}

// Host returns the host part of the name, including the trailing dot if
// the name is fully qualified.
func (n Name) Host() string {
	return n.host
}

// DefaultPort returns the default port of the name. The second return value
// is false if the name was created without a port.
func (n Name) DefaultPort() (uint16, bool) {
	return n.port, n.hasPort
}

// WithPort returns a copy of the name with the given default port.
func (n Name) WithPort(port uint16) Name {
	n.port, n.hasPort = port, true
	return n
}

// IsFullyQualified reports whether the host ends with a dot.
func (n Name) IsFullyQualified() bool {
	return strings.HasSuffix(n.host, ".")
}

// IsZero reports whether n is the zero Name, which is never the result of
// successful parsing.
func (n Name) IsZero() bool {
	return n.host == ""
}

// String returns the name in the same form it was parsed from.
func (n Name) String() string {
	if !n.hasPort {
		return n.host
	}
	return n.host + ":" + strconv.FormatUint(uint64(n.port), 10)
}

// Compare returns an integer comparing two names: by host first, then by
// port, where a name without a port sorts before any name with one.
func Compare(a, b Name) int {
	if c := strings.Compare(a.host, b.host); c != 0 {
		return c
	}
	if a.hasPort != b.hasPort {
		if !a.hasPort {
			return -1
		}
		return 1
	}
	return cmp.Compare(a.port, b.port)
}

func splitPort(value string) (host string, port uint16, hasPort bool, err error) {
	idx := strings.LastIndexByte(value, ':')
	if idx < 0 {
		return value, 0, false, nil
	}
	portNum, err := strconv.ParseUint(value[idx+1:], 10, 16)
	if err != nil {
		return "", 0, false, invalidName(value, reasonPort+": "+err.Error())
	}
	return value[:idx], uint16(portNum), true, nil
}

// checkHost validates host, reporting errors against the original input.
func checkHost(input, host string) error {
	// The dot at the end is allowed (means don't add search domain).
	host = strings.TrimSuffix(host, ".")
	for {
		label, rest, found := strings.Cut(host, ".")
		if err := checkLabel(input, label); err != nil {
			return err
		}
		if !found {
			return nil
		}
		host = rest
	}
}

func checkLabel(input, label string) error {
	if label == "" {
		return invalidName(input, reasonDots)
	}
	for i := range len(label) {
		char := label[i]
		switch {
		case char >= 'a' && char <= 'z',
			char >= '0' && char <= '9',
			char == '-', char == '_':
		default:
			return invalidName(input, reasonChars)
		}
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return invalidName(input, reasonDash)
	}
	return nil
}
