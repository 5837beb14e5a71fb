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
	"errors"
	"fmt"
)

var (
	// ErrNameNotFound is returned when a name is syntactically valid but no
	// resolver produced an address for it, or when the resolver that was
	// asked positively reported that the name does not exist.
	ErrNameNotFound = errors.New("name not found")

	// ErrNoDefaultPort is returned when a resolver can only resolve a host
	// name to IP addresses and the name does not carry a default port, so no
	// full socket address can be produced.
	ErrNoDefaultPort = errors.New("no default port: the resolver can only resolve hosts, so a port must be specified")

	// ErrClosed is returned by Stream.Next after the stream has been closed.
	ErrClosed = errors.New("stream closed")
)

// InvalidNameError reports a name that failed validation. It is permanent:
// resolving the same input again will fail the same way.
type InvalidNameError struct {
	// Name is the input that was rejected.
	Name string
	// Reason describes which rule was violated.
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("name %q is invalid: %s", e.Name, e.Reason)
}

// TemporaryError wraps a failure of an underlying name service, such as a
// network error talking to a DNS server. Callers may retry after a backoff
// interval of their choosing.
type TemporaryError struct {
	Err error
}

// Temporary wraps err as a *TemporaryError. It returns nil if err is nil and
// returns err unchanged if it is already temporary.
func Temporary(err error) error {
	if err == nil {
		return nil
	}
	var tempErr *TemporaryError
	if errors.As(err, &tempErr) {
		return err
	}
	return &TemporaryError{Err: err}
}

func (e *TemporaryError) Error() string {
	return "temporary name resolution error: " + e.Err.Error()
}

func (e *TemporaryError) Unwrap() error {
	return e.Err
}

// Temporary always returns true. It allows the error to be recognized by code
// that checks for a Temporary() method, such as the net package conventions.
func (e *TemporaryError) Temporary() bool {
	return true
}

// IsTemporary reports whether err, or any error it wraps, is a
// *TemporaryError.
func IsTemporary(err error) bool {
	var tempErr *TemporaryError
	return errors.As(err, &tempErr)
}

func invalidName(name, reason string) error {
	return &InvalidNameError{Name: name, Reason: reason}
}
