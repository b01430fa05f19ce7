// Iris - Decentralized cloud messaging
// Copyright (c) 2013 Project Iris. All rights reserved.
//
// Iris is dual licensed: you can redistribute it and/or modify it under the
// terms of the GNU General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later
// version.
//
// The framework is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU General Public License for
// more details.
//
// Alternatively, the Iris framework may be used in accordance with the terms
// and conditions contained in a signed written agreement between you and the
// author(s).

package iris

import (
	"errors"
	"fmt"

	"github.com/project-iris/iris-go/link"
)

var (
	// ErrClosed is returned by a repeated Close of a connection or service,
	// and by tunnel operations interrupted by the close of their tunnel or
	// connection. Outbound calls on an already closed connection fail with
	// the transport's own write error instead.
	ErrClosed = errors.New("iris: connection closed")

	// ErrTimeout is returned when a blocking call's deadline elapses
	// before the operation could complete.
	ErrTimeout = errors.New("iris: operation timed out")

	// ErrTerminating is returned to callers blocked on an operation when
	// the connection is torn down before a result arrives.
	ErrTerminating = errors.New("iris: connection terminating")

	// ErrProtocol is returned when the relay sends a malformed or
	// unexpected frame: an unknown opcode, an out-of-range bool, an
	// overlong varint. The connection is always dropped alongside it. It is
	// the same value the link codec returns for malformed fields.
	ErrProtocol = link.ErrProtocol

	// ErrProtoVersion is returned when the relay does not speak a wire
	// version this binding understands.
	ErrProtoVersion = errors.New("iris: relay/binding version mismatch")
)

// RemoteError wraps an error message returned by a remote request handler.
// It is always recoverable: the request can be retried.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("iris: remote error: %s", e.Message)
}

// ClosedError wraps the reason string the peer end of a tunnel, or the
// relay for the whole connection, gave when closing it with a non-empty
// fault.
type ClosedError struct {
	Reason string
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("iris: closed remotely: %s", e.Reason)
}

// ArgumentError is returned synchronously by validators (empty topic,
// colon in a local cluster name, ...) before anything touches the wire.
type ArgumentError struct {
	Message string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("iris: invalid argument: %s", e.Message)
}
