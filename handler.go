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

import "time"

// ConnectionHandler is implemented by the application to receive inbound
// events multiplexed over a Connection: broadcasts, requests, tunnels, and
// the connection's eventual drop. HandleBroadcast and HandleRequest run on
// pool worker goroutines and HandleTunnel on a goroutine of its own, never
// on the relay's reader goroutine, and may freely call back into the owning
// Connection. Init runs on the goroutine establishing the connection;
// HandleDrop runs on whichever goroutine detected the teardown, which may
// be the reader goroutine.
type ConnectionHandler interface {
	// Init is called once, immediately after the connection is usable,
	// with the Connection the handler may use to issue outbound calls.
	Init(conn *Connection) error

	// HandleBroadcast delivers an inbound broadcast's payload.
	HandleBroadcast(msg []byte)

	// HandleRequest delivers an inbound request's payload and must
	// return a reply (or an error to be flattened into the remote
	// caller's error field) within timeout.
	HandleRequest(req []byte, timeout time.Duration) ([]byte, error)

	// HandleTunnel delivers a newly accepted inbound tunnel.
	HandleTunnel(tun *Tunnel)

	// HandleDrop notifies the application that the connection was torn
	// down for a reason other than a caller-initiated Close.
	HandleDrop(reason error)
}

// TopicHandler is implemented by the application to receive events
// published to a subscribed topic.
type TopicHandler interface {
	HandleEvent(msg []byte)
}
