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

import "github.com/project-iris/iris-go/pool"

// broadcastScheme implements the fire-and-forget, cluster-wide broadcast
// sub-protocol: outbound frames are fully synchronous (return once
// flushed), inbound deliveries are dispatched onto a bounded worker pool so
// the reader goroutine never blocks on application code.
type broadcastScheme struct {
	conn    *Connection
	workers *pool.Pool
}

func newBroadcastScheme(conn *Connection, threads, memory int) *broadcastScheme {
	return &broadcastScheme{conn: conn, workers: pool.New(threads, memory)}
}

// Broadcast fans msg out to every member of cluster. It returns once the
// frame has been flushed to the relay; delivery itself is best-effort.
func (b *broadcastScheme) Broadcast(cluster string, msg []byte) error {
	if err := validateRemoteCluster(cluster); err != nil {
		return err
	}
	l := b.conn.link
	l.Lock()
	defer l.Unlock()

	if err := l.SendByte(byte(opBroadcast)); err != nil {
		return err
	}
	if err := l.SendString(cluster); err != nil {
		return err
	}
	if err := l.SendBinary(msg); err != nil {
		return err
	}
	return l.Flush()
}

// onFrame decodes an inbound BROADCAST{bytes} and schedules delivery to the
// application handler, dropping it silently if the broadcast worker pool's
// memory budget is already saturated.
func (b *broadcastScheme) onFrame() error {
	msg, err := b.conn.link.RecvBinary()
	if err != nil {
		return err
	}
	handler := b.conn.handler
	b.workers.TrySchedule(len(msg), 0, func() {
		handler.HandleBroadcast(msg)
	})
	return nil
}

// terminate stops the broadcast worker pool. mode is Graceful for a clean
// shutdown handshake (let already-dispatched handlers finish) or Immediate
// for a fatal transport/protocol error (drop anything not yet running).
func (b *broadcastScheme) terminate(mode pool.Mode) {
	b.workers.Terminate(mode)
}
