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
	"net"
	"testing"
	"time"

	"github.com/project-iris/iris-go/link"
)

// testHandler is a ConnectionHandler whose callbacks are overridable per
// test, so each test wires up only the hooks it cares about.
type testHandler struct {
	init      func(*Connection) error
	broadcast func([]byte)
	request   func([]byte, time.Duration) ([]byte, error)
	tunnel    func(*Tunnel)
	drop      func(error)
}

func (h *testHandler) Init(c *Connection) error {
	if h.init != nil {
		return h.init(c)
	}
	return nil
}

func (h *testHandler) HandleBroadcast(msg []byte) {
	if h.broadcast != nil {
		h.broadcast(msg)
	}
}

func (h *testHandler) HandleRequest(msg []byte, timeout time.Duration) ([]byte, error) {
	if h.request != nil {
		return h.request(msg, timeout)
	}
	return nil, nil
}

func (h *testHandler) HandleTunnel(tun *Tunnel) {
	if h.tunnel != nil {
		h.tunnel(tun)
	}
}

func (h *testHandler) HandleDrop(err error) {
	if h.drop != nil {
		h.drop(err)
	}
}

// fakeRelay stands in for the Iris relay on the far end of a Connection's
// socket, letting tests drive the wire protocol directly.
type fakeRelay struct {
	t *testing.T
	l *link.Link
}

// connectPair wires a Connection to a fakeRelay over an in-memory pipe,
// completing the INIT handshake with an immediate acceptance.
func connectPair(t *testing.T, handler ConnectionHandler) (*Connection, *fakeRelay) {
	t.Helper()
	a, b := net.Pipe()
	relay := &fakeRelay{t: t, l: link.New(b)}

	type result struct {
		conn *Connection
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c, err := newConnection(a, "", handler, ServiceLimits{})
		done <- result{c, err}
	}()

	op, err := relay.l.RecvByte()
	if err != nil || opcode(op) != opInit {
		t.Fatalf("handshake: have opcode (%v,%v), want opInit", op, err)
	}
	if _, err := relay.l.RecvString(); err != nil {
		t.Fatalf("handshake: recv magic: %v", err)
	}
	if _, err := relay.l.RecvString(); err != nil {
		t.Fatalf("handshake: recv cluster: %v", err)
	}

	relay.l.Lock()
	relay.l.SendByte(byte(opInitAck))
	relay.l.SendBool(true)
	relay.l.Flush()
	relay.l.Unlock()

	res := <-done
	if res.err != nil {
		t.Fatalf("connect: %v", res.err)
	}
	return res.conn, relay
}

// recvOp reads the next opcode byte, failing the test if it doesn't match want.
func (r *fakeRelay) recvOp(want opcode) {
	r.t.Helper()
	op, err := r.l.RecvByte()
	if err != nil {
		r.t.Fatalf("recv opcode: %v", err)
	}
	if opcode(op) != want {
		r.t.Fatalf("recv opcode: have %v, want %v", opcode(op), want)
	}
}
