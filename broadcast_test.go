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
	"bytes"
	"testing"
	"time"
)

func TestBroadcastOutbound(t *testing.T) {
	conn, relay := connectPair(t, &testHandler{})
	defer conn.link.Close()

	go conn.Broadcast("workers", []byte("ping"))

	relay.recvOp(opBroadcast)
	cluster, err := relay.l.RecvString()
	if err != nil || cluster != "workers" {
		t.Fatalf("cluster: have (%q,%v), want (\"workers\",nil)", cluster, err)
	}
	msg, err := relay.l.RecvBinary()
	if err != nil || !bytes.Equal(msg, []byte("ping")) {
		t.Fatalf("payload: have (%q,%v), want (\"ping\",nil)", msg, err)
	}
}

func TestBroadcastRejectsEmptyCluster(t *testing.T) {
	conn, _ := connectPair(t, &testHandler{})
	defer conn.link.Close()

	if err := conn.Broadcast("", []byte("x")); err == nil {
		t.Fatalf("expected error for empty cluster")
	}
}

func TestBroadcastInboundDelivery(t *testing.T) {
	delivered := make(chan []byte, 1)
	conn, relay := connectPair(t, &testHandler{
		broadcast: func(msg []byte) { delivered <- msg },
	})
	defer conn.link.Close()

	relay.l.Lock()
	relay.l.SendByte(byte(opBroadcast))
	relay.l.SendBinary([]byte("hello"))
	relay.l.Flush()
	relay.l.Unlock()

	select {
	case msg := <-delivered:
		if !bytes.Equal(msg, []byte("hello")) {
			t.Fatalf("have %q, want \"hello\"", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("broadcast handler never invoked")
	}
}
