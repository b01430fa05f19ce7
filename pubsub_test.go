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

type countingTopicHandler struct {
	events chan []byte
}

func (h *countingTopicHandler) HandleEvent(msg []byte) {
	h.events <- msg
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	conn, relay := connectPair(t, &testHandler{})
	defer conn.link.Close()

	handler := &countingTopicHandler{events: make(chan []byte, 1)}
	go conn.Subscribe("weather", handler)

	relay.recvOp(opSubscribe)
	if topic, err := relay.l.RecvString(); err != nil || topic != "weather" {
		t.Fatalf("topic: have (%q,%v), want (\"weather\",nil)", topic, err)
	}

	relay.l.Lock()
	relay.l.SendByte(byte(opPublish))
	relay.l.SendString("weather")
	relay.l.SendBinary([]byte("sunny"))
	relay.l.Flush()
	relay.l.Unlock()

	select {
	case msg := <-handler.events:
		if !bytes.Equal(msg, []byte("sunny")) {
			t.Fatalf("event: have %q, want \"sunny\"", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("event never delivered")
	}

	go conn.Unsubscribe("weather")
	relay.recvOp(opUnsubscribe)
	if topic, err := relay.l.RecvString(); err != nil || topic != "weather" {
		t.Fatalf("unsubscribe topic: have (%q,%v)", topic, err)
	}
}

func TestDoubleSubscribeRejected(t *testing.T) {
	conn, relay := connectPair(t, &testHandler{})
	defer conn.link.Close()

	go conn.Subscribe("weather", &countingTopicHandler{events: make(chan []byte, 1)})
	relay.recvOp(opSubscribe)
	relay.l.RecvString()

	if err := conn.Subscribe("weather", &countingTopicHandler{events: make(chan []byte, 1)}); err == nil {
		t.Fatalf("expected error re-subscribing to the same topic")
	}
}

func TestPublishOutbound(t *testing.T) {
	conn, relay := connectPair(t, &testHandler{})
	defer conn.link.Close()

	go conn.Publish("weather", []byte("rainy"))

	relay.recvOp(opPublish)
	if topic, err := relay.l.RecvString(); err != nil || topic != "weather" {
		t.Fatalf("topic: have (%q,%v)", topic, err)
	}
	if msg, err := relay.l.RecvBinary(); err != nil || !bytes.Equal(msg, []byte("rainy")) {
		t.Fatalf("payload: have (%q,%v)", msg, err)
	}
}

func TestPublishToUnknownTopicDroppedSilently(t *testing.T) {
	conn, relay := connectPair(t, &testHandler{})
	defer conn.link.Close()

	relay.l.Lock()
	relay.l.SendByte(byte(opPublish))
	relay.l.SendString("nobody-subscribed")
	relay.l.SendBinary([]byte("x"))
	relay.l.Flush()
	relay.l.Unlock()

	// Nothing to assert beyond the dispatch loop surviving; prove the
	// connection is still live by round-tripping a broadcast afterwards.
	delivered := make(chan struct{}, 1)
	conn.handler.(*testHandler).broadcast = func([]byte) { delivered <- struct{}{} }

	relay.l.Lock()
	relay.l.SendByte(byte(opBroadcast))
	relay.l.SendBinary([]byte("still alive"))
	relay.l.Flush()
	relay.l.Unlock()

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatalf("dispatch loop stalled after publish to unknown topic")
	}
}
