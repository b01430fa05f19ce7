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

import "testing"

// Register must reject a malformed local cluster name before ever touching
// the network, so port 0 (never dialable) still proves the validation runs
// first.
func TestRegisterValidatesLocalCluster(t *testing.T) {
	if _, err := Register(0, "", &testHandler{}); err == nil {
		t.Fatalf("expected error registering with an empty cluster")
	}
	if _, err := Register(0, "has:colon", &testHandler{}); err == nil {
		t.Fatalf("expected error registering with a ':' in the cluster name")
	}
}

func TestServiceUnregisterClosesConnection(t *testing.T) {
	conn, relay := connectPair(t, &testHandler{})

	svc := &Service{conn: conn}
	closeErr := make(chan error, 1)
	go func() { closeErr <- svc.Unregister() }()

	relay.recvOp(opClose)
	relay.l.RecvString()

	relay.l.Lock()
	relay.l.SendByte(byte(opClose))
	relay.l.SendString("")
	relay.l.Flush()
	relay.l.Unlock()

	if err := <-closeErr; err != nil {
		t.Fatalf("unregister: unexpected error: %v", err)
	}
}
