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
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"io"
	"runtime"

	"golang.org/x/crypto/hkdf"
)

// relayMagic is the greeting exchanged during the init handshake; the
// relay must echo agreement on this exact string before the connection is
// usable.
const relayMagic = "iris-relay-v1.0"

// DefaultTunnelBuffer is the initial data allowance granted to the remote
// endpoint of every newly constructed tunnel (64 MiB).
const DefaultTunnelBuffer = 64 * 1024 * 1024

var (
	// DefaultEventThreads bounds the number of event handlers a topic
	// subscription runs concurrently, absent an explicit override.
	DefaultEventThreads = 4 * runtime.NumCPU()
	// DefaultEventMemory bounds the cumulative in-flight event payload
	// bytes a topic subscription may hold, absent an explicit override.
	DefaultEventMemory = 64 * 1024 * 1024

	// DefaultBroadcastThreads bounds concurrent broadcast handlers for a
	// registered service.
	DefaultBroadcastThreads = 4 * runtime.NumCPU()
	// DefaultBroadcastMemory bounds in-flight broadcast payload bytes for
	// a registered service.
	DefaultBroadcastMemory = 64 * 1024 * 1024

	// DefaultRequestThreads bounds concurrent inbound request handlers
	// for a registered service.
	DefaultRequestThreads = 4 * runtime.NumCPU()
	// DefaultRequestMemory bounds in-flight request payload bytes for a
	// registered service.
	DefaultRequestMemory = 64 * 1024 * 1024
)

// HKDF parameters the relay-side session negotiation derives its traffic
// keys with, ahead of the plain magic-string handshake defined by this
// binding's wire protocol (config_test.go asserts these are sane).
var (
	HkdfHash = sha1.New
	HkdfSalt = []byte("iris-go relay session salt")
	HkdfInfo = []byte("iris-go relay session info")
)

// HkdfHasher returns a fresh instance of the configured HKDF hash.
func HkdfHasher() hash.Hash {
	return HkdfHash()
}

// newSessionID derives a short, random identifier for a single Connection's
// lifetime, used only to correlate its log lines; it carries no
// cryptographic weight since the wire handshake itself is a plain
// magic-string exchange (§6), but every session is still keyed through the
// same HKDF construction the relay-side session negotiation uses.
func newSessionID() (string, error) {
	seed := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return "", err
	}
	derived := make([]byte, 8)
	kdf := hkdf.New(HkdfHash, seed, HkdfSalt, HkdfInfo)
	if _, err := io.ReadFull(kdf, derived); err != nil {
		return "", err
	}
	return hex.EncodeToString(derived), nil
}

// Limits bounds the quality-of-service a single topic subscription's
// worker pool enforces on inbound events.
type Limits struct {
	EventThreads int // Maximum concurrent event handlers
	EventMemory  int // Maximum cumulative in-flight event payload bytes
}

// defaultLimits fills in zero-valued fields of l with package defaults and
// returns the result; l itself is left untouched.
func defaultLimits(l Limits) Limits {
	if l.EventThreads == 0 {
		l.EventThreads = DefaultEventThreads
	}
	if l.EventMemory == 0 {
		l.EventMemory = DefaultEventMemory
	}
	return l
}

// ServiceLimits bounds the quality-of-service a registered service's
// broadcast and request worker pools enforce on inbound traffic.
type ServiceLimits struct {
	BroadcastThreads int
	BroadcastMemory  int
	RequestThreads   int
	RequestMemory    int
}

// defaultServiceLimits fills in zero-valued fields of l with package
// defaults and returns the result; l itself is left untouched.
func defaultServiceLimits(l ServiceLimits) ServiceLimits {
	if l.BroadcastThreads == 0 {
		l.BroadcastThreads = DefaultBroadcastThreads
	}
	if l.BroadcastMemory == 0 {
		l.BroadcastMemory = DefaultBroadcastMemory
	}
	if l.RequestThreads == 0 {
		l.RequestThreads = DefaultRequestThreads
	}
	if l.RequestMemory == 0 {
		l.RequestMemory = DefaultRequestMemory
	}
	return l
}
