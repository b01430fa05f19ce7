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

// Package iris implements the client-side binding for the Iris cloud
// messaging fabric: a single-connection multiplexer that bridges broadcast,
// request/reply, publish/subscribe and tunnelled byte streams onto one
// framed byte stream to a locally running relay node.
package iris

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/project-iris/iris-go/link"
	"github.com/project-iris/iris-go/pool"
	"gopkg.in/inconshreveable/log15.v2"
)

// Connection is a single multiplexed binding to a locally running Iris
// relay. It owns the framed codec, the dispatch loop that demultiplexes
// inbound frames by opcode, and one instance of each of the four
// sub-protocol schemes.
type Connection struct {
	link    *link.Link
	cluster string // Empty for client-only connections
	handler ConnectionHandler

	broadcast *broadcastScheme
	request   *requestScheme
	pubsub    *pubsubScheme
	tunnel    *tunnelScheme

	term       chan struct{} // Closed as the first step of tearing the connection down
	termOnce   sync.Once
	closeLocal int32 // Atomic flag: 1 once the local side called Close
	closeAck   chan struct{}

	readerDone chan struct{}

	Log log15.Logger
}

// nopHandler backstops client-only connections (Connect, with no
// registered cluster) that can never legitimately receive cluster-targeted
// broadcasts, requests or tunnels, but still need a non-nil handler for
// the dispatch loop to call into (defensively, should the relay misbehave).
type nopHandler struct{}

func (nopHandler) Init(*Connection) error                              { return nil }
func (nopHandler) HandleBroadcast([]byte)                              {}
func (nopHandler) HandleRequest([]byte, time.Duration) ([]byte, error) { return nil, ErrTerminating }
func (nopHandler) HandleTunnel(*Tunnel)                                {}
func (nopHandler) HandleDrop(error)                                    {}

// Connect establishes a new client-only connection (no cluster membership,
// so it can broadcast/request/publish/tunnel out but never receives
// cluster-balanced inbound work) to the relay listening on port.
func Connect(port int) (*Connection, error) {
	return dial(port, "", nopHandler{}, ServiceLimits{})
}

// Register establishes a new connection on behalf of a named service
// cluster: cluster must be non-empty and must not contain ':'. handler
// receives every inbound broadcast, request and tunnel addressed to the
// cluster. Returns a Service wrapping the resulting Connection.
func Register(port int, cluster string, handler ConnectionHandler, limits ...ServiceLimits) (*Service, error) {
	if err := validateLocalCluster(cluster); err != nil {
		return nil, err
	}
	lim := ServiceLimits{}
	if len(limits) > 0 {
		lim = limits[0]
	}
	conn, err := dial(port, cluster, handler, lim)
	if err != nil {
		return nil, err
	}
	return &Service{conn: conn}, nil
}

func dial(port int, cluster string, handler ConnectionHandler, limits ServiceLimits) (*Connection, error) {
	sock, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, err
	}
	return newConnection(sock, cluster, handler, limits)
}

// newConnection wraps an already-established byte stream (a loopback TCP
// socket in production, an in-memory net.Pipe in tests) with a Connection:
// it wires up every scheme, performs the INIT handshake, runs the
// handler's Init callback and starts the dispatch loop.
func newConnection(sock io.ReadWriteCloser, cluster string, handler ConnectionHandler, limits ServiceLimits) (*Connection, error) {
	limits = defaultServiceLimits(limits)

	session, err := newSessionID()
	if err != nil {
		sock.Close()
		return nil, err
	}
	c := &Connection{
		link:       link.New(sock),
		cluster:    cluster,
		handler:    handler,
		term:       make(chan struct{}),
		closeAck:   make(chan struct{}, 1),
		readerDone: make(chan struct{}),
		Log:        log.New("cluster", cluster, "session", session),
	}
	c.broadcast = newBroadcastScheme(c, limits.BroadcastThreads, limits.BroadcastMemory)
	c.request = newRequestScheme(c, limits.RequestThreads, limits.RequestMemory)
	c.pubsub = newPubsubScheme(c)
	c.tunnel = newTunnelScheme(c)

	if err := c.handshake(); err != nil {
		sock.Close()
		return nil, err
	}
	if err := handler.Init(c); err != nil {
		c.drop(err)
		return nil, err
	}
	go c.dispatchLoop()
	return c, nil
}

// handshake performs the INIT/INIT_ACK exchange described in §6: the
// client sends the relay magic and its joining cluster, then blocks for
// the relay's agreement.
func (c *Connection) handshake() error {
	c.link.Lock()
	err := func() error {
		if err := c.link.SendByte(byte(opInit)); err != nil {
			return err
		}
		if err := c.link.SendString(relayMagic); err != nil {
			return err
		}
		if err := c.link.SendString(c.cluster); err != nil {
			return err
		}
		return c.link.Flush()
	}()
	c.link.Unlock()
	if err != nil {
		return err
	}

	op, err := c.link.RecvByte()
	if err != nil {
		return err
	}
	if opcode(op) != opInitAck {
		return ErrProtoVersion
	}
	ok, err := c.link.RecvBool()
	if err != nil {
		return err
	}
	if !ok {
		reason, err := c.link.RecvString()
		if err != nil {
			return err
		}
		return &RemoteError{Message: reason}
	}
	return nil
}

// dispatchLoop is the sole reader of the connection: it decodes one
// opcode at a time and routes the frame to the owning scheme. It runs
// until a protocol/I-O error, an unknown opcode, or a close handshake
// terminates it.
func (c *Connection) dispatchLoop() {
	defer close(c.readerDone)
	for {
		op, err := c.link.RecvByte()
		if err != nil {
			c.drop(err)
			return
		}
		switch opcode(op) {
		case opBroadcast:
			err = c.broadcast.onFrame()
		case opRequest:
			err = c.request.onRequestFrame()
		case opReply:
			err = c.request.onReplyFrame()
		case opPublish:
			err = c.pubsub.onFrame()
		case opTunInit:
			err = c.tunnel.onInitFrame()
		case opTunConfirm:
			err = c.tunnel.onConfirmFrame()
		case opTunAllow:
			err = c.tunnel.onAllowFrame()
		case opTunTransfer:
			err = c.tunnel.onTransferFrame()
		case opTunClose:
			err = c.tunnel.onCloseFrame()
		case opClose:
			c.onCloseFrame()
			return
		default:
			c.Log.Warn("unknown opcode", "opcode", opcode(op))
			err = ErrProtocol
		}
		if err != nil {
			c.Log.Debug("dispatch failed", "opcode", opcode(op), "reason", err)
			c.drop(err)
			return
		}
	}
}

// onCloseFrame handles an inbound CLOSE, which is both the peer's
// acknowledgement of our own Close() and the notification that the peer
// initiated its own shutdown.
func (c *Connection) onCloseFrame() {
	reason, err := c.link.RecvString()
	if err != nil {
		reason = ""
	}
	if atomic.LoadInt32(&c.closeLocal) == 1 {
		// This is the relay's acknowledgement of our Close().
		c.closeAck <- struct{}{}
		c.terminate(ErrClosed, pool.Graceful)
		return
	}
	// Peer-initiated shutdown: acknowledge and tear down.
	c.link.Lock()
	c.link.SendByte(byte(opClose))
	c.link.SendString("")
	c.link.Flush()
	c.link.Unlock()

	var dropErr error = ErrClosed
	if reason != "" {
		dropErr = &ClosedError{Reason: reason}
	}
	c.terminate(dropErr, pool.Graceful)
	c.handler.HandleDrop(dropErr)
}

// drop is invoked on any fatal transport/protocol error: it terminates the
// connection immediately and notifies the application handler.
func (c *Connection) drop(err error) {
	c.Log.Warn("connection dropped", "reason", err)
	c.terminate(err, pool.Immediate)
	c.handler.HandleDrop(err)
}

// terminate closes the shared term channel exactly once, draining every
// scheme's pending operations with err, and tears down the socket. mode
// controls whether already-admitted but not-yet-started inbound work is
// allowed to finish (Graceful, used by the close handshake) or discarded
// (Immediate, used on a fatal transport/protocol error).
func (c *Connection) terminate(err error, mode pool.Mode) {
	c.termOnce.Do(func() {
		close(c.term)
		c.broadcast.terminate(mode)
		if mode == pool.Immediate {
			// request.terminate stops its pool gracefully; stop it first here.
			c.request.workers.Terminate(pool.Immediate)
		}
		c.request.terminate(err)
		c.pubsub.terminate(mode)
		c.tunnel.terminate(err)
		c.link.Close()
	})
}

// Close gracefully tears down the connection: it sends CLOSE, waits for
// the relay's acknowledgement, then waits for the reader goroutine to
// exit so in-flight dispatch is guaranteed finished before returning.
func (c *Connection) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closeLocal, 0, 1) {
		return ErrClosed
	}
	c.Log.Info("closing connection")

	c.link.Lock()
	err := func() error {
		if err := c.link.SendByte(byte(opClose)); err != nil {
			return err
		}
		if err := c.link.SendString(""); err != nil {
			return err
		}
		return c.link.Flush()
	}()
	c.link.Unlock()
	if err != nil {
		c.terminate(err, pool.Immediate)
		<-c.readerDone
		return err
	}

	select {
	case <-c.closeAck:
	case <-c.readerDone:
		// Reader already exited (e.g. concurrent drop); nothing more to wait on.
	}
	<-c.readerDone
	return nil
}
