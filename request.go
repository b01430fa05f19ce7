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
	"sync"
	"sync/atomic"
	"time"

	"github.com/project-iris/iris-go/pool"
)

// pendingRequest is the rendezvous created by an outbound Request call and
// signalled at most once, either by a matching inbound REPLY or by
// connection termination; it is not signalled at all if the caller stops
// waiting first and removes it from the pending table.
type pendingRequest struct {
	done    chan struct{}
	timeout bool
	reply   []byte
	err     error
}

// requestScheme implements the request/reply sub-protocol: outbound calls
// correlate replies by id and block the caller; inbound requests are
// dispatched to the application handler on a bounded worker pool and their
// result (or error) is flattened into an outbound REPLY.
type requestScheme struct {
	conn    *Connection
	workers *pool.Pool

	nextID uint64

	lock    sync.Mutex
	pending map[uint64]*pendingRequest
}

func newRequestScheme(conn *Connection, threads, memory int) *requestScheme {
	return &requestScheme{
		conn:    conn,
		workers: pool.New(threads, memory),
		pending: make(map[uint64]*pendingRequest),
	}
}

// Request sends msg to cluster and blocks for a reply, a remote error, or
// timeoutMs milliseconds (0 meaning unbounded).
func (r *requestScheme) Request(cluster string, msg []byte, timeoutMs int) ([]byte, error) {
	if err := validateRemoteCluster(cluster); err != nil {
		return nil, err
	}
	id := atomic.AddUint64(&r.nextID, 1)
	pr := &pendingRequest{done: make(chan struct{}, 1)}

	// Pre-insert before sending: the relay may deliver the reply before
	// the write call below returns.
	r.lock.Lock()
	r.pending[id] = pr
	r.lock.Unlock()

	l := r.conn.link
	l.Lock()
	err := func() error {
		if err := l.SendByte(byte(opRequest)); err != nil {
			return err
		}
		if err := l.SendVarint(id); err != nil {
			return err
		}
		if err := l.SendString(cluster); err != nil {
			return err
		}
		if err := l.SendBinary(msg); err != nil {
			return err
		}
		if err := l.SendVarint(uint64(timeoutMs)); err != nil {
			return err
		}
		return l.Flush()
	}()
	l.Unlock()
	if err != nil {
		r.forget(id)
		return nil, err
	}

	var deadline <-chan time.Time
	if timeoutMs > 0 {
		timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-pr.done:
		r.forget(id)
		if pr.timeout {
			return nil, ErrTimeout
		}
		if pr.err != nil {
			return nil, pr.err
		}
		return pr.reply, nil
	case <-deadline:
		r.forget(id)
		return nil, ErrTimeout
	case <-r.conn.term:
		r.forget(id)
		return nil, ErrTerminating
	}
}

// forget removes id from the pending table; any later inbound REPLY for it
// is then drained and silently discarded.
func (r *requestScheme) forget(id uint64) {
	r.lock.Lock()
	delete(r.pending, id)
	r.lock.Unlock()
}

// onRequestFrame decodes an inbound REQUEST and dispatches it to the
// handler on the request worker pool; the cluster field is read to stay
// in wire sync but unused (the relay already targeted this connection).
func (r *requestScheme) onRequestFrame() error {
	id, err := r.conn.link.RecvVarint()
	if err != nil {
		return err
	}
	if _, err := r.conn.link.RecvString(); err != nil { // cluster, unused on delivery
		return err
	}
	msg, err := r.conn.link.RecvBinary()
	if err != nil {
		return err
	}
	timeoutMs, err := r.conn.link.RecvVarint()
	if err != nil {
		return err
	}

	handler := r.conn.handler
	timeout := time.Duration(timeoutMs) * time.Millisecond
	// Over the request memory budget: drop silently and let the caller
	// time out rather than blocking the reader.
	r.workers.TrySchedule(len(msg), int(timeoutMs), func() {
		result := make(chan struct{})
		var rep []byte
		var herr error
		go func() {
			rep, herr = handler.HandleRequest(msg, timeout)
			close(result)
		}()

		select {
		case <-result:
		case <-r.workers.Done():
			// Terminate(Immediate) fired while the handler was still
			// running: the connection is tearing down, so there is no
			// point waiting for it or replying.
			return
		}
		if herr != nil {
			r.sendReply(id, false, nil, herr.Error())
			return
		}
		r.sendReply(id, false, rep, "")
	})
	return nil
}

// onReplyFrame decodes an inbound REPLY and signals the matching pending
// request, if one is still being waited on.
func (r *requestScheme) onReplyFrame() error {
	id, err := r.conn.link.RecvVarint()
	if err != nil {
		return err
	}
	timedOut, err := r.conn.link.RecvBool()
	if err != nil {
		return err
	}

	var success bool
	var reply []byte
	var errMsg string
	if !timedOut {
		if success, err = r.conn.link.RecvBool(); err != nil {
			return err
		}
		if success {
			if reply, err = r.conn.link.RecvBinary(); err != nil {
				return err
			}
		} else {
			if errMsg, err = r.conn.link.RecvString(); err != nil {
				return err
			}
		}
	}

	r.lock.Lock()
	pr, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.lock.Unlock()
	if !ok {
		return nil // Caller already gave up; frame fully drained above.
	}

	pr.timeout = timedOut
	if !timedOut && !success {
		pr.err = &RemoteError{Message: errMsg}
	} else {
		pr.reply = reply
	}
	pr.done <- struct{}{}
	return nil
}

// sendReply emits an outbound REPLY frame for an inbound request's result.
func (r *requestScheme) sendReply(id uint64, timeout bool, payload []byte, errMsg string) {
	l := r.conn.link
	l.Lock()
	defer l.Unlock()

	if err := l.SendByte(byte(opReply)); err != nil {
		return
	}
	if err := l.SendVarint(id); err != nil {
		return
	}
	if err := l.SendBool(timeout); err != nil {
		return
	}
	if timeout {
		l.Flush()
		return
	}
	success := errMsg == ""
	if err := l.SendBool(success); err != nil {
		return
	}
	if success {
		l.SendBinary(payload)
	} else {
		l.SendString(errMsg)
	}
	l.Flush()
}

// terminate signals every still-pending request with err so their callers
// unblock instead of waiting forever on a socket that is going away.
func (r *requestScheme) terminate(err error) {
	r.lock.Lock()
	pending := r.pending
	r.pending = make(map[uint64]*pendingRequest)
	r.lock.Unlock()

	for _, pr := range pending {
		pr.err = err
		pr.done <- struct{}{}
	}
	r.workers.Terminate(pool.Graceful)
}
