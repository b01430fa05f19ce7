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

// Package pool implements a bounded worker pool used to execute inbound
// handler invocations (broadcasts, requests, events) without ever letting
// the relay's single reader goroutine block on application code.
//
// Admission is synchronous and blocking on memory: a caller handing off a
// task waits until the cumulative memory budget has room. Once admitted,
// the task itself is queued asynchronously and waits there for a free
// worker slot, so the admitting goroutine (almost always the relay's reader
// loop) never blocks on the worker count or on handler execution.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Mode selects the behaviour of Terminate.
type Mode int

const (
	// Graceful waits for every admitted task to finish running.
	Graceful Mode = iota
	// Immediate drops tasks still waiting for a worker slot and asks
	// running tasks to wind down at their next cooperative checkpoint.
	Immediate
)

// ErrClosed is the error value for a terminated pool. Schedule and
// TrySchedule do not return it: they report a terminated pool by returning
// false.
var ErrClosed = errors.New("pool: terminated")

// Pool bounds the number of concurrently executing tasks and the amount of
// memory their payloads may occupy simultaneously.
type Pool struct {
	maxWorkers int
	tokens     chan struct{} // one buffered slot per concurrent worker

	mem *semaphore.Weighted // cumulative in-flight memory budget

	lock     sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	cancel   chan struct{} // closed by Terminate(Immediate)
	memCtx   context.Context
	memAbort context.CancelFunc
}

// New creates a worker pool that runs at most maxWorkers tasks concurrently,
// whose combined scheduled cost never exceeds maxMemory. maxWorkers must be
// at least 1; maxMemory of 0 means no task carrying a positive cost can ever
// be admitted.
func New(maxWorkers int, maxMemory int) *Pool {
	if maxWorkers < 1 {
		panic("pool: maxWorkers must be >= 1")
	}
	if maxMemory < 0 {
		panic("pool: maxMemory must be >= 0")
	}
	ctx, abort := context.WithCancel(context.Background())
	p := &Pool{
		maxWorkers: maxWorkers,
		tokens:     make(chan struct{}, maxWorkers),
		mem:        semaphore.NewWeighted(int64(maxMemory)),
		cancel:     make(chan struct{}),
		memCtx:     ctx,
		memAbort:   abort,
	}
	for i := 0; i < maxWorkers; i++ {
		p.tokens <- struct{}{}
	}
	return p
}

// Schedule admits a task of the given memory cost. It blocks until there is
// enough memory budget free (admission has no deadline of its own). Once
// admitted, the task is queued for execution; if it has not started running
// within timeoutMs (0 meaning never), it is silently discarded and its
// memory cost refunded. Negative costs are rejected outright.
func (p *Pool) Schedule(cost int, timeoutMs int, task func()) bool {
	if cost < 0 {
		return false
	}
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return false
	}
	p.lock.Unlock()

	if err := p.mem.Acquire(p.memCtx, int64(cost)); err != nil {
		return false // pool terminated immediately while waiting on memory
	}

	p.wg.Add(1)
	go p.run(cost, timeoutMs, task)
	return true
}

// TrySchedule behaves like Schedule but never blocks on memory admission:
// if the budget cannot absorb cost right now, it returns false immediately
// instead of waiting for room to free up. The relay's single reader
// goroutine uses this for inbound broadcast/request/event dispatch, since
// blocking the reader on one saturated subscription's memory budget would
// stall every other operation multiplexed over the same connection.
func (p *Pool) TrySchedule(cost int, timeoutMs int, task func()) bool {
	if cost < 0 {
		return false
	}
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return false
	}
	p.lock.Unlock()

	if !p.mem.TryAcquire(int64(cost)) {
		return false
	}

	p.wg.Add(1)
	go p.run(cost, timeoutMs, task)
	return true
}

// run waits for a free worker slot, subject to the admission timeout and
// immediate-termination signal, then executes the task and releases both
// the worker slot and the memory budget.
func (p *Pool) run(cost int, timeoutMs int, task func()) {
	defer p.wg.Done()

	var deadline <-chan time.Time
	if timeoutMs > 0 {
		timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-p.tokens:
		defer func() { p.tokens <- struct{}{} }()
		task()
	case <-deadline:
		// Admitted but never started in time; drop silently.
	case <-p.cancel:
		// Immediate termination while still queued; drop silently.
	}
	p.mem.Release(int64(cost))
}

// Terminate stops the pool. Graceful blocks until every admitted task has
// finished; tasks still queued for a worker slot run when one frees up
// (unless their admission timeout expires first). Immediate instead drops tasks still waiting
// for a worker slot or for memory admission, then waits for whatever was
// already executing to return; Go cannot forcibly preempt a running
// goroutine, so "cancellation" of running tasks is advisory only; tasks
// that want to cooperate can select on Done().
func (p *Pool) Terminate(mode Mode) {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return
	}
	p.closed = true
	p.lock.Unlock()

	if mode == Immediate {
		close(p.cancel)
		p.memAbort()
	}
	p.wg.Wait()
}

// Done returns a channel that is closed once Terminate(Immediate) has been
// called, so long-running tasks may observe the cancellation request.
func (p *Pool) Done() <-chan struct{} {
	return p.cancel
}
