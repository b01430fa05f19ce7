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
	"time"

	"github.com/project-iris/iris-go/container/queue"
	"gopkg.in/inconshreveable/log15.v2"
)

// Tunnel is an ordered, credit-flow-controlled byte stream between this
// connection and a single remote endpoint, multiplexed alongside every
// other scheme on the same relay link. Message boundaries are preserved:
// whatever was handed to Send arrives whole (possibly chunked in transit)
// from Recv.
type Tunnel struct {
	id     uint64
	scheme *tunnelScheme

	chunkLimit int
	chunkBuf   []byte

	itoaBuf  *queue.Queue
	itoaSign chan struct{}
	itoaLock sync.Mutex

	atoiSpace int
	atoiSign  chan struct{}
	atoiLock  sync.Mutex

	initDone chan int // Signalled once with the negotiated chunk limit, or 0 on failure
	term     chan struct{}
	termOnce sync.Once
	stat     error

	Log log15.Logger
}

func newTunnel(s *tunnelScheme, id uint64) *Tunnel {
	return &Tunnel{
		id:       id,
		scheme:   s,
		itoaBuf:  queue.New(),
		itoaSign: make(chan struct{}, 1),
		atoiSign: make(chan struct{}, 1),
		initDone: make(chan int, 1),
		term:     make(chan struct{}),
		Log:      s.conn.Log.New("tunnel", id),
	}
}

// tunnelScheme implements the tunnel sub-protocol: construction and accept
// handshakes, credit-based flow control, and chunk reassembly, for every
// Tunnel multiplexed onto the owning Connection.
type tunnelScheme struct {
	conn *Connection

	lock   sync.Mutex
	nextID uint64
	live   map[uint64]*Tunnel
}

func newTunnelScheme(conn *Connection) *tunnelScheme {
	return &tunnelScheme{conn: conn, live: make(map[uint64]*Tunnel)}
}

// Tunnel constructs a new tunnel to cluster, blocking until the remote end
// accepts, refuses (timeout), or the connection terminates.
func (s *tunnelScheme) Tunnel(cluster string, timeoutMs int) (*Tunnel, error) {
	if err := validateRemoteCluster(cluster); err != nil {
		return nil, err
	}

	s.lock.Lock()
	id := s.nextID
	s.nextID++
	tun := newTunnel(s, id)
	s.live[id] = tun
	s.lock.Unlock()

	tun.Log.Info("constructing outbound tunnel", "cluster", cluster, "timeout_ms", timeoutMs)

	l := s.conn.link
	l.Lock()
	err := func() error {
		if err := l.SendByte(byte(opTunInit)); err != nil {
			return err
		}
		if err := l.SendVarint(id); err != nil {
			return err
		}
		if err := l.SendString(cluster); err != nil {
			return err
		}
		if err := l.SendVarint(uint64(timeoutMs)); err != nil {
			return err
		}
		return l.Flush()
	}()
	l.Unlock()

	if err == nil {
		select {
		case chunkLimit := <-tun.initDone:
			if chunkLimit > 0 {
				tun.chunkLimit = chunkLimit
				if err = s.sendAllowance(id, DefaultTunnelBuffer); err == nil {
					tun.Log.Info("tunnel construction completed", "chunk_limit", chunkLimit)
					return tun, nil
				}
			} else {
				err = ErrTimeout
			}
		case <-s.conn.term:
			err = ErrTerminating
		}
	}

	s.lock.Lock()
	delete(s.live, id)
	s.lock.Unlock()

	tun.Log.Warn("tunnel construction failed", "reason", err)
	return nil, err
}

// Send splits message into chunks no larger than the negotiated chunk
// limit and transmits each once enough send credit is available,
// blocking until that happens or timeout elapses (0 meaning forever).
func (t *Tunnel) Send(message []byte, timeout time.Duration) error {
	t.Log.Debug("sending message", "data", logLazyBlob(message), "timeout", logLazyTimeout(timeout))
	if len(message) == 0 {
		return &ArgumentError{Message: "nil or empty tunnel message"}
	}

	var deadline <-chan time.Time
	if timeout != 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for pos := 0; pos < len(message); pos += t.chunkLimit {
		end := pos + t.chunkLimit
		if end > len(message) {
			end = len(message)
		}
		sizeOrCont := len(message)
		if pos != 0 {
			sizeOrCont = 0
		}
		if err := t.sendChunk(message[pos:end], sizeOrCont, deadline); err != nil {
			return err
		}
	}
	return nil
}

// sendChunk transmits a single chunk once send credit covers its length.
func (t *Tunnel) sendChunk(chunk []byte, sizeOrCont int, deadline <-chan time.Time) error {
	for {
		if t.drainAllowance(len(chunk)) {
			return t.scheme.sendTransfer(t.id, sizeOrCont, chunk)
		}
		select {
		case <-t.term:
			return ErrClosed
		case <-deadline:
			return ErrTimeout
		case <-t.atoiSign:
			continue
		}
	}
}

// drainAllowance deducts need from the outbound credit balance and
// reports whether there was enough to cover it.
func (t *Tunnel) drainAllowance(need int) bool {
	t.atoiLock.Lock()
	defer t.atoiLock.Unlock()

	if t.atoiSpace >= need {
		t.atoiSpace -= need
		return true
	}
	drainSignal(t.atoiSign)
	return false
}

// Recv blocks for the next whole message, or until timeout elapses (0
// meaning forever).
func (t *Tunnel) Recv(timeout time.Duration) ([]byte, error) {
	if msg := t.fetchMessage(); msg != nil {
		return msg, nil
	}
	var deadline <-chan time.Time
	if timeout != 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-t.term:
		return nil, ErrClosed
	case <-deadline:
		return nil, ErrTimeout
	case <-t.itoaSign:
		if msg := t.fetchMessage(); msg != nil {
			return msg, nil
		}
		return nil, ErrProtocol
	}
}

// fetchMessage pops the next reassembled message if one is queued,
// refunding its length to the remote sender's credit balance.
func (t *Tunnel) fetchMessage() []byte {
	t.itoaLock.Lock()
	defer t.itoaLock.Unlock()

	if !t.itoaBuf.Empty() {
		message := t.itoaBuf.Pop().([]byte)
		go t.scheme.sendAllowance(t.id, len(message))
		t.Log.Debug("fetching queued message", "data", logLazyBlob(message))
		return message
	}
	drainSignal(t.itoaSign)
	return nil
}

// Close tears the tunnel down, blocking until the relay acknowledges.
func (t *Tunnel) Close() error {
	select {
	case <-t.term:
		return t.stat
	default:
	}
	t.Log.Info("closing tunnel")
	if err := t.scheme.sendClose(t.id, ""); err != nil {
		return err
	}
	<-t.term
	return t.stat
}

// handleInitResult finalizes construction: chunkLimit > 0 is success, 0
// is a remote-side timeout.
func (t *Tunnel) handleInitResult(chunkLimit int) {
	t.initDone <- chunkLimit
}

// handleAllowance credits space to the outbound send balance.
func (t *Tunnel) handleAllowance(space int) {
	t.atoiLock.Lock()
	defer t.atoiLock.Unlock()

	t.atoiSpace += space
	select {
	case t.atoiSign <- struct{}{}:
	default:
	}
}

// handleTransfer appends chunk to the message currently being assembled
// (starting a new one if size != 0) and queues it once complete.
func (t *Tunnel) handleTransfer(size int, chunk []byte) {
	if size != 0 {
		if t.chunkBuf != nil {
			t.Log.Warn("incomplete message discarded", "wanted", cap(t.chunkBuf), "got", len(t.chunkBuf))
			go t.scheme.sendAllowance(t.id, len(t.chunkBuf))
		}
		t.chunkBuf = make([]byte, 0, size)
	}
	t.chunkBuf = append(t.chunkBuf, chunk...)
	if len(t.chunkBuf) == cap(t.chunkBuf) {
		t.itoaLock.Lock()
		t.Log.Debug("queuing arrived message", "data", logLazyBlob(t.chunkBuf))
		t.itoaBuf.Push(t.chunkBuf)
		t.chunkBuf = nil
		select {
		case t.itoaSign <- struct{}{}:
		default:
		}
		t.itoaLock.Unlock()
	}
}

// handleClose finalizes a tunnel's teardown, local or remote.
func (t *Tunnel) handleClose(reason string) {
	if reason != "" {
		t.Log.Warn("tunnel dropped", "reason", reason)
		t.stat = &ClosedError{Reason: reason}
	} else {
		t.Log.Info("tunnel closed")
	}
	t.termOnce.Do(func() { close(t.term) })
}

// drainSignal empties a single-slot signal channel without blocking.
func drainSignal(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}

// sendTransfer emits an outbound TUN_TRANSFER carrying one chunk.
func (s *tunnelScheme) sendTransfer(id uint64, sizeOrCont int, chunk []byte) error {
	l := s.conn.link
	l.Lock()
	defer l.Unlock()

	if err := l.SendByte(byte(opTunTransfer)); err != nil {
		return err
	}
	if err := l.SendVarint(id); err != nil {
		return err
	}
	if err := l.SendVarint(uint64(sizeOrCont)); err != nil {
		return err
	}
	if err := l.SendBinary(chunk); err != nil {
		return err
	}
	return l.Flush()
}

// sendAllowance emits an outbound TUN_ALLOW crediting space bytes to the
// remote endpoint's send balance.
func (s *tunnelScheme) sendAllowance(id uint64, space int) error {
	l := s.conn.link
	l.Lock()
	defer l.Unlock()

	if err := l.SendByte(byte(opTunAllow)); err != nil {
		return err
	}
	if err := l.SendVarint(id); err != nil {
		return err
	}
	if err := l.SendVarint(uint64(space)); err != nil {
		return err
	}
	return l.Flush()
}

// sendClose emits an outbound TUN_CLOSE, optionally carrying a fault reason.
func (s *tunnelScheme) sendClose(id uint64, reason string) error {
	l := s.conn.link
	l.Lock()
	defer l.Unlock()

	if err := l.SendByte(byte(opTunClose)); err != nil {
		return err
	}
	if err := l.SendVarint(id); err != nil {
		return err
	}
	if err := l.SendString(reason); err != nil {
		return err
	}
	return l.Flush()
}

// onInitFrame decodes an inbound TUN_INIT{init_id, chunk_limit}: the relay
// offering a newly constructed remote tunnel. It allocates the local
// endpoint, confirms acceptance, grants the initial receive allowance, and
// hands the tunnel to the application handler.
func (s *tunnelScheme) onInitFrame() error {
	initID, err := s.conn.link.RecvVarint()
	if err != nil {
		return err
	}
	chunkLimit, err := s.conn.link.RecvVarint()
	if err != nil {
		return err
	}

	s.lock.Lock()
	id := s.nextID
	s.nextID++
	tun := newTunnel(s, id)
	tun.chunkLimit = int(chunkLimit)
	s.live[id] = tun
	s.lock.Unlock()

	tun.Log.Info("accepting inbound tunnel", "chunk_limit", chunkLimit)

	l := s.conn.link
	l.Lock()
	err = func() error {
		if err := l.SendByte(byte(opTunConfirm)); err != nil {
			return err
		}
		if err := l.SendVarint(initID); err != nil {
			return err
		}
		if err := l.SendVarint(id); err != nil {
			return err
		}
		return l.Flush()
	}()
	l.Unlock()
	if err != nil {
		s.lock.Lock()
		delete(s.live, id)
		s.lock.Unlock()
		return err
	}

	if err := s.sendAllowance(id, DefaultTunnelBuffer); err != nil {
		return err
	}

	handler := s.conn.handler
	go handler.HandleTunnel(tun)
	return nil
}

// onConfirmFrame decodes an inbound TUN_CONFIRM{tunnel_id, chunk_limit},
// the relay's answer to a construction request we initiated: chunk_limit
// of 0 means the construction timed out.
func (s *tunnelScheme) onConfirmFrame() error {
	id, err := s.conn.link.RecvVarint()
	if err != nil {
		return err
	}
	chunkLimit, err := s.conn.link.RecvVarint()
	if err != nil {
		return err
	}

	s.lock.Lock()
	tun, ok := s.live[id]
	s.lock.Unlock()
	if !ok {
		return nil
	}
	tun.handleInitResult(int(chunkLimit))
	return nil
}

// onAllowFrame decodes an inbound TUN_ALLOW{tunnel_id, space}.
func (s *tunnelScheme) onAllowFrame() error {
	id, err := s.conn.link.RecvVarint()
	if err != nil {
		return err
	}
	space, err := s.conn.link.RecvVarint()
	if err != nil {
		return err
	}

	s.lock.Lock()
	tun, ok := s.live[id]
	s.lock.Unlock()
	if ok {
		tun.handleAllowance(int(space))
	}
	return nil
}

// onTransferFrame decodes an inbound TUN_TRANSFER{tunnel_id, size_or_cont, chunk}.
func (s *tunnelScheme) onTransferFrame() error {
	id, err := s.conn.link.RecvVarint()
	if err != nil {
		return err
	}
	sizeOrCont, err := s.conn.link.RecvVarint()
	if err != nil {
		return err
	}
	chunk, err := s.conn.link.RecvBinary()
	if err != nil {
		return err
	}

	s.lock.Lock()
	tun, ok := s.live[id]
	s.lock.Unlock()
	if !ok {
		return nil
	}
	tun.handleTransfer(int(sizeOrCont), chunk)
	return nil
}

// onCloseFrame decodes an inbound TUN_CLOSE{tunnel_id, reason} and retires
// the tunnel, whether this is the relay's ack of our own Close or a
// remote-initiated teardown.
func (s *tunnelScheme) onCloseFrame() error {
	id, err := s.conn.link.RecvVarint()
	if err != nil {
		return err
	}
	reason, err := s.conn.link.RecvString()
	if err != nil {
		return err
	}

	s.lock.Lock()
	tun, ok := s.live[id]
	if ok {
		delete(s.live, id)
	}
	s.lock.Unlock()
	if ok {
		tun.handleClose(reason)
	}
	return nil
}

// terminate aborts every live tunnel with err, whether pending
// construction or already established.
func (s *tunnelScheme) terminate(err error) {
	s.lock.Lock()
	live := s.live
	s.live = make(map[uint64]*Tunnel)
	s.lock.Unlock()

	for _, tun := range live {
		tun.stat = err
		select {
		case tun.initDone <- 0:
		default:
		}
		tun.termOnce.Do(func() { close(tun.term) })
	}
}
