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

	"github.com/project-iris/iris-go/pool"
)

// topicSubscription pairs a subscribed topic's handler with the bounded
// worker pool dedicated to it, so one slow or flooded topic cannot starve
// another's delivery budget.
type topicSubscription struct {
	handler TopicHandler
	workers *pool.Pool
}

// pubsubScheme implements the publish/subscribe sub-protocol: each local
// subscription owns its own worker pool, dispatched to on every inbound
// PUBLISH for that topic.
type pubsubScheme struct {
	conn *Connection

	lock   sync.RWMutex
	topics map[string]*topicSubscription
}

func newPubsubScheme(conn *Connection) *pubsubScheme {
	return &pubsubScheme{conn: conn, topics: make(map[string]*topicSubscription)}
}

// Subscribe registers handler to receive events published to topic. An
// optional Limits overrides the default per-topic worker pool sizing.
func (p *pubsubScheme) Subscribe(topic string, handler TopicHandler, limits ...Limits) error {
	if err := validateTopic(topic); err != nil {
		return err
	}
	lim := Limits{}
	if len(limits) > 0 {
		lim = limits[0]
	}
	lim = defaultLimits(lim)

	p.lock.Lock()
	if _, ok := p.topics[topic]; ok {
		p.lock.Unlock()
		return &ArgumentError{Message: "already subscribed to topic: " + topic}
	}
	sub := &topicSubscription{
		handler: handler,
		workers: pool.New(lim.EventThreads, lim.EventMemory),
	}
	p.topics[topic] = sub
	p.lock.Unlock()

	l := p.conn.link
	l.Lock()
	err := func() error {
		if err := l.SendByte(byte(opSubscribe)); err != nil {
			return err
		}
		if err := l.SendString(topic); err != nil {
			return err
		}
		return l.Flush()
	}()
	l.Unlock()
	if err != nil {
		p.lock.Lock()
		delete(p.topics, topic)
		p.lock.Unlock()
		return err
	}
	return nil
}

// Unsubscribe tears down a previous Subscribe, draining the topic's worker
// pool gracefully (already-dispatched events finish; no new ones admit).
func (p *pubsubScheme) Unsubscribe(topic string) error {
	p.lock.Lock()
	sub, ok := p.topics[topic]
	if ok {
		delete(p.topics, topic)
	}
	p.lock.Unlock()
	if !ok {
		return &ArgumentError{Message: "not subscribed to topic: " + topic}
	}
	sub.workers.Terminate(pool.Graceful)

	l := p.conn.link
	l.Lock()
	err := func() error {
		if err := l.SendByte(byte(opUnsubscribe)); err != nil {
			return err
		}
		if err := l.SendString(topic); err != nil {
			return err
		}
		return l.Flush()
	}()
	l.Unlock()
	return err
}

// Publish emits msg to every subscriber of topic across the overlay.
func (p *pubsubScheme) Publish(topic string, msg []byte) error {
	if err := validateTopic(topic); err != nil {
		return err
	}
	l := p.conn.link
	l.Lock()
	defer l.Unlock()

	if err := l.SendByte(byte(opPublish)); err != nil {
		return err
	}
	if err := l.SendString(topic); err != nil {
		return err
	}
	if err := l.SendBinary(msg); err != nil {
		return err
	}
	return l.Flush()
}

// onFrame decodes an inbound PUBLISH{topic, bytes} and schedules delivery
// onto the topic's own worker pool, dropping it silently if that topic's
// subscription was already torn down or its memory budget is saturated.
func (p *pubsubScheme) onFrame() error {
	topic, err := p.conn.link.RecvString()
	if err != nil {
		return err
	}
	msg, err := p.conn.link.RecvBinary()
	if err != nil {
		return err
	}

	p.lock.RLock()
	sub, ok := p.topics[topic]
	p.lock.RUnlock()
	if !ok {
		return nil
	}
	sub.workers.TrySchedule(len(msg), 0, func() {
		sub.handler.HandleEvent(msg)
	})
	return nil
}

// terminate stops every subscribed topic's worker pool. mode is Graceful
// for a clean shutdown handshake or Immediate for a fatal transport error.
func (p *pubsubScheme) terminate(mode pool.Mode) {
	p.lock.Lock()
	topics := p.topics
	p.topics = make(map[string]*topicSubscription)
	p.lock.Unlock()

	for _, sub := range topics {
		sub.workers.Terminate(mode)
	}
}
