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

// Broadcast fans msg out, best-effort, to every member of cluster.
func (c *Connection) Broadcast(cluster string, msg []byte) error {
	return c.broadcast.Broadcast(cluster, msg)
}

// Request sends msg to cluster and blocks for a reply or timeoutMs
// milliseconds (0 meaning unbounded).
func (c *Connection) Request(cluster string, msg []byte, timeoutMs int) ([]byte, error) {
	return c.request.Request(cluster, msg, timeoutMs)
}

// Subscribe registers handler to receive events published to topic.
func (c *Connection) Subscribe(topic string, handler TopicHandler, limits ...Limits) error {
	return c.pubsub.Subscribe(topic, handler, limits...)
}

// Unsubscribe tears down a previous Subscribe.
func (c *Connection) Unsubscribe(topic string) error {
	return c.pubsub.Unsubscribe(topic)
}

// Publish emits msg to every subscriber of topic.
func (c *Connection) Publish(topic string, msg []byte) error {
	return c.pubsub.Publish(topic, msg)
}

// Tunnel constructs a new tunnel to cluster, blocking until accepted,
// refused, or timeoutMs milliseconds elapse.
func (c *Connection) Tunnel(cluster string, timeoutMs int) (*Tunnel, error) {
	return c.tunnel.Tunnel(cluster, timeoutMs)
}

// Service is a thin wrapper around a registered Connection, returned by
// Register, that scopes the public API to what a cluster member needs.
type Service struct {
	conn *Connection
}

// Broadcast fans msg out, best-effort, to every member of cluster.
func (s *Service) Broadcast(cluster string, msg []byte) error {
	return s.conn.Broadcast(cluster, msg)
}

// Request sends msg to cluster and blocks for a reply or timeoutMs
// milliseconds (0 meaning unbounded).
func (s *Service) Request(cluster string, msg []byte, timeoutMs int) ([]byte, error) {
	return s.conn.Request(cluster, msg, timeoutMs)
}

// Subscribe registers handler to receive events published to topic.
func (s *Service) Subscribe(topic string, handler TopicHandler, limits ...Limits) error {
	return s.conn.Subscribe(topic, handler, limits...)
}

// Unsubscribe tears down a previous Subscribe.
func (s *Service) Unsubscribe(topic string) error {
	return s.conn.Unsubscribe(topic)
}

// Publish emits msg to every subscriber of topic.
func (s *Service) Publish(topic string, msg []byte) error {
	return s.conn.Publish(topic, msg)
}

// Tunnel constructs a new tunnel to cluster.
func (s *Service) Tunnel(cluster string, timeoutMs int) (*Tunnel, error) {
	return s.conn.Tunnel(cluster, timeoutMs)
}

// Unregister tears down the underlying connection, deregistering this
// service from its cluster.
func (s *Service) Unregister() error {
	return s.conn.Close()
}
