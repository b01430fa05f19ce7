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

import "strings"

// validateRemoteCluster checks a cluster name addressed by broadcast,
// request or tunnel: it must be non-empty.
func validateRemoteCluster(cluster string) error {
	if len(cluster) == 0 {
		return &ArgumentError{Message: "cluster name empty"}
	}
	return nil
}

// validateLocalCluster checks the cluster name a service registers under:
// it must be non-empty and must not contain ':', the separator the relay
// uses internally to qualify cluster-local addresses.
func validateLocalCluster(cluster string) error {
	if len(cluster) == 0 {
		return &ArgumentError{Message: "cluster name empty"}
	}
	if strings.Contains(cluster, ":") {
		return &ArgumentError{Message: "cluster name contains ':'"}
	}
	return nil
}

// validateTopic checks a publish/subscribe topic name: it must be
// non-empty. Topics share no namespace with clusters.
func validateTopic(topic string) error {
	if len(topic) == 0 {
		return &ArgumentError{Message: "topic name empty"}
	}
	return nil
}
