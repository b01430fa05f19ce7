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
	"fmt"
	"time"

	"gopkg.in/inconshreveable/log15.v2"
)

// log is the package-wide root logger; every Connection forks a child off
// of it carrying its own id so interleaved connections stay distinguishable.
var log = log15.New()

// logLazyBlob defers hex-summarizing a payload until (and unless) the log
// record is actually formatted, so debug logging of multi-megabyte tunnel
// chunks costs nothing when the Debug level is filtered out.
type logLazyBlob []byte

func (b logLazyBlob) String() string {
	const max = 32
	if len(b) <= max {
		return fmt.Sprintf("%x", []byte(b))
	}
	return fmt.Sprintf("%x...(%d bytes)", []byte(b[:max]), len(b))
}

// logLazyTimeout renders a timeout duration as "none" for the sentinel
// zero value used throughout this package to mean "block forever".
type logLazyTimeout time.Duration

func (d logLazyTimeout) String() string {
	if d == 0 {
		return "none"
	}
	return time.Duration(d).String()
}
