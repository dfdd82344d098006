// Copyright 2025 Klassen Software Solutions
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"log/slog"
	"time"
)

// ServerOption is a functional option for configuring the server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	logger   *slog.Logger
	maxConns int

	// Per-connection timeouts. The indication timeout bounds the wait
	// for the start of a new request (zero means wait forever); the byte
	// timeout bounds the bytes within one; the response timeout bounds
	// writing the reply.
	responseTimeout   time.Duration
	byteTimeout       time.Duration
	indicationTimeout time.Duration

	processReadRequests  bool
	processOtherRequests bool

	trace bool
}

func defaultServerOptions() *serverOptions {
	return &serverOptions{
		logger:            slog.Default(),
		maxConns:          100,
		responseTimeout:   DefaultResponseTimeout,
		byteTimeout:       DefaultByteTimeout,
		indicationTimeout: DefaultIndicationTimeout,
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithMaxConnections sets the maximum number of concurrent connections.
func WithMaxConnections(n int) ServerOption {
	return func(o *serverOptions) {
		o.maxConns = n
	}
}

// WithResponseTimeout bounds writing a reply to a client.
func WithResponseTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.responseTimeout = d
	}
}

// WithByteTimeout bounds reading the remainder of a request once its
// first bytes have arrived.
func WithByteTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.byteTimeout = d
	}
}

// WithIndicationTimeout bounds the wait for the next request on an idle
// connection. Zero waits forever.
func WithIndicationTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.indicationTimeout = d
	}
}

// WithProcessReadRequests routes read requests through the registered
// RequestHandler. Off by default: most servers only need to react to
// writes, and a polling client issues many more reads.
func WithProcessReadRequests(enable bool) ServerOption {
	return func(o *serverOptions) {
		o.processReadRequests = enable
	}
}

// WithProcessOtherRequests routes unmodeled function codes through the
// registered RequestHandler instead of answering IllegalFunction.
func WithProcessOtherRequests(enable bool) ServerOption {
	return func(o *serverOptions) {
		o.processOtherRequests = enable
	}
}

// WithTrace enables low-level tracing of received and sent frames at
// debug level.
func WithTrace(enable bool) ServerOption {
	return func(o *serverOptions) {
		o.trace = enable
	}
}

// Option is a functional option for configuring the client.
type Option func(*clientOptions)

type clientOptions struct {
	unitID  UnitID
	timeout time.Duration
	logger  *slog.Logger
}

func defaultClientOptions() *clientOptions {
	return &clientOptions{
		unitID:  1,
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}
}

// WithUnitID sets the unit ID used for requests.
func WithUnitID(id UnitID) Option {
	return func(o *clientOptions) {
		o.unitID = id
	}
}

// WithTimeout sets the per-operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}
