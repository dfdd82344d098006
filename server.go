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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Server is a Modbus TCP server.
//
// Every receive/decode/dispatch cycle and every UpdateAddressSpace call
// is serialized on a single lock, so at most one party touches the
// mapping storage at any instant. Requests on one connection are
// processed and replied to strictly in receipt order; across connections
// there is no ordering beyond that mutual exclusion.
type Server struct {
	handler Handler
	opts    *serverOptions

	// stateMu is the single arbitration point for the shared mapping.
	stateMu sync.Mutex
	mapping *mapping

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   int32
	wg       sync.WaitGroup
	metrics  *ServerMetrics
}

// NewServer creates a new Modbus TCP server. The handler describes the
// address space to provision; if it also implements RequestHandler it
// is consulted per request.
func NewServer(handler Handler, opts ...ServerOption) *Server {
	options := defaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Server{
		handler: handler,
		opts:    options,
		conns:   make(map[net.Conn]struct{}),
		metrics: NewServerMetrics(),
	}
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *ServerMetrics {
	return s.metrics
}

// Configure validates the descriptor and (re)allocates the mapping
// storage for all four object kinds, replacing any prior mapping. Any
// view handed out before this call must no longer be used.
func (s *Server) Configure(desc AddressSpaceDescriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}

	s.stateMu.Lock()
	s.mapping = newMapping(desc)
	s.stateMu.Unlock()
	return nil
}

// UpdateAddressSpace exposes the shared address space to caller logic
// outside of request handling, serialized identically to it. The views
// passed to fn are only valid until fn returns.
func (s *Server) UpdateAddressSpace(fn func(space *AddressSpace) error) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.mapping == nil {
		return ErrNotConfigured
	}
	return fn(s.mapping.view())
}

// UpdateAddressSpaceAsync runs fn like UpdateAddressSpace but on its own
// goroutine; a failure is logged instead of returned.
func (s *Server) UpdateAddressSpaceAsync(fn func(space *AddressSpace) error) {
	go func() {
		if err := s.UpdateAddressSpace(fn); err != nil {
			s.opts.logger.Error("address space update failed",
				slog.String("error", err.Error()))
		}
	}()
}

// ListenAndServe starts the server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	if s.handler == nil {
		return ErrNoHandler
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// ListenAndServeContext starts the server and shuts it down when the
// context is canceled.
func (s *Server) ListenAndServeContext(ctx context.Context, addr string) error {
	if s.handler == nil {
		return ErrNoHandler
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	return s.Serve(listener)
}

// Serve starts serving connections on the given listener. The address
// space is provisioned from the handler's descriptor unless Configure
// was already called.
func (s *Server) Serve(listener net.Listener) error {
	if s.handler == nil {
		return ErrNoHandler
	}

	s.stateMu.Lock()
	configured := s.mapping != nil
	s.stateMu.Unlock()
	if !configured {
		if err := s.Configure(s.handler.DescribeAddressSpace()); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.opts.logger.Info("server started", slog.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.closed) == 1 {
				return nil
			}
			s.opts.logger.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		if len(s.conns) >= s.opts.maxConns {
			s.mu.Unlock()
			s.opts.logger.Warn("max connections reached, rejecting",
				slog.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.metrics.ActiveConns.Add(1)
		s.metrics.TotalConns.Add(1)
		s.mu.Unlock()

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(30 * time.Second)
			tcpConn.SetNoDelay(true)
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Close shuts down the server gracefully.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.opts.logger.Info("server stopped")
	return err
}

// Addr returns the server's address.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ActiveConnections returns the number of active connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// handleConn runs the receive/decode/dispatch/reply cycle for one
// connection until the peer closes, a receive times out, or the server
// shuts down. A lost connection terminates only this loop.
func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.opts.logger.Error("panic in connection handler",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}

		s.wg.Done()
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.metrics.ActiveConns.Add(-1)
		s.mu.Unlock()
	}()

	s.opts.logger.Debug("connection accepted",
		slog.String("remote", conn.RemoteAddr().String()))

	for {
		if atomic.LoadInt32(&s.closed) == 1 {
			return
		}

		frame, err := s.receive(conn)
		if err != nil {
			if err != io.EOF && atomic.LoadInt32(&s.closed) == 0 {
				var netErr net.Error
				if !errors.As(err, &netErr) || !netErr.Timeout() {
					s.opts.logger.Debug("read error",
						slog.String("remote", conn.RemoteAddr().String()),
						slog.String("error", err.Error()))
				}
			}
			return
		}

		if s.opts.trace {
			s.opts.logger.Debug("frame received",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.Uint64("tx_id", uint64(frame.Header.TransactionID)),
				slog.Any("pdu", frame.PDU))
		}

		s.metrics.RequestsTotal.Add(1)
		start := timeNow()
		response := s.processRequest(frame)
		s.metrics.Latency.Observe(timeNow().Sub(start))

		if s.opts.responseTimeout > 0 {
			conn.SetWriteDeadline(timeNow().Add(s.opts.responseTimeout))
		}

		if err := WriteFrame(conn, response); err != nil {
			s.metrics.RequestsErrors.Add(1)
			s.opts.logger.Debug("write error",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.String("error", err.Error()))
			return
		}

		s.metrics.RequestsSuccess.Add(1)
	}
}

// receive reads one frame, bounding the wait for a new request by the
// indication timeout and the remainder of the frame by the byte timeout.
func (s *Server) receive(conn net.Conn) (*Frame, error) {
	if s.opts.indicationTimeout > 0 {
		conn.SetReadDeadline(timeNow().Add(s.opts.indicationTimeout))
	} else {
		conn.SetReadDeadline(time.Time{})
	}

	header, err := readFrameHeader(conn)
	if err != nil {
		return nil, err
	}

	if s.opts.byteTimeout > 0 {
		conn.SetReadDeadline(timeNow().Add(s.opts.byteTimeout))
	}
	return readFrameBody(conn, header)
}

// processRequest runs decode and dispatch for one frame and builds the
// response frame. The shared-state lock is held only for the dispatch.
func (s *Server) processRequest(req *Frame) *Frame {
	resp := &Frame{
		Header: MBAPHeader{
			TransactionID: req.Header.TransactionID,
			ProtocolID:    ProtocolID,
			UnitID:        req.Header.UnitID,
		},
	}

	request, err := DecodeRequest(req.PDU)
	if err != nil {
		var mberr *ModbusError
		if errors.As(err, &mberr) {
			resp.PDU = exceptionPDU(mberr.FunctionCode, mberr.ExceptionCode)
		} else {
			resp.PDU = exceptionPDU(0, ExceptionServerDeviceFailure)
		}
		s.metrics.Exceptions.Add(1)
		return resp
	}

	fc := request.FunctionCode()
	s.opts.logger.Debug("processing request",
		slog.Uint64("tx_id", uint64(req.Header.TransactionID)),
		slog.Uint64("unit_id", uint64(req.Header.UnitID)),
		slog.String("func", fc.String()))

	fm := s.metrics.ForFunction(fc)
	fm.Requests.Add(1)

	s.stateMu.Lock()
	pdu := s.dispatch(request, s.mapping.view())
	s.stateMu.Unlock()

	if len(pdu) > 0 && pdu[0]&0x80 != 0 {
		s.metrics.Exceptions.Add(1)
		fm.Exceptions.Add(1)
	}

	resp.PDU = pdu
	return resp
}

// timeNow is a variable for testing.
var timeNow = time.Now
