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
	"bytes"
	"encoding/binary"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func testDescriptor() AddressSpaceDescriptor {
	return AddressSpaceDescriptor{
		Coils:            AddressRange{Start: 0, Count: 64},
		DiscreteInputs:   AddressRange{Start: 0, Count: 64},
		InputRegisters:   AddressRange{Start: 0, Count: 100},
		HoldingRegisters: AddressRange{Start: 0, Count: 100},
	}
}

func newTestServer(t *testing.T, handler Handler, opts ...ServerOption) *Server {
	t.Helper()
	s := NewServer(handler, opts...)
	if err := s.Configure(handler.DescribeAddressSpace()); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	return s
}

func TestDispatchWriteThenRead(t *testing.T) {
	s := newTestServer(t, StaticHandler(AddressSpaceDescriptor{
		HoldingRegisters: AddressRange{Start: 0, Count: 10},
	}))

	pdu := s.dispatch(&WriteSingleRegisterRequest{Address: 3, Value: 42}, s.mapping.view())
	want := []byte{0x06, 0x00, 0x03, 0x00, 0x2A}
	if !bytes.Equal(pdu, want) {
		t.Fatalf("write echo = % X, want % X", pdu, want)
	}

	pdu = s.dispatch(&ReadHoldingRegistersRequest{Address: 0, Quantity: 10}, s.mapping.view())
	if pdu[0] != 0x03 || pdu[1] != 20 {
		t.Fatalf("read reply header = % X", pdu[:2])
	}
	for i := 0; i < 10; i++ {
		v := binary.BigEndian.Uint16(pdu[2+2*i:])
		wantV := uint16(0)
		if i == 3 {
			wantV = 42
		}
		if v != wantV {
			t.Errorf("register %d = %d, want %d", i, v, wantV)
		}
	}
}

func TestDispatchWriteMultipleCoils(t *testing.T) {
	s := newTestServer(t, StaticHandler(testDescriptor()))

	payload := []byte{0xCD, 0x01}
	req := &WriteMultipleCoilsRequest{Address: 20, Values: NewCoilView(20, 10, payload)}
	pdu := s.dispatch(req, s.mapping.view())
	want := []byte{0x0F, 0x00, 0x14, 0x00, 0x0A}
	if !bytes.Equal(pdu, want) {
		t.Fatalf("write echo = % X, want % X", pdu, want)
	}

	pdu = s.dispatch(&ReadCoilsRequest{Address: 20, Quantity: 10}, s.mapping.view())
	if pdu[0] != 0x01 || pdu[1] != 2 {
		t.Fatalf("read reply header = % X", pdu[:2])
	}
	if pdu[2] != 0xCD || pdu[3] != 0x01 {
		t.Errorf("coil bytes = % X, want CD 01", pdu[2:4])
	}
}

func TestDispatchReadUnprovisioned(t *testing.T) {
	s := newTestServer(t, StaticHandler(AddressSpaceDescriptor{
		HoldingRegisters: AddressRange{Start: 0, Count: 10},
	}))

	pdu := s.dispatch(&ReadCoilsRequest{Address: 0, Quantity: 1}, s.mapping.view())
	want := []byte{0x81, byte(ExceptionIllegalDataAddress)}
	if !bytes.Equal(pdu, want) {
		t.Errorf("reply = % X, want % X", pdu, want)
	}
}

func TestDispatchReadOutOfRange(t *testing.T) {
	s := newTestServer(t, StaticHandler(testDescriptor()))

	for _, req := range []Request{
		&ReadHoldingRegistersRequest{Address: 95, Quantity: 10},
		&ReadCoilsRequest{Address: 64, Quantity: 1},
		&ReadInputRegistersRequest{Address: 100, Quantity: 1},
	} {
		pdu := s.dispatch(req, s.mapping.view())
		if pdu[0] != byte(req.FunctionCode())|0x80 || pdu[1] != byte(ExceptionIllegalDataAddress) {
			t.Errorf("%v: reply = % X", req.FunctionCode(), pdu)
		}
	}
}

func TestDispatchReadBadQuantity(t *testing.T) {
	s := newTestServer(t, StaticHandler(testDescriptor()))

	for _, req := range []Request{
		&ReadHoldingRegistersRequest{Address: 0, Quantity: 0},
		&ReadHoldingRegistersRequest{Address: 0, Quantity: MaxQuantityRegisters + 1},
		&ReadCoilsRequest{Address: 0, Quantity: MaxQuantityCoils + 1},
	} {
		pdu := s.dispatch(req, s.mapping.view())
		if pdu[0] != byte(req.FunctionCode())|0x80 || pdu[1] != byte(ExceptionIllegalDataValue) {
			t.Errorf("%v: reply = % X", req.FunctionCode(), pdu)
		}
	}
}

func TestDispatchOtherIllegalFunction(t *testing.T) {
	s := newTestServer(t, StaticHandler(testDescriptor()))

	pdu := s.dispatch(&OtherRequest{Code: 0x2B}, s.mapping.view())
	want := []byte{0xAB, byte(ExceptionIllegalFunction)}
	if !bytes.Equal(pdu, want) {
		t.Errorf("reply = % X, want % X", pdu, want)
	}
}

func TestDispatchHandlerPolicy(t *testing.T) {
	var calls []FunctionCode
	handler := HandlerFuncs{
		Describe: testDescriptor,
		Handle: func(s *Server, req Request, space *AddressSpace) error {
			calls = append(calls, req.FunctionCode())
			return nil
		},
	}

	// Default policy: only writes reach the handler.
	s := newTestServer(t, handler)
	s.dispatch(&ReadCoilsRequest{Address: 0, Quantity: 1}, s.mapping.view())
	s.dispatch(&OtherRequest{Code: 0x2B}, s.mapping.view())
	s.dispatch(&WriteSingleCoilRequest{Address: 0, Value: true}, s.mapping.view())
	if len(calls) != 1 || calls[0] != FuncWriteSingleCoil {
		t.Errorf("default policy calls = %v", calls)
	}

	// Opting in routes reads and unmodeled codes as well.
	calls = nil
	s = newTestServer(t, handler,
		WithProcessReadRequests(true),
		WithProcessOtherRequests(true))
	s.dispatch(&ReadCoilsRequest{Address: 0, Quantity: 1}, s.mapping.view())
	s.dispatch(&OtherRequest{Code: 0x2B}, s.mapping.view())
	if len(calls) != 2 {
		t.Errorf("opt-in policy calls = %v", calls)
	}
}

func TestDispatchHandlerModbusError(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	handler := HandlerFuncs{
		Describe: testDescriptor,
		Handle: func(s *Server, req Request, space *AddressSpace) error {
			return NewModbusError(req.FunctionCode(), ExceptionServerDeviceBusy)
		},
	}
	s := newTestServer(t, handler, WithServerLogger(logger))

	pdu := s.dispatch(&WriteSingleRegisterRequest{Address: 1, Value: 2}, s.mapping.view())
	want := []byte{0x86, byte(ExceptionServerDeviceBusy)}
	if !bytes.Equal(pdu, want) {
		t.Errorf("reply = % X, want % X", pdu, want)
	}

	// A Modbus exception is the protocol's normal error path and must
	// not be logged.
	if logBuf.Len() != 0 {
		t.Errorf("unexpected log output: %s", logBuf.String())
	}
}

func TestDispatchHandlerUnexpectedError(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	handler := HandlerFuncs{
		Describe: testDescriptor,
		Handle: func(s *Server, req Request, space *AddressSpace) error {
			return errors.New("sensor backend on fire")
		},
	}
	s := newTestServer(t, handler, WithServerLogger(logger))

	pdu := s.dispatch(&WriteSingleCoilRequest{Address: 0, Value: true}, s.mapping.view())
	want := []byte{0x85, byte(ExceptionNegativeAcknowledge)}
	if !bytes.Equal(pdu, want) {
		t.Errorf("reply = % X, want % X", pdu, want)
	}

	if !strings.Contains(logBuf.String(), "handler error") {
		t.Errorf("expected a handler error log record, got: %s", logBuf.String())
	}
	if !strings.Contains(logBuf.String(), "sensor backend on fire") {
		t.Errorf("log should carry the cause, got: %s", logBuf.String())
	}
}

func TestDispatchHandlerCanMutate(t *testing.T) {
	// A handler may apply its own semantics before the default reply.
	handler := HandlerFuncs{
		Describe: testDescriptor,
		Handle: func(s *Server, req Request, space *AddressSpace) error {
			if w, ok := req.(*WriteSingleRegisterRequest); ok {
				// Mirror every holding write into an input register.
				return space.InputRegisters.Set(int(w.Address), w.Value)
			}
			return nil
		},
	}
	s := newTestServer(t, handler)

	s.dispatch(&WriteSingleRegisterRequest{Address: 7, Value: 99}, s.mapping.view())

	pdu := s.dispatch(&ReadInputRegistersRequest{Address: 7, Quantity: 1}, s.mapping.view())
	if v := binary.BigEndian.Uint16(pdu[2:]); v != 99 {
		t.Errorf("mirrored input register = %d, want 99", v)
	}
	pdu = s.dispatch(&ReadHoldingRegistersRequest{Address: 7, Quantity: 1}, s.mapping.view())
	if v := binary.BigEndian.Uint16(pdu[2:]); v != 99 {
		t.Errorf("holding register = %d, want 99", v)
	}
}
