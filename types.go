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

// Package modbus implements a Modbus TCP server and a small client.
//
// The server maps incoming requests onto a bounded address space of
// coils, discrete inputs, input registers and holding registers. All
// access to that shared state is serialized, so a handler never observes
// a half-applied write from another connection.
package modbus

import (
	"fmt"
	"time"
)

// UnitID represents the Modbus unit identifier (slave address).
type UnitID uint8

// FunctionCode represents a Modbus function code.
type FunctionCode uint8

// Function codes modeled by the request decoder. Anything else decodes
// to an OtherRequest and receives default handling.
const (
	FuncReadCoils              FunctionCode = 0x01
	FuncReadDiscreteInputs     FunctionCode = 0x02
	FuncReadHoldingRegisters   FunctionCode = 0x03
	FuncReadInputRegisters     FunctionCode = 0x04
	FuncWriteSingleCoil        FunctionCode = 0x05
	FuncWriteSingleRegister    FunctionCode = 0x06
	FuncWriteMultipleCoils     FunctionCode = 0x0F
	FuncWriteMultipleRegisters FunctionCode = 0x10
)

// String returns the conventional name of the function code.
func (fc FunctionCode) String() string {
	switch fc {
	case FuncReadCoils:
		return "ReadCoils"
	case FuncReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case FuncReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncReadInputRegisters:
		return "ReadInputRegisters"
	case FuncWriteSingleCoil:
		return "WriteSingleCoil"
	case FuncWriteSingleRegister:
		return "WriteSingleRegister"
	case FuncWriteMultipleCoils:
		return "WriteMultipleCoils"
	case FuncWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	default:
		return fmt.Sprintf("Func(0x%02X)", uint8(fc))
	}
}

// Protocol constants.
const (
	// MaxQuantityCoils is the maximum number of coils per read or write.
	MaxQuantityCoils = 2000

	// MaxQuantityRegisters is the maximum number of registers per read.
	MaxQuantityRegisters = 125

	// MaxQuantityWriteRegisters is the maximum number of registers per write.
	MaxQuantityWriteRegisters = 123

	// MaxPDUSize is the maximum PDU size in bytes.
	MaxPDUSize = 253

	// MBAPHeaderSize is the size of the MBAP header in bytes.
	MBAPHeaderSize = 7

	// ProtocolID is the Modbus protocol identifier (always 0 for Modbus TCP).
	ProtocolID = 0

	// AddressLimit is the exclusive upper bound of the provisionable
	// address space: every range must satisfy Start+Count <= AddressLimit.
	AddressLimit = 10000

	// DefaultPort is the default Modbus TCP port.
	DefaultPort = 502
)

// Default timeouts applied to the per-connection receive/reply cycle.
const (
	DefaultResponseTimeout   = 500 * time.Millisecond
	DefaultByteTimeout       = 500 * time.Millisecond
	DefaultIndicationTimeout = 0 // wait forever for the next request
)

// Coil values for write-single-coil operations.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// Request is a decoded Modbus request. The concrete types are the
// Read*Request, Write*Request and OtherRequest variants in this package;
// dispatch is by type switch.
type Request interface {
	FunctionCode() FunctionCode
}

// Handler describes the address space a server instance provisions.
// A Handler that also implements RequestHandler is consulted per
// request; otherwise the server applies the default Modbus semantics
// on its own.
type Handler interface {
	// DescribeAddressSpace reports how many objects of each of the four
	// kinds the server should provision and where each range starts.
	DescribeAddressSpace() AddressSpaceDescriptor
}

// RequestHandler is the optional per-request capability of a Handler.
// When the handler returns a *ModbusError the exception code is sent to
// the client verbatim. Any other error is logged and reported as
// NegativeAcknowledge.
//
// The handler is wholly responsible for whatever validation and side
// effects it performs against the views; the server does not second-guess
// them. By default only write requests reach the handler, see
// WithProcessReadRequests and WithProcessOtherRequests.
type RequestHandler interface {
	Handler
	HandleRequest(s *Server, req Request, space *AddressSpace) error
}

// StaticHandler returns a Handler that provisions the given address
// space and leaves every request to the server's default semantics.
func StaticHandler(desc AddressSpaceDescriptor) Handler {
	return staticHandler{desc: desc}
}

type staticHandler struct {
	desc AddressSpaceDescriptor
}

func (h staticHandler) DescribeAddressSpace() AddressSpaceDescriptor { return h.desc }

// HandlerFuncs adapts plain functions to the Handler and RequestHandler
// interfaces. Describe is required; a nil Handle is a no-op.
type HandlerFuncs struct {
	Describe func() AddressSpaceDescriptor
	Handle   func(s *Server, req Request, space *AddressSpace) error
}

func (h HandlerFuncs) DescribeAddressSpace() AddressSpaceDescriptor {
	return h.Describe()
}

func (h HandlerFuncs) HandleRequest(s *Server, req Request, space *AddressSpace) error {
	if h.Handle == nil {
		return nil
	}
	return h.Handle(s, req, space)
}
