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
	"encoding/binary"
)

// ReadCoilsRequest asks for Quantity coils starting at Address (FC01).
type ReadCoilsRequest struct {
	Address  uint16
	Quantity uint16
}

func (r *ReadCoilsRequest) FunctionCode() FunctionCode { return FuncReadCoils }

// ReadDiscreteInputsRequest asks for Quantity discrete inputs starting
// at Address (FC02).
type ReadDiscreteInputsRequest struct {
	Address  uint16
	Quantity uint16
}

func (r *ReadDiscreteInputsRequest) FunctionCode() FunctionCode { return FuncReadDiscreteInputs }

// ReadHoldingRegistersRequest asks for Quantity holding registers
// starting at Address (FC03).
type ReadHoldingRegistersRequest struct {
	Address  uint16
	Quantity uint16
}

func (r *ReadHoldingRegistersRequest) FunctionCode() FunctionCode { return FuncReadHoldingRegisters }

// ReadInputRegistersRequest asks for Quantity input registers starting
// at Address (FC04).
type ReadInputRegistersRequest struct {
	Address  uint16
	Quantity uint16
}

func (r *ReadInputRegistersRequest) FunctionCode() FunctionCode { return FuncReadInputRegisters }

// WriteSingleCoilRequest writes one coil (FC05).
type WriteSingleCoilRequest struct {
	Address uint16
	Value   bool
}

func (r *WriteSingleCoilRequest) FunctionCode() FunctionCode { return FuncWriteSingleCoil }

// WriteSingleRegisterRequest writes one holding register (FC06).
type WriteSingleRegisterRequest struct {
	Address uint16
	Value   uint16
}

func (r *WriteSingleRegisterRequest) FunctionCode() FunctionCode { return FuncWriteSingleRegister }

// WriteMultipleCoilsRequest writes a run of coils (FC15). Values is a
// view directly over the received payload, no copy; its Start equals
// Address and it is only valid while the request is being dispatched.
type WriteMultipleCoilsRequest struct {
	Address uint16
	Values  *CoilView
}

func (r *WriteMultipleCoilsRequest) FunctionCode() FunctionCode { return FuncWriteMultipleCoils }

// WriteMultipleRegistersRequest writes a run of holding registers
// (FC16). Values is a big-endian view directly over the received
// payload with Start equal to Address; same lifetime rules as for
// WriteMultipleCoilsRequest.
type WriteMultipleRegistersRequest struct {
	Address uint16
	Values  *RegisterView
}

func (r *WriteMultipleRegistersRequest) FunctionCode() FunctionCode { return FuncWriteMultipleRegisters }

// OtherRequest covers any function code the decoder does not model.
type OtherRequest struct {
	Code FunctionCode
	PDU  []byte
}

func (r *OtherRequest) FunctionCode() FunctionCode { return r.Code }

// pduUint16 reads a big-endian value at the given PDU offset, failing
// with an illegal data address exception on overrun.
func pduUint16(fc FunctionCode, pdu []byte, off int) (uint16, error) {
	if off+2 > len(pdu) {
		return 0, NewModbusError(fc, ExceptionIllegalDataAddress)
	}
	return binary.BigEndian.Uint16(pdu[off:]), nil
}

// DecodeRequest turns a raw PDU into a typed request. Framing problems
// yield a *ModbusError (illegal data address for truncated requests,
// illegal data value for inconsistent counts). No semantic validation
// against the address space happens here; that is the dispatcher's job.
func DecodeRequest(pdu []byte) (Request, error) {
	if len(pdu) < 1 {
		return nil, NewModbusError(0, ExceptionIllegalDataAddress)
	}
	fc := FunctionCode(pdu[0])

	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters:
		addr, err := pduUint16(fc, pdu, 1)
		if err != nil {
			return nil, err
		}
		qty, err := pduUint16(fc, pdu, 3)
		if err != nil {
			return nil, err
		}
		switch fc {
		case FuncReadCoils:
			return &ReadCoilsRequest{Address: addr, Quantity: qty}, nil
		case FuncReadDiscreteInputs:
			return &ReadDiscreteInputsRequest{Address: addr, Quantity: qty}, nil
		case FuncReadHoldingRegisters:
			return &ReadHoldingRegistersRequest{Address: addr, Quantity: qty}, nil
		default:
			return &ReadInputRegistersRequest{Address: addr, Quantity: qty}, nil
		}

	case FuncWriteSingleCoil:
		addr, err := pduUint16(fc, pdu, 1)
		if err != nil {
			return nil, err
		}
		value, err := pduUint16(fc, pdu, 3)
		if err != nil {
			return nil, err
		}
		// Only the two canonical encodings are legal.
		if value != CoilOn && value != CoilOff {
			return nil, NewModbusError(fc, ExceptionIllegalDataValue)
		}
		return &WriteSingleCoilRequest{Address: addr, Value: value == CoilOn}, nil

	case FuncWriteSingleRegister:
		addr, err := pduUint16(fc, pdu, 1)
		if err != nil {
			return nil, err
		}
		value, err := pduUint16(fc, pdu, 3)
		if err != nil {
			return nil, err
		}
		return &WriteSingleRegisterRequest{Address: addr, Value: value}, nil

	case FuncWriteMultipleCoils:
		addr, err := pduUint16(fc, pdu, 1)
		if err != nil {
			return nil, err
		}
		qty, err := pduUint16(fc, pdu, 3)
		if err != nil {
			return nil, err
		}
		if len(pdu) < 6 {
			return nil, NewModbusError(fc, ExceptionIllegalDataAddress)
		}
		byteCount := int(pdu[5])
		payload := pdu[6:]
		if byteCount != len(payload) || len(payload) < (int(qty)+7)/8 {
			return nil, NewModbusError(fc, ExceptionIllegalDataValue)
		}
		return &WriteMultipleCoilsRequest{
			Address: addr,
			Values:  NewCoilView(int(addr), int(qty), payload),
		}, nil

	case FuncWriteMultipleRegisters:
		addr, err := pduUint16(fc, pdu, 1)
		if err != nil {
			return nil, err
		}
		qty, err := pduUint16(fc, pdu, 3)
		if err != nil {
			return nil, err
		}
		if len(pdu) < 6 {
			return nil, NewModbusError(fc, ExceptionIllegalDataAddress)
		}
		byteCount := int(pdu[5])
		payload := pdu[6:]
		if byteCount != len(payload) || byteCount != 2*int(qty) {
			return nil, NewModbusError(fc, ExceptionIllegalDataValue)
		}
		// Registers on the wire are big-endian regardless of host order.
		return &WriteMultipleRegistersRequest{
			Address: addr,
			Values:  NewRegisterView(int(addr), int(qty), payload, true),
		}, nil

	default:
		return &OtherRequest{Code: fc, PDU: pdu}, nil
	}
}
