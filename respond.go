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
	"errors"
	"log/slog"
)

// exceptionPDU builds an exception response for the given function code.
func exceptionPDU(fc FunctionCode, ec ExceptionCode) []byte {
	return []byte{byte(fc) | 0x80, byte(ec)}
}

// dispatch runs one decoded request against the shared address space and
// returns the response PDU. The caller holds the state lock.
//
// Write requests always reach the handler; read requests and unmodeled
// function codes only do so when the corresponding policy option is set.
// A polling client issues far more reads than writes, so routing every
// read through the handler would cost throughput most deployments get
// nothing for.
func (s *Server) dispatch(req Request, space *AddressSpace) []byte {
	fc := req.FunctionCode()

	invoke := false
	switch req.(type) {
	case *WriteSingleCoilRequest, *WriteSingleRegisterRequest,
		*WriteMultipleCoilsRequest, *WriteMultipleRegistersRequest:
		invoke = true
	case *OtherRequest:
		invoke = s.opts.processOtherRequests
	default:
		invoke = s.opts.processReadRequests
	}

	if invoke {
		if rh, ok := s.handler.(RequestHandler); ok {
			if err := rh.HandleRequest(s, req, space); err != nil {
				var mberr *ModbusError
				if errors.As(err, &mberr) {
					// The protocol's normal error path: report it to the
					// client, nothing to log.
					return exceptionPDU(fc, mberr.ExceptionCode)
				}
				s.opts.logger.Error("handler error",
					slog.String("func", fc.String()),
					slog.String("error", err.Error()))
				return exceptionPDU(fc, ExceptionNegativeAcknowledge)
			}
		}
	}

	return s.defaultReply(req, space)
}

// defaultReply applies the standard Modbus semantics for the request
// against the mapping and builds the reply.
func (s *Server) defaultReply(req Request, space *AddressSpace) []byte {
	switch r := req.(type) {
	case *ReadCoilsRequest:
		return readBitsReply(r.FunctionCode(), space.Coils, r.Address, r.Quantity)
	case *ReadDiscreteInputsRequest:
		return readBitsReply(r.FunctionCode(), space.DiscreteInputs, r.Address, r.Quantity)
	case *ReadHoldingRegistersRequest:
		return readRegistersReply(r.FunctionCode(), space.HoldingRegisters, r.Address, r.Quantity)
	case *ReadInputRegistersRequest:
		return readRegistersReply(r.FunctionCode(), space.InputRegisters, r.Address, r.Quantity)

	case *WriteSingleCoilRequest:
		fc := r.FunctionCode()
		if space.Coils == nil {
			return exceptionPDU(fc, ExceptionIllegalDataAddress)
		}
		if err := space.Coils.Set(int(r.Address), r.Value); err != nil {
			return exceptionPDU(fc, ExceptionIllegalDataAddress)
		}
		return writeSingleEcho(fc, r.Address, coilValue(r.Value))

	case *WriteSingleRegisterRequest:
		fc := r.FunctionCode()
		if space.HoldingRegisters == nil {
			return exceptionPDU(fc, ExceptionIllegalDataAddress)
		}
		if err := space.HoldingRegisters.Set(int(r.Address), r.Value); err != nil {
			return exceptionPDU(fc, ExceptionIllegalDataAddress)
		}
		return writeSingleEcho(fc, r.Address, r.Value)

	case *WriteMultipleCoilsRequest:
		fc := r.FunctionCode()
		qty := r.Values.Count()
		if qty < 1 || qty > MaxQuantityCoils {
			return exceptionPDU(fc, ExceptionIllegalDataValue)
		}
		dst := space.Coils
		if dst == nil || dst.Validate(int(r.Address)) != nil || dst.Validate(int(r.Address)+qty-1) != nil {
			return exceptionPDU(fc, ExceptionIllegalDataAddress)
		}
		// Range validated once for the whole run, then unchecked copies.
		for addr := int(r.Address); addr < int(r.Address)+qty; addr++ {
			dst.setAt(addr, r.Values.at(addr))
		}
		return writeMultipleEcho(fc, r.Address, uint16(qty))

	case *WriteMultipleRegistersRequest:
		fc := r.FunctionCode()
		qty := r.Values.Count()
		if qty < 1 || qty > MaxQuantityWriteRegisters {
			return exceptionPDU(fc, ExceptionIllegalDataValue)
		}
		dst := space.HoldingRegisters
		if dst == nil || dst.Validate(int(r.Address)) != nil || dst.Validate(int(r.Address)+qty-1) != nil {
			return exceptionPDU(fc, ExceptionIllegalDataAddress)
		}
		for addr := int(r.Address); addr < int(r.Address)+qty; addr++ {
			dst.setAt(addr, r.Values.at(addr))
		}
		return writeMultipleEcho(fc, r.Address, uint16(qty))

	case *OtherRequest:
		return exceptionPDU(r.Code, ExceptionIllegalFunction)

	default:
		return exceptionPDU(req.FunctionCode(), ExceptionServerDeviceFailure)
	}
}

func readBitsReply(fc FunctionCode, view *CoilView, address, quantity uint16) []byte {
	if quantity < 1 || quantity > MaxQuantityCoils {
		return exceptionPDU(fc, ExceptionIllegalDataValue)
	}
	if view == nil || view.Validate(int(address)) != nil || view.Validate(int(address)+int(quantity)-1) != nil {
		return exceptionPDU(fc, ExceptionIllegalDataAddress)
	}

	byteCount := (int(quantity) + 7) / 8
	resp := make([]byte, 2+byteCount)
	resp[0] = byte(fc)
	resp[1] = byte(byteCount)
	for i := 0; i < int(quantity); i++ {
		if view.at(int(address) + i) {
			resp[2+i/8] |= 1 << (i % 8)
		}
	}
	return resp
}

func readRegistersReply(fc FunctionCode, view *RegisterView, address, quantity uint16) []byte {
	if quantity < 1 || quantity > MaxQuantityRegisters {
		return exceptionPDU(fc, ExceptionIllegalDataValue)
	}
	if view == nil || view.Validate(int(address)) != nil || view.Validate(int(address)+int(quantity)-1) != nil {
		return exceptionPDU(fc, ExceptionIllegalDataAddress)
	}

	byteCount := 2 * int(quantity)
	resp := make([]byte, 2+byteCount)
	resp[0] = byte(fc)
	resp[1] = byte(byteCount)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(resp[2+2*i:], view.at(int(address)+i))
	}
	return resp
}

func writeSingleEcho(fc FunctionCode, address, value uint16) []byte {
	resp := make([]byte, 5)
	resp[0] = byte(fc)
	binary.BigEndian.PutUint16(resp[1:3], address)
	binary.BigEndian.PutUint16(resp[3:5], value)
	return resp
}

func writeMultipleEcho(fc FunctionCode, address, quantity uint16) []byte {
	resp := make([]byte, 5)
	resp[0] = byte(fc)
	binary.BigEndian.PutUint16(resp[1:3], address)
	binary.BigEndian.PutUint16(resp[3:5], quantity)
	return resp
}

func coilValue(on bool) uint16 {
	if on {
		return CoilOn
	}
	return CoilOff
}
