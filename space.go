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
	"fmt"
	"iter"
)

// AddressRange describes one of the four object kinds of a server's
// address space. A Count of zero means the kind is not provisioned.
type AddressRange struct {
	Start int
	Count int
}

// Validate reports whether the range fits the provisionable address
// space. The zero range is valid.
func (r AddressRange) Validate() error {
	if r.Start < 0 || r.Start >= AddressLimit {
		return fmt.Errorf("%w: start %d outside 0..%d", ErrInvalidArgument, r.Start, AddressLimit-1)
	}
	if r.Count < 0 {
		return fmt.Errorf("%w: negative count %d", ErrInvalidArgument, r.Count)
	}
	if r.Start+r.Count > AddressLimit {
		return fmt.Errorf("%w: range %d+%d exceeds %d", ErrInvalidArgument, r.Start, r.Count, AddressLimit)
	}
	return nil
}

// AddressSpaceDescriptor describes how many objects of each kind a
// server provisions and where each range starts.
type AddressSpaceDescriptor struct {
	Coils            AddressRange
	DiscreteInputs   AddressRange
	InputRegisters   AddressRange
	HoldingRegisters AddressRange
}

// Validate checks all four ranges.
func (d AddressSpaceDescriptor) Validate() error {
	if err := d.Coils.Validate(); err != nil {
		return fmt.Errorf("coils: %w", err)
	}
	if err := d.DiscreteInputs.Validate(); err != nil {
		return fmt.Errorf("discrete inputs: %w", err)
	}
	if err := d.InputRegisters.Validate(); err != nil {
		return fmt.Errorf("input registers: %w", err)
	}
	if err := d.HoldingRegisters.Validate(); err != nil {
		return fmt.Errorf("holding registers: %w", err)
	}
	return nil
}

// CoilView is a bounds-checked view of boolean values packed eight per
// byte, bit 0 holding the lowest address of its byte. Indexing is by
// absolute Modbus address, not by storage offset.
//
// A view never owns its buffer. Views handed to a handler or to an
// UpdateAddressSpace callback are only valid for the duration of that
// call and must not be retained: the buffer may be reallocated by the
// next Configure.
type CoilView struct {
	bits  []byte
	start int
	count int
}

// NewCoilView creates a view of count coils starting at the given
// Modbus address, packed into bits. The buffer must hold at least
// (count+7)/8 bytes.
func NewCoilView(start, count int, bits []byte) *CoilView {
	if count == 0 {
		return &CoilView{}
	}
	if len(bits) < (count+7)/8 {
		panic(fmt.Sprintf("modbus: coil buffer too small: %d bytes for %d coils", len(bits), count))
	}
	return &CoilView{bits: bits, start: start, count: count}
}

// Start returns the first valid address.
func (v *CoilView) Start() int { return v.start }

// End returns one past the last valid address.
func (v *CoilView) End() int { return v.start + v.count }

// Count returns the number of coils in the view.
func (v *CoilView) Count() int { return v.count }

// IsEmpty reports whether the view holds no coils, i.e. the object kind
// is not provisioned.
func (v *CoilView) IsEmpty() bool { return v.count == 0 }

// Validate fails with an illegal data address exception unless addr
// falls inside the view.
func (v *CoilView) Validate(addr int) error {
	if addr < v.start || addr >= v.start+v.count {
		return NewModbusError(0, ExceptionIllegalDataAddress)
	}
	return nil
}

// Get returns the coil at the given address.
func (v *CoilView) Get(addr int) (bool, error) {
	if err := v.Validate(addr); err != nil {
		return false, err
	}
	return v.at(addr), nil
}

// Set writes the coil at the given address.
func (v *CoilView) Set(addr int, value bool) error {
	if err := v.Validate(addr); err != nil {
		return err
	}
	v.setAt(addr, value)
	return nil
}

// at reads without bounds checking; the caller has already validated.
func (v *CoilView) at(addr int) bool {
	off := addr - v.start
	return v.bits[off/8]&(1<<(off%8)) != 0
}

// setAt writes without bounds checking; the caller has already validated.
func (v *CoilView) setAt(addr int, value bool) {
	off := addr - v.start
	if value {
		v.bits[off/8] |= 1 << (off % 8)
	} else {
		v.bits[off/8] &^= 1 << (off % 8)
	}
}

// Values iterates the coils in ascending address order.
func (v *CoilView) Values() iter.Seq[bool] {
	return func(yield func(bool) bool) {
		for addr := v.start; addr < v.start+v.count; addr++ {
			if !yield(v.at(addr)) {
				return
			}
		}
	}
}

// RegisterView is a bounds-checked view of 16-bit register values, one
// register per two bytes of buffer. Wire payloads are always big-endian;
// the server's own mapping is stored in native order. Either way a
// caller always sees host-natural uint16 values.
//
// The same borrow rules as for CoilView apply: never retain a view past
// the call it was handed to.
type RegisterView struct {
	data  []byte
	start int
	count int
	order binary.ByteOrder
}

// NewRegisterView creates a view of count registers starting at the
// given Modbus address. When bigEndian is set the buffer is interpreted
// as big-endian wire data, otherwise as native-order storage. The buffer
// must hold at least 2*count bytes.
func NewRegisterView(start, count int, data []byte, bigEndian bool) *RegisterView {
	order := binary.ByteOrder(binary.NativeEndian)
	if bigEndian {
		order = binary.BigEndian
	}
	if count == 0 {
		return &RegisterView{order: order}
	}
	if len(data) < 2*count {
		panic(fmt.Sprintf("modbus: register buffer too small: %d bytes for %d registers", len(data), count))
	}
	return &RegisterView{data: data, start: start, count: count, order: order}
}

// Start returns the first valid address.
func (v *RegisterView) Start() int { return v.start }

// End returns one past the last valid address.
func (v *RegisterView) End() int { return v.start + v.count }

// Count returns the number of registers in the view.
func (v *RegisterView) Count() int { return v.count }

// IsEmpty reports whether the view holds no registers.
func (v *RegisterView) IsEmpty() bool { return v.count == 0 }

// Validate fails with an illegal data address exception unless addr
// falls inside the view.
func (v *RegisterView) Validate(addr int) error {
	if addr < v.start || addr >= v.start+v.count {
		return NewModbusError(0, ExceptionIllegalDataAddress)
	}
	return nil
}

// Get returns the register at the given address.
func (v *RegisterView) Get(addr int) (uint16, error) {
	if err := v.Validate(addr); err != nil {
		return 0, err
	}
	return v.at(addr), nil
}

// Set writes the register at the given address.
func (v *RegisterView) Set(addr int, value uint16) error {
	if err := v.Validate(addr); err != nil {
		return err
	}
	v.setAt(addr, value)
	return nil
}

func (v *RegisterView) at(addr int) uint16 {
	off := addr - v.start
	return v.order.Uint16(v.data[2*off:])
}

func (v *RegisterView) setAt(addr int, value uint16) {
	off := addr - v.start
	v.order.PutUint16(v.data[2*off:], value)
}

// Values iterates the registers in ascending address order.
func (v *RegisterView) Values() iter.Seq[uint16] {
	return func(yield func(uint16) bool) {
		for addr := v.start; addr < v.start+v.count; addr++ {
			if !yield(v.at(addr)) {
				return
			}
		}
	}
}

// AddressSpace aggregates the four object-kind views of one server
// instance. A view is nil when the corresponding descriptor range had
// Count zero. From a client's perspective discrete inputs and input
// registers are read-only; server-side logic may write them through
// Server.UpdateAddressSpace.
type AddressSpace struct {
	Coils            *CoilView
	DiscreteInputs   *CoilView
	InputRegisters   *RegisterView
	HoldingRegisters *RegisterView
}

// mapping owns the backing storage for all four object kinds. Views
// handed out are rebuilt per dispatch so that nothing can outlive a
// Configure that replaces the buffers.
type mapping struct {
	desc        AddressSpaceDescriptor
	coils       []byte
	discretes   []byte
	inputRegs   []byte
	holdingRegs []byte
}

func newMapping(desc AddressSpaceDescriptor) *mapping {
	m := &mapping{desc: desc}
	if n := desc.Coils.Count; n > 0 {
		m.coils = make([]byte, (n+7)/8)
	}
	if n := desc.DiscreteInputs.Count; n > 0 {
		m.discretes = make([]byte, (n+7)/8)
	}
	if n := desc.InputRegisters.Count; n > 0 {
		m.inputRegs = make([]byte, 2*n)
	}
	if n := desc.HoldingRegisters.Count; n > 0 {
		m.holdingRegs = make([]byte, 2*n)
	}
	return m
}

// view builds a fresh scoped borrow over the mapping storage.
func (m *mapping) view() *AddressSpace {
	space := &AddressSpace{}
	if m.coils != nil {
		space.Coils = NewCoilView(m.desc.Coils.Start, m.desc.Coils.Count, m.coils)
	}
	if m.discretes != nil {
		space.DiscreteInputs = NewCoilView(m.desc.DiscreteInputs.Start, m.desc.DiscreteInputs.Count, m.discretes)
	}
	if m.inputRegs != nil {
		space.InputRegisters = NewRegisterView(m.desc.InputRegisters.Start, m.desc.InputRegisters.Count, m.inputRegs, false)
	}
	if m.holdingRegs != nil {
		space.HoldingRegisters = NewRegisterView(m.desc.HoldingRegisters.Start, m.desc.HoldingRegisters.Count, m.holdingRegs, false)
	}
	return space
}
