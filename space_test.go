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
	"testing"
)

func TestAddressRangeValidate(t *testing.T) {
	tests := []struct {
		name  string
		r     AddressRange
		valid bool
	}{
		{"zero range", AddressRange{0, 0}, true},
		{"full space", AddressRange{0, 10000}, true},
		{"tail", AddressRange{9999, 1}, true},
		{"negative start", AddressRange{-1, 5}, false},
		{"negative count", AddressRange{0, -1}, false},
		{"start too large", AddressRange{10000, 0}, false},
		{"overflows limit", AddressRange{9999, 2}, false},
		{"count too large", AddressRange{1, 10000}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.r.Validate()
			if tt.valid && err != nil {
				t.Errorf("Validate(%+v) failed: %v", tt.r, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Validate(%+v) should have failed", tt.r)
			}
		})
	}
}

func TestCoilViewGeometry(t *testing.T) {
	for _, tc := range []struct{ start, count int }{
		{0, 1}, {0, 8}, {100, 10}, {9990, 10}, {0, 10000},
	} {
		view := NewCoilView(tc.start, tc.count, make([]byte, (tc.count+7)/8))

		if view.Start() != tc.start {
			t.Errorf("(%d,%d): Start = %d", tc.start, tc.count, view.Start())
		}
		if view.End() != tc.start+tc.count {
			t.Errorf("(%d,%d): End = %d, want %d", tc.start, tc.count, view.End(), tc.start+tc.count)
		}
		if view.Count() != tc.count {
			t.Errorf("(%d,%d): Count = %d", tc.start, tc.count, view.Count())
		}
		if view.IsEmpty() {
			t.Errorf("(%d,%d): should not be empty", tc.start, tc.count)
		}

		// A fresh zeroed buffer reads all false, exactly count values.
		n := 0
		for v := range view.Values() {
			if v {
				t.Errorf("(%d,%d): fresh buffer yielded true at element %d", tc.start, tc.count, n)
			}
			n++
		}
		if n != tc.count {
			t.Errorf("(%d,%d): iteration yielded %d values", tc.start, tc.count, n)
		}
	}
}

func TestCoilViewEmpty(t *testing.T) {
	view := NewCoilView(0, 0, nil)
	if !view.IsEmpty() {
		t.Error("empty view should report IsEmpty")
	}
	if view.Start() != 0 || view.End() != 0 {
		t.Errorf("empty view bounds: [%d,%d)", view.Start(), view.End())
	}
	if err := view.Validate(0); !IsIllegalDataAddress(err) {
		t.Errorf("Validate(0) on empty view: %v", err)
	}
}

func TestCoilViewPackedBits(t *testing.T) {
	// 0b11110101: bit 0 is the lowest address of the byte.
	tests := []struct {
		count int
		bits  []byte
		want  []bool
	}{
		{3, []byte{0xF5}, []bool{true, false, true}},
		{8, []byte{0xF5}, []bool{true, false, true, false, true, true, true, true}},
		{13, []byte{0xF5, 0xF5}, []bool{
			true, false, true, false, true, true, true, true,
			true, false, true, false, true,
		}},
	}

	for _, tt := range tests {
		view := NewCoilView(0, tt.count, tt.bits)
		got := make([]bool, 0, tt.count)
		for v := range view.Values() {
			got = append(got, v)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("count %d: got %d values", tt.count, len(got))
		}
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Errorf("count %d: value[%d] = %v, want %v", tt.count, i, got[i], tt.want[i])
			}
		}
	}
}

func TestCoilViewValidate(t *testing.T) {
	view := NewCoilView(100, 10, make([]byte, 2))

	for _, addr := range []int{100, 105, 109} {
		if err := view.Validate(addr); err != nil {
			t.Errorf("Validate(%d) failed: %v", addr, err)
		}
	}
	for _, addr := range []int{-39, -1, 0, 99, 110, 200} {
		err := view.Validate(addr)
		if err == nil {
			t.Errorf("Validate(%d) should have failed", addr)
		} else if !IsIllegalDataAddress(err) {
			t.Errorf("Validate(%d): expected illegal data address, got %v", addr, err)
		}
	}
}

func TestCoilViewSetLayout(t *testing.T) {
	buf := make([]byte, 2)
	view := NewCoilView(100, 10, buf)

	if err := view.Set(105, true); err != nil {
		t.Fatalf("Set(105) failed: %v", err)
	}
	if err := view.Set(100, true); err != nil {
		t.Fatalf("Set(100) failed: %v", err)
	}

	if buf[0] != 0b00100001 {
		t.Errorf("byte 0 = 0b%08b, want 0b00100001", buf[0])
	}
	if buf[1] != 0 {
		t.Errorf("byte 1 = 0b%08b, want 0", buf[1])
	}

	if v, err := view.Get(105); err != nil || !v {
		t.Errorf("Get(105) = %v, %v", v, err)
	}
	if v, err := view.Get(101); err != nil || v {
		t.Errorf("Get(101) = %v, %v", v, err)
	}

	// Clearing puts the bit back.
	if err := view.Set(105, false); err != nil {
		t.Fatalf("Set(105,false) failed: %v", err)
	}
	if buf[0] != 0b00000001 {
		t.Errorf("byte 0 after clear = 0b%08b", buf[0])
	}
}

func TestRegisterViewBigEndian(t *testing.T) {
	buf := make([]byte, 20)
	for i := 1; i <= 10; i++ {
		binary.BigEndian.PutUint16(buf[2*(i-1):], uint16(i))
	}

	view := NewRegisterView(0, 10, buf, true)
	for i := 1; i <= 10; i++ {
		v, err := view.Get(i - 1)
		if err != nil {
			t.Fatalf("Get(%d) failed: %v", i-1, err)
		}
		if v != uint16(i) {
			t.Errorf("Get(%d) = %d, want %d", i-1, v, i)
		}
	}
}

func TestRegisterViewNativeRoundTrip(t *testing.T) {
	buf := make([]byte, 20)
	view := NewRegisterView(50, 10, buf, false)

	if err := view.Set(53, 0xBEEF); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, err := view.Get(53)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != 0xBEEF {
		t.Errorf("Get(53) = 0x%04X, want 0xBEEF", v)
	}

	if err := view.Set(49, 1); !IsIllegalDataAddress(err) {
		t.Errorf("Set(49): expected illegal data address, got %v", err)
	}
	if err := view.Set(60, 1); !IsIllegalDataAddress(err) {
		t.Errorf("Set(60): expected illegal data address, got %v", err)
	}
}

func TestRegisterViewGeometry(t *testing.T) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint16(buf[0:], 10)
	binary.BigEndian.PutUint16(buf[2:], 20)
	binary.BigEndian.PutUint16(buf[4:], 30)
	binary.BigEndian.PutUint16(buf[6:], 40)

	view := NewRegisterView(200, 4, buf, true)
	if view.End() != 204 {
		t.Errorf("End = %d, want 204", view.End())
	}

	got := make([]uint16, 0, 4)
	for v := range view.Values() {
		got = append(got, v)
	}
	want := []uint16{10, 20, 30, 40}
	if len(got) != len(want) {
		t.Fatalf("iteration yielded %d values", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("value[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMappingViews(t *testing.T) {
	desc := AddressSpaceDescriptor{
		Coils:            AddressRange{Start: 0, Count: 16},
		HoldingRegisters: AddressRange{Start: 100, Count: 10},
	}
	if err := desc.Validate(); err != nil {
		t.Fatalf("descriptor should be valid: %v", err)
	}

	m := newMapping(desc)
	space := m.view()

	if space.Coils == nil || space.HoldingRegisters == nil {
		t.Fatal("provisioned kinds should have views")
	}
	if space.DiscreteInputs != nil || space.InputRegisters != nil {
		t.Error("unprovisioned kinds should be nil")
	}

	// Two views over the same mapping share storage.
	if err := space.HoldingRegisters.Set(104, 7); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	again := m.view()
	if v, _ := again.HoldingRegisters.Get(104); v != 7 {
		t.Errorf("second view read %d, want 7", v)
	}
}
