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
	"errors"
	"fmt"
	"testing"
)

func TestModbusErrorIs(t *testing.T) {
	err := NewModbusError(FuncReadCoils, ExceptionIllegalDataAddress)

	if !errors.Is(err, NewModbusError(0, ExceptionIllegalDataAddress)) {
		t.Error("Is should match on exception code regardless of function")
	}
	if errors.Is(err, NewModbusError(FuncReadCoils, ExceptionIllegalFunction)) {
		t.Error("Is should not match a different exception code")
	}
}

func TestModbusErrorAsThroughWrap(t *testing.T) {
	inner := NewModbusError(FuncWriteSingleCoil, ExceptionIllegalDataValue)
	wrapped := fmt.Errorf("write failed: %w", inner)

	var mberr *ModbusError
	if !errors.As(wrapped, &mberr) {
		t.Fatal("As should unwrap to *ModbusError")
	}
	if mberr.FunctionCode != FuncWriteSingleCoil {
		t.Errorf("FunctionCode = %v, want WriteSingleCoil", mberr.FunctionCode)
	}
}

func TestExceptionPredicates(t *testing.T) {
	tests := []struct {
		err  error
		pred func(error) bool
		want bool
	}{
		{NewModbusError(0, ExceptionIllegalFunction), IsIllegalFunction, true},
		{NewModbusError(0, ExceptionIllegalDataAddress), IsIllegalDataAddress, true},
		{NewModbusError(0, ExceptionIllegalDataValue), IsIllegalDataValue, true},
		{NewModbusError(0, ExceptionIllegalFunction), IsIllegalDataValue, false},
		{errors.New("plain"), IsIllegalFunction, false},
		{nil, IsIllegalDataAddress, false},
	}

	for i, tt := range tests {
		if got := tt.pred(tt.err); got != tt.want {
			t.Errorf("case %d: got %v, want %v", i, got, tt.want)
		}
	}
}

func TestExceptionCodeString(t *testing.T) {
	if s := ExceptionNegativeAcknowledge.String(); s != "negative acknowledge" {
		t.Errorf("String() = %q", s)
	}
	if s := ExceptionCode(0xEE).String(); s != "unknown exception (0xEE)" {
		t.Errorf("String() = %q", s)
	}
}
