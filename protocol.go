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
	"io"
	"sync/atomic"
)

// MBAPHeader represents the Modbus Application Protocol header for TCP.
type MBAPHeader struct {
	TransactionID uint16 // Transaction identifier
	ProtocolID    uint16 // Protocol identifier (always 0 for Modbus)
	Length        uint16 // Number of following bytes (Unit ID + PDU)
	UnitID        UnitID // Unit identifier (slave address)
}

// Encode encodes the MBAP header to bytes.
func (h *MBAPHeader) Encode() []byte {
	buf := make([]byte, MBAPHeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], h.ProtocolID)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	buf[6] = byte(h.UnitID)
	return buf
}

// Decode decodes the MBAP header from bytes.
func (h *MBAPHeader) Decode(data []byte) error {
	if len(data) < MBAPHeaderSize {
		return fmt.Errorf("%w: MBAP header too short", ErrInvalidFrame)
	}
	h.TransactionID = binary.BigEndian.Uint16(data[0:2])
	h.ProtocolID = binary.BigEndian.Uint16(data[2:4])
	h.Length = binary.BigEndian.Uint16(data[4:6])
	h.UnitID = UnitID(data[6])
	return nil
}

// Frame represents a complete Modbus TCP frame (MBAP header + PDU).
type Frame struct {
	Header MBAPHeader
	PDU    []byte
}

// Encode encodes the frame to bytes, fixing up the header length.
func (f *Frame) Encode() []byte {
	f.Header.Length = uint16(len(f.PDU) + 1) // PDU length + Unit ID
	buf := make([]byte, MBAPHeaderSize+len(f.PDU))
	copy(buf, f.Header.Encode())
	copy(buf[MBAPHeaderSize:], f.PDU)
	return buf
}

// readFrameHeader reads and validates the MBAP header. It is split from
// readFrameBody so a server can apply a different deadline to the wait
// for a new request than to the bytes within one.
func readFrameHeader(r io.Reader) (MBAPHeader, error) {
	raw := make([]byte, MBAPHeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return MBAPHeader{}, err
	}

	var h MBAPHeader
	if err := h.Decode(raw); err != nil {
		return MBAPHeader{}, err
	}
	if h.ProtocolID != ProtocolID {
		return MBAPHeader{}, fmt.Errorf("%w: invalid protocol ID %d", ErrInvalidFrame, h.ProtocolID)
	}
	pduLen := int(h.Length) - 1
	if pduLen < 0 || pduLen > MaxPDUSize {
		return MBAPHeader{}, fmt.Errorf("%w: invalid PDU length %d", ErrInvalidFrame, pduLen)
	}
	return h, nil
}

// readFrameBody reads the PDU announced by a validated header.
func readFrameBody(r io.Reader, h MBAPHeader) (*Frame, error) {
	pdu := make([]byte, int(h.Length)-1)
	if _, err := io.ReadFull(r, pdu); err != nil {
		return nil, err
	}
	return &Frame{Header: h, PDU: pdu}, nil
}

// ReadFrame reads a complete Modbus TCP frame from a reader.
func ReadFrame(r io.Reader) (*Frame, error) {
	h, err := readFrameHeader(r)
	if err != nil {
		return nil, err
	}
	return readFrameBody(r, h)
}

// WriteFrame writes a complete Modbus TCP frame to a writer.
func WriteFrame(w io.Writer, f *Frame) error {
	_, err := w.Write(f.Encode())
	return err
}

// TransactionIDGenerator generates unique transaction IDs.
type TransactionIDGenerator struct {
	counter uint32
}

// Next returns the next transaction ID.
func (g *TransactionIDGenerator) Next() uint16 {
	return uint16(atomic.AddUint32(&g.counter, 1))
}
