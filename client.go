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
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Client is a small Modbus TCP client. It serializes operations on one
// connection; use one client per concurrent consumer.
type Client struct {
	addr    string
	opts    *clientOptions
	txIDGen TransactionIDGenerator

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// NewClient creates a new Modbus TCP client.
func NewClient(addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("%w: empty address", ErrInvalidArgument)
	}

	options := defaultClientOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Client{addr: addr, opts: options}, nil
}

// Connect establishes a connection to the Modbus server.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	if c.conn != nil {
		return nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.addr, err)
	}
	c.conn = conn
	c.opts.logger.Debug("connected", slog.String("addr", c.addr))
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// roundTrip sends one PDU and returns the matching response PDU. An
// exception response is returned as a *ModbusError.
func (c *Client) roundTrip(ctx context.Context, pdu []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrConnectionClosed
	}
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	deadline := timeNow().Add(c.opts.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	req := &Frame{
		Header: MBAPHeader{
			TransactionID: c.txIDGen.Next(),
			ProtocolID:    ProtocolID,
			UnitID:        c.opts.unitID,
		},
		PDU: pdu,
	}
	if err := WriteFrame(c.conn, req); err != nil {
		return nil, err
	}

	resp, err := ReadFrame(c.conn)
	if err != nil {
		return nil, err
	}
	if resp.Header.TransactionID != req.Header.TransactionID {
		return nil, fmt.Errorf("%w: transaction ID mismatch", ErrInvalidResponse)
	}
	if len(resp.PDU) < 1 {
		return nil, fmt.Errorf("%w: empty PDU", ErrInvalidResponse)
	}
	if resp.PDU[0]&0x80 != 0 {
		if len(resp.PDU) < 2 {
			return nil, fmt.Errorf("%w: truncated exception", ErrInvalidResponse)
		}
		return nil, NewModbusError(FunctionCode(resp.PDU[0]&0x7F), ExceptionCode(resp.PDU[1]))
	}
	if FunctionCode(resp.PDU[0]) != FunctionCode(pdu[0]) {
		return nil, fmt.Errorf("%w: function code mismatch", ErrInvalidResponse)
	}
	return resp.PDU, nil
}

func readPDU(fc FunctionCode, address, quantity, max uint16) ([]byte, error) {
	if quantity < 1 || quantity > max {
		return nil, fmt.Errorf("%w: quantity must be 1-%d", ErrInvalidQuantity, max)
	}
	if uint32(address)+uint32(quantity) > 65536 {
		return nil, fmt.Errorf("%w: range exceeds 65535", ErrInvalidAddress)
	}
	pdu := make([]byte, 5)
	pdu[0] = byte(fc)
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], quantity)
	return pdu, nil
}

func (c *Client) readBits(ctx context.Context, fc FunctionCode, address, quantity uint16) ([]bool, error) {
	pdu, err := readPDU(fc, address, quantity, MaxQuantityCoils)
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(ctx, pdu)
	if err != nil {
		return nil, err
	}

	if len(resp) < 2 {
		return nil, fmt.Errorf("%w: response too short", ErrInvalidResponse)
	}
	byteCount := int(resp[1])
	if byteCount != (int(quantity)+7)/8 || len(resp) < 2+byteCount {
		return nil, fmt.Errorf("%w: invalid byte count", ErrInvalidResponse)
	}

	values := make([]bool, quantity)
	for i := range values {
		values[i] = resp[2+i/8]&(1<<(i%8)) != 0
	}
	return values, nil
}

func (c *Client) readRegisters(ctx context.Context, fc FunctionCode, address, quantity uint16) ([]uint16, error) {
	pdu, err := readPDU(fc, address, quantity, MaxQuantityRegisters)
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(ctx, pdu)
	if err != nil {
		return nil, err
	}

	if len(resp) < 2 {
		return nil, fmt.Errorf("%w: response too short", ErrInvalidResponse)
	}
	byteCount := int(resp[1])
	if byteCount != 2*int(quantity) || len(resp) < 2+byteCount {
		return nil, fmt.Errorf("%w: invalid byte count", ErrInvalidResponse)
	}

	values := make([]uint16, quantity)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(resp[2+2*i:])
	}
	return values, nil
}

// ReadCoils reads quantity coils starting at address (FC01).
func (c *Client) ReadCoils(ctx context.Context, address, quantity uint16) ([]bool, error) {
	return c.readBits(ctx, FuncReadCoils, address, quantity)
}

// ReadDiscreteInputs reads quantity discrete inputs starting at address (FC02).
func (c *Client) ReadDiscreteInputs(ctx context.Context, address, quantity uint16) ([]bool, error) {
	return c.readBits(ctx, FuncReadDiscreteInputs, address, quantity)
}

// ReadHoldingRegisters reads quantity holding registers starting at address (FC03).
func (c *Client) ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	return c.readRegisters(ctx, FuncReadHoldingRegisters, address, quantity)
}

// ReadInputRegisters reads quantity input registers starting at address (FC04).
func (c *Client) ReadInputRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	return c.readRegisters(ctx, FuncReadInputRegisters, address, quantity)
}

// WriteSingleCoil writes one coil (FC05).
func (c *Client) WriteSingleCoil(ctx context.Context, address uint16, value bool) error {
	pdu := make([]byte, 5)
	pdu[0] = byte(FuncWriteSingleCoil)
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], coilValue(value))

	resp, err := c.roundTrip(ctx, pdu)
	if err != nil {
		return err
	}
	return checkWriteEcho(resp, address, coilValue(value))
}

// WriteSingleRegister writes one holding register (FC06).
func (c *Client) WriteSingleRegister(ctx context.Context, address, value uint16) error {
	pdu := make([]byte, 5)
	pdu[0] = byte(FuncWriteSingleRegister)
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], value)

	resp, err := c.roundTrip(ctx, pdu)
	if err != nil {
		return err
	}
	return checkWriteEcho(resp, address, value)
}

// WriteMultipleCoils writes a run of coils starting at address (FC15).
func (c *Client) WriteMultipleCoils(ctx context.Context, address uint16, values []bool) error {
	qty := len(values)
	if qty < 1 || qty > MaxQuantityCoils {
		return fmt.Errorf("%w: quantity must be 1-%d", ErrInvalidQuantity, MaxQuantityCoils)
	}
	if uint32(address)+uint32(qty) > 65536 {
		return fmt.Errorf("%w: range exceeds 65535", ErrInvalidAddress)
	}

	byteCount := (qty + 7) / 8
	pdu := make([]byte, 6+byteCount)
	pdu[0] = byte(FuncWriteMultipleCoils)
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(qty))
	pdu[5] = byte(byteCount)
	for i, v := range values {
		if v {
			pdu[6+i/8] |= 1 << (i % 8)
		}
	}

	resp, err := c.roundTrip(ctx, pdu)
	if err != nil {
		return err
	}
	return checkWriteEcho(resp, address, uint16(qty))
}

// WriteMultipleRegisters writes a run of holding registers starting at
// address (FC16).
func (c *Client) WriteMultipleRegisters(ctx context.Context, address uint16, values []uint16) error {
	qty := len(values)
	if qty < 1 || qty > MaxQuantityWriteRegisters {
		return fmt.Errorf("%w: quantity must be 1-%d", ErrInvalidQuantity, MaxQuantityWriteRegisters)
	}
	if uint32(address)+uint32(qty) > 65536 {
		return fmt.Errorf("%w: range exceeds 65535", ErrInvalidAddress)
	}

	pdu := make([]byte, 6+2*qty)
	pdu[0] = byte(FuncWriteMultipleRegisters)
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(qty))
	pdu[5] = byte(2 * qty)
	for i, v := range values {
		binary.BigEndian.PutUint16(pdu[6+2*i:], v)
	}

	resp, err := c.roundTrip(ctx, pdu)
	if err != nil {
		return err
	}
	return checkWriteEcho(resp, address, uint16(qty))
}

// checkWriteEcho validates the address/value echo of a write response.
func checkWriteEcho(pdu []byte, address, value uint16) error {
	if len(pdu) < 5 {
		return fmt.Errorf("%w: response too short", ErrInvalidResponse)
	}
	if binary.BigEndian.Uint16(pdu[1:3]) != address {
		return fmt.Errorf("%w: address mismatch", ErrInvalidResponse)
	}
	if binary.BigEndian.Uint16(pdu[3:5]) != value {
		return fmt.Errorf("%w: value mismatch", ErrInvalidResponse)
	}
	return nil
}
