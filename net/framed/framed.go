// Package framed carries opcode frames over a stream connection.
// A frame is a little-endian uint16 length covering the opcode and payload, the
// opcode byte, then the payload.
package framed

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const MaxFrameSize = 0xffff

var ErrEmptyFrame = errors.New("frame has no opcode")
var ErrFrameTooLarge = errors.New("frame too large")

type Frame struct {
	Opcode  uint8
	Payload []byte
}

// Bytes returns the opcode followed by the payload, the form protocol.Decode expects.
func (f *Frame) Bytes() []byte {
	b := make([]byte, 0, 1+len(f.Payload))
	b = append(b, f.Opcode)
	return append(b, f.Payload...)
}

// Conn is safe for one reader and any number of writers.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader

	wmu sync.Mutex
}

func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn: conn,
		r:    bufio.NewReader(conn),
	}
}

// WriteMessage writes an already encoded message (opcode first) as one frame.
func (c *Conn) WriteMessage(msg []byte) error {
	if len(msg) == 0 {
		return ErrEmptyFrame
	}
	if len(msg) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(msg))
	}

	buf := make([]byte, 2+len(msg))
	binary.LittleEndian.PutUint16(buf, uint16(len(msg)))
	copy(buf[2:], msg)

	c.wmu.Lock()
	defer c.wmu.Unlock()

	_, err := c.conn.Write(buf)
	return err
}

func (c *Conn) WriteFrame(opcode uint8, payload []byte) error {
	f := Frame{Opcode: opcode, Payload: payload}
	return c.WriteMessage(f.Bytes())
}

// ReadFrame blocks until a complete frame arrives. A connection closed between
// frames yields io.EOF, one closed inside a frame io.ErrUnexpectedEOF.
func (c *Conn) ReadFrame() (*Frame, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return nil, err
	}

	n := binary.LittleEndian.Uint16(hdr[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(c.r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return &Frame{Opcode: body[0], Payload: body[1:]}, nil
}

func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) Close() error {
	return c.conn.Close()
}
