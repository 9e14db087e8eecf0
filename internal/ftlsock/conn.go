package ftlsock

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// eomCode is the reserved MessagePack marker byte the resolver repurposes as
// its end-of-message terminator.
const eomCode byte = 0xc1

// Conn is the value stream of one command's response.  Each typed read
// returns [ErrEOM] when the terminator arrives where a value was expected;
// many call sites use that to end a read loop.  Any other decoding failure
// is an [ErrProtocol] and poisons the rest of the stream.
type Conn struct {
	dec *msgpack.Decoder
	rc  io.ReadCloser
}

// newConn wraps a response stream.
func newConn(rc io.ReadCloser) (c *Conn) {
	return &Conn{
		dec: msgpack.NewDecoder(rc),
		rc:  rc,
	}
}

// Close releases the underlying connection.
func (c *Conn) Close() (err error) {
	return c.rc.Close()
}

// checkValue peeks at the next marker.  The terminator yields [ErrEOM]; a
// short stream where a value was expected is a protocol error.  The
// terminator is never consumed: the stream is one-shot and ends there.
func (c *Conn) checkValue() (err error) {
	code, err := c.dec.PeekCode()
	if err != nil {
		return fmt.Errorf("%w: reading marker: %w", ErrProtocol, err)
	}

	if code == eomCode {
		return ErrEOM
	}

	return nil
}

// readValue runs decode after the terminator check, classifying decode
// failures as protocol errors.
func readValue[T any](c *Conn, decode func() (T, error)) (v T, err error) {
	err = c.checkValue()
	if err != nil {
		return v, err
	}

	v, err = decode()
	if err != nil {
		return v, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	return v, nil
}

// ReadBool reads a boolean value.
func (c *Conn) ReadBool() (v bool, err error) {
	return readValue(c, c.dec.DecodeBool)
}

// ReadUint8 reads an unsigned 8-bit integer value.
func (c *Conn) ReadUint8() (v uint8, err error) {
	return readValue(c, c.dec.DecodeUint8)
}

// ReadInt32 reads a signed 32-bit integer value.
func (c *Conn) ReadInt32() (v int32, err error) {
	return readValue(c, c.dec.DecodeInt32)
}

// ReadInt64 reads a signed 64-bit integer value.
func (c *Conn) ReadInt64() (v int64, err error) {
	return readValue(c, c.dec.DecodeInt64)
}

// ReadFloat32 reads a 32-bit floating-point value.
func (c *Conn) ReadFloat32() (v float32, err error) {
	return readValue(c, c.dec.DecodeFloat32)
}

// ReadString reads a string value.
func (c *Conn) ReadString() (v string, err error) {
	return readValue(c, c.dec.DecodeString)
}

// ReadMapLen reads a map length marker.
func (c *Conn) ReadMapLen() (n int, err error) {
	return readValue(c, c.dec.DecodeMapLen)
}

// ReadIntMap reads a length-prefixed map of 32-bit integer keys to 32-bit
// integer values.
func (c *Conn) ReadIntMap() (m map[int32]int32, err error) {
	n, err := c.ReadMapLen()
	if err != nil {
		return nil, err
	}

	m = make(map[int32]int32, n)
	for range n {
		var k, v int32
		k, err = c.ReadInt32()
		if err != nil {
			return nil, fmt.Errorf("map key: %w", err)
		}

		v, err = c.ReadInt32()
		if err != nil {
			return nil, fmt.Errorf("map value: %w", err)
		}

		m[k] = v
	}

	return m, nil
}

// ExpectEOM verifies that the stream has reached its terminator.
func (c *Conn) ExpectEOM() (err error) {
	err = c.checkValue()
	if err == ErrEOM {
		return nil
	} else if err != nil {
		return err
	}

	return fmt.Errorf("%w: expected end of message", ErrProtocol)
}
