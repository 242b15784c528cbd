// Package camera provides an abstraction over a physical or network video
// source with the ability for multiple consumers to receive frames from a
// single capture handle. Exactly one Multiplexer owns a device at a time;
// consumers register callbacks and each receives its own copy of every frame.
package camera

import "time"

// Frame is an immutable snapshot of one captured image. Data is packed BGR24
// (Width*Height*3 bytes). Frames are never mutated after construction; every
// consumer handoff receives its own copy so no pixel buffer is shared across
// goroutines.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
	Seq       uint64
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	c := *f
	c.Data = make([]byte, len(f.Data))
	copy(c.Data, f.Data)
	return &c
}
