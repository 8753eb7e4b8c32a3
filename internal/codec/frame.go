package codec

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	magic0 = 0x94
	magic1 = 0xc3

	// MaxFrameSize is the largest frame body.
	MaxFrameSize = 512
)

// ErrFrameTooLong is returned when a body exceeds MaxFrameSize.
var ErrFrameTooLong = errors.New("frame too long")

// WriteFrame writes data as a single frame.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return ErrFrameTooLong
	}

	frame := make([]byte, 4, 4+len(data))
	frame[0], frame[1] = magic0, magic1
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(data)))
	frame = append(frame, data...)

	_, err := w.Write(frame)
	return err
}

// ReadFrame returns the body of the next frame. Bytes before a magic and
// headers announcing an oversized body are skipped.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)

	for {
		if _, err := io.ReadFull(r, header[:1]); err != nil {
			return nil, err
		}
		if header[0] != magic0 {
			continue
		}

		if _, err := io.ReadFull(r, header[1:2]); err != nil {
			return nil, err
		}
		if header[1] != magic1 {
			continue
		}

		if _, err := io.ReadFull(r, header[2:]); err != nil {
			return nil, err
		}

		size := int(binary.BigEndian.Uint16(header[2:4]))
		if size > MaxFrameSize {
			continue
		}

		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
		return data, nil
	}
}
