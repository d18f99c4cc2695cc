package events

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// readChunk is the initial buffer reserved for a packet being read.
const readChunk = 64 << 10

// WritePacket writes the packet's wire bytes to w verbatim.
func WritePacket(w io.Writer, p *Packet) error {
	if _, err := w.Write(p.buf); err != nil {
		return fmt.Errorf("failed to write %s packet: %w", p.layout.Name(), err)
	}
	return nil
}

// ReadPacket reads one packet from r. It returns io.EOF when r is exhausted
// before the first header byte and io.ErrUnexpectedEOF when a packet is cut
// short. The buffer grows with the bytes actually read, so a header
// declaring a huge packet costs nothing until its body arrives.
func ReadPacket(r io.Reader) (*Packet, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	h := Header(hdr[:])
	if err := h.Check(); err != nil {
		return nil, err
	}
	size, err := packetBytes(int64(h.EventCapacity()), int64(h.EventSize()), maxPacketBytes)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(min(size, readChunk))
	buf.Write(hdr[:])
	if _, err := io.CopyN(&buf, r, int64(size-HeaderSize)); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read %s packet body: %w", h.EventType(), err)
	}
	return &Packet{buf: buf.Bytes(), layout: h.Layout()}, nil
}

// ReadAll reads packets from r until io.EOF.
func ReadAll(r io.Reader) ([]*Packet, error) {
	var out []*Packet
	for {
		p, err := ReadPacket(r)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
}
