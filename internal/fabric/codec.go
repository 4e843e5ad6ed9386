// Package fabric implements the node's three logical messaging endpoints
// (reply, publish, subscribe) plus the control endpoint, all speaking the
// same multipart frame envelope over different transports: libp2p streams
// for the network-facing reply/publish/subscribe triad, and a Unix domain
// socket for the local control surface.
package fabric

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameSize bounds a single frame so a corrupt or hostile peer can't
// make us allocate unbounded memory from a length prefix alone.
const maxFrameSize = 4 << 20 // 4MiB

// WriteFrames writes a multipart message: a frame count followed by each
// frame as a 4-byte big-endian length prefix plus its bytes.
func WriteFrames(w io.Writer, frames [][]byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(frames))); err != nil {
		return fmt.Errorf("fabric: write frame count: %w", err)
	}
	for _, f := range frames {
		if len(f) > maxFrameSize {
			return fmt.Errorf("fabric: frame too large: %d > %d", len(f), maxFrameSize)
		}
		if err := binary.Write(w, binary.BigEndian, uint32(len(f))); err != nil {
			return fmt.Errorf("fabric: write frame length: %w", err)
		}
		if _, err := w.Write(f); err != nil {
			return fmt.Errorf("fabric: write frame: %w", err)
		}
	}
	if bw, ok := w.(*bufio.Writer); ok {
		return bw.Flush()
	}
	return nil
}

// ReadFrames reads a multipart message written by WriteFrames.
func ReadFrames(r io.Reader) ([][]byte, error) {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("fabric: read frame count: %w", err)
	}
	frames := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, fmt.Errorf("fabric: read frame length: %w", err)
		}
		if length > maxFrameSize {
			return nil, fmt.Errorf("fabric: frame too large: %d > %d", length, maxFrameSize)
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("fabric: read frame: %w", err)
		}
		frames = append(frames, data)
	}
	return frames, nil
}

// SplitEnvelope separates the routing envelope (zero or more identity
// frames followed by an empty delimiter frame) from the application
// payload that follows it, per the reply-endpoint envelope rule: replies
// must echo the envelope, delimiter included, as a prefix. If no empty
// frame is present the whole message is payload and the envelope is nil.
func SplitEnvelope(frames [][]byte) (envelope, payload [][]byte) {
	for i, f := range frames {
		if len(f) == 0 {
			return frames[:i+1], frames[i+1:]
		}
	}
	return nil, frames
}
