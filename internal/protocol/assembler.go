package protocol

import "fmt"

// Payload is a fully reassembled distribution.
type Payload struct {
	Distribution string
	Title        string
	Data         []byte
}

// Assembler rebuilds payloads from the chunks of a single sender. A chunk
// for a new distribution abandons whatever was in progress.
type Assembler struct {
	maxSize uint64

	distribution string
	title        string
	buf          []byte
	size         uint64
}

// NewAssembler returns an assembler refusing payloads above maxSize bytes.
func NewAssembler(maxSize uint64) *Assembler {
	return &Assembler{maxSize: maxSize}
}

// Add consumes c. It returns the payload once the last chunk arrives, nil
// while more are expected, or an error wrapping ErrPayloadDecode. Errors on
// the current distribution discard the partial payload.
func (a *Assembler) Add(c *Chunk) (*Payload, error) {
	if c.Distribution != a.distribution || a.buf == nil {
		// A stale frame of a superseded distribution; keep what is held.
		if c.Offset != 0 {
			return nil, fmt.Errorf("%w: distribution %q starts at offset %d", ErrPayloadDecode, c.Distribution, c.Offset)
		}
		if c.Size == 0 || c.Size > a.maxSize {
			a.reset()
			return nil, fmt.Errorf("%w: payload size %d outside (0, %d]", ErrPayloadDecode, c.Size, a.maxSize)
		}
		a.distribution = c.Distribution
		a.title = c.Title
		a.size = c.Size
		a.buf = make([]byte, 0, c.Size)
	}

	switch {
	case c.Size != a.size:
		a.reset()
		return nil, fmt.Errorf("%w: size changed mid-distribution", ErrPayloadDecode)
	case c.Offset != uint64(len(a.buf)):
		a.reset()
		return nil, fmt.Errorf("%w: chunk at offset %d, expected %d", ErrPayloadDecode, c.Offset, len(a.buf))
	case c.Offset+uint64(len(c.Bytes)) > a.size:
		a.reset()
		return nil, fmt.Errorf("%w: chunk overruns payload size %d", ErrPayloadDecode, a.size)
	}

	a.buf = append(a.buf, c.Bytes...)
	if uint64(len(a.buf)) < a.size {
		return nil, nil
	}

	p := &Payload{Distribution: a.distribution, Title: a.title, Data: a.buf}
	a.reset()
	return p, nil
}

func (a *Assembler) reset() {
	a.distribution = ""
	a.title = ""
	a.buf = nil
	a.size = 0
}

// ChunkAt returns the frame carrying payload from offset, at most n bytes.
// The title rides on the first frame only.
func ChunkAt(distribution, title string, payload []byte, offset uint64, n int) Chunk {
	size := uint64(len(payload))
	end := size
	if n > 0 {
		end = min(offset+uint64(n), size)
	}
	c := Chunk{
		Distribution: distribution,
		Offset:       offset,
		Size:         size,
		Bytes:        payload[offset:end],
	}
	if offset == 0 {
		c.Title = title
	}
	return c
}
