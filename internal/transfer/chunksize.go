package transfer

import (
	"sync"
	"time"
)

const (
	MinChunkSize     = 4 * 1024  // very slow links
	MaxChunkSize     = 48 * 1024 // stays under the 64 KiB SCTP message default with framing
	DefaultChunkSize = 16 * 1024

	HighWaterMark = 2 * 1024 * 1024 // pause sending above this much buffered
	LowWaterMark  = 512 * 1024      // resume below this

	SendTimeout = 60 * time.Second
)

// Speed thresholds for chunk size adjustment (in bytes per second)
const (
	speedVerySlow = 50 * 1024
	speedSlow     = 200 * 1024
	speedMedium   = 500 * 1024
	speedFast     = 1024 * 1024
)

// ChunkSizeController adapts the frame size to observed throughput.
type ChunkSizeController struct {
	mu        sync.Mutex
	size      int
	pending   int64
	lastTick  time.Time
	lastSpeed float64
}

func NewChunkSizeController() *ChunkSizeController {
	return &ChunkSizeController{size: DefaultChunkSize, lastTick: time.Now()}
}

// ChunkSize returns the size to use for the next frame.
func (c *ChunkSizeController) ChunkSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Record notes n bytes handed to the channel and re-evaluates the size
// every 500ms or every ten frames.
func (c *ChunkSizeController) Record(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending += n
	elapsed := time.Since(c.lastTick)
	if elapsed < 500*time.Millisecond && c.pending < int64(c.size*10) {
		return
	}
	if elapsed <= 0 {
		return
	}

	speed := float64(c.pending) / elapsed.Seconds()
	if c.lastSpeed > 0 {
		speed = c.lastSpeed*0.7 + speed*0.3
	}
	c.lastSpeed = speed

	// Step a quarter of the way toward the target.
	target := targetChunkSize(speed)
	next := c.size + int(float64(target-c.size)*0.25)
	c.size = max(MinChunkSize, min(MaxChunkSize, next))

	c.pending = 0
	c.lastTick = time.Now()
}

func targetChunkSize(speed float64) int {
	switch {
	case speed < speedVerySlow:
		return MinChunkSize
	case speed < speedSlow:
		return 8 * 1024
	case speed < speedMedium:
		return 16 * 1024
	case speed < speedFast:
		return 32 * 1024
	default:
		return MaxChunkSize
	}
}
