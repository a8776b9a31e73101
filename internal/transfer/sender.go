package transfer

import (
	"context"
	"time"

	"github.com/BioHazard786/syncwave/internal/protocol"
)

// Channel is the slice of a data channel the sender needs.
type Channel interface {
	Send(data []byte) error
	IsOpen() bool
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(threshold uint64)
	OnBufferedAmountLow(f func())
}

// PayloadSender streams one payload over a channel as protocol chunks,
// pausing whenever the channel's send buffer passes HighWaterMark.
type PayloadSender struct {
	channel     Channel
	controller  *ChunkSizeController
	sendTimeout time.Duration
}

func NewPayloadSender(ch Channel) *PayloadSender {
	ch.SetBufferedAmountLowThreshold(LowWaterMark)
	return &PayloadSender{
		channel:     ch,
		controller:  NewChunkSizeController(),
		sendTimeout: SendTimeout,
	}
}

// Send writes every chunk of payload, returning once the last one has been
// queued on the channel.
func (s *PayloadSender) Send(ctx context.Context, distribution, title string, payload []byte) error {
	if len(payload) == 0 {
		return NewError("send payload", ErrEmptyPayload)
	}
	if !s.channel.IsOpen() {
		return NewError("send payload", ErrChannelNotOpen)
	}

	size := uint64(len(payload))
	var offset uint64
	for offset < size {
		if err := ctx.Err(); err != nil {
			return NewError("send payload", err)
		}
		if !s.channel.IsOpen() {
			return NewError("send payload", ErrChannelClosed)
		}
		if err := s.waitForWindow(ctx); err != nil {
			return err
		}

		chunk := protocol.ChunkAt(distribution, title, payload, offset, s.controller.ChunkSize())
		n := uint64(len(chunk.Bytes))

		frame, err := protocol.EncodeChunk(chunk)
		if err != nil {
			return NewError("encode chunk", err)
		}
		if err := s.channel.Send(frame); err != nil {
			return NewError("send chunk", err)
		}

		offset += n
		s.controller.Record(int64(n))
	}
	return nil
}

// waitForWindow blocks while the channel is over the high water mark.
func (s *PayloadSender) waitForWindow(ctx context.Context) error {
	buffered := s.channel.BufferedAmount()
	if buffered < HighWaterMark {
		return nil
	}

	wait := make(chan struct{}, 1)
	s.channel.OnBufferedAmountLow(func() {
		select {
		case wait <- struct{}{}:
		default:
		}
	})

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return NewError("send payload", ctx.Err())
	case <-timer.C:
		if s.channel.BufferedAmount() < buffered {
			return nil
		}
		return WrapError("send payload", ErrBufferTimeout, "buffer not draining")
	}
}
