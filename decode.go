package transcode

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// FrameFunc consumes one decoded frame. The frame is only valid for the
// duration of the call; the stage unrefs it afterwards.
type FrameFunc func(f *Frame) error

// DecodeStage owns the decoder state of one selected stream and turns
// packets into frames. Decode errors are absorbed per packet: they are
// logged and the pipeline continues with the next packet. Errors returned
// by the frame consumer are fatal and propagate.
type DecodeStage struct {
	dec     Decoder
	info    StreamInfo
	onFrame FrameFunc
	log     *slog.Logger

	frame   *Frame
	eos     bool
	flushed bool
	frames  int
	dropped int
}

// NewDecodeStage creates a decode stage for one stream. onFrame receives
// every produced frame; logger may be nil.
func NewDecodeStage(dec Decoder, info StreamInfo, onFrame FrameFunc, logger *slog.Logger) (*DecodeStage, error) {
	if dec == nil {
		return nil, errors.New("transcode: decoder is required")
	}
	if onFrame == nil {
		return nil, errors.New("transcode: frame consumer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DecodeStage{
		dec:     dec,
		info:    info,
		onFrame: onFrame,
		log:     logger,
		frame:   NewFrame(),
	}, nil
}

// Process submits one packet and forwards every frame the decoder produces.
// A packet the decoder rejects is logged and dropped; the error is not
// returned. Packets arriving after end of stream are ignored.
func (s *DecodeStage) Process(pkt *Packet) error {
	if s.eos {
		return nil
	}
	if err := s.dec.SendPacket(pkt); err != nil {
		s.dropped++
		s.log.Warn("submitting packet for decoding failed",
			"stream", s.info.Index, "kind", s.info.Kind.String(), "error", err)
		return nil
	}
	return s.drain()
}

// Flush drains any frames the decoder is still holding after input ends.
// It must be called exactly once per run; a flush after the decoder already
// reported end of stream produces zero frames and no error.
func (s *DecodeStage) Flush() error {
	if s.flushed {
		return errors.New("transcode: decoder already flushed")
	}
	s.flushed = true
	if s.eos {
		return nil
	}
	if err := s.dec.SendPacket(nil); err != nil {
		s.log.Warn("submitting flush packet failed",
			"stream", s.info.Index, "kind", s.info.Kind.String(), "error", err)
		return nil
	}
	return s.drain()
}

func (s *DecodeStage) drain() error {
	for {
		err := s.dec.ReceiveFrame(s.frame)
		switch {
		case errors.Is(err, ErrAgain):
			return nil
		case errors.Is(err, io.EOF):
			s.eos = true
			return nil
		case err != nil:
			s.dropped++
			s.log.Warn("decoding failed",
				"stream", s.info.Index, "kind", s.info.Kind.String(), "error", err)
			return nil
		}

		s.frames++
		consumeErr := s.onFrame(s.frame)
		s.frame.Unref()
		if consumeErr != nil {
			return fmt.Errorf("handling decoded %s frame %d: %w", s.info.Kind, s.frames-1, consumeErr)
		}
	}
}

// Frames returns the number of frames produced so far.
func (s *DecodeStage) Frames() int { return s.frames }

// Dropped returns the number of packets or frames lost to decode errors.
func (s *DecodeStage) Dropped() int { return s.dropped }

// Close releases the decoder state.
func (s *DecodeStage) Close() error {
	return s.dec.Close()
}
