package transcode

import (
	"errors"
	"fmt"
	"io"
)

// encodeState tracks the encode stage's lifecycle.
type encodeState int

const (
	encodeStateIdle     encodeState = iota // no frame submitted yet
	encodeStateEncoding                    // frames flowing
	encodeStateDraining                    // flush requested
	encodeStateClosed                      // encoder fully drained
)

func (s encodeState) String() string {
	switch s {
	case encodeStateIdle:
		return "idle"
	case encodeStateEncoding:
		return "encoding"
	case encodeStateDraining:
		return "draining"
	case encodeStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EncodeStage owns the encoder state of one output stream and turns frames
// into packets written to a sink. Unlike decoding, every encoder or sink
// error is fatal: a dropped output packet corrupts the output stream
// irrecoverably.
type EncodeStage struct {
	enc         Encoder
	sink        PacketSink
	streamIndex int
	timeBase    Rational

	pkt     *Packet
	state   encodeState
	packets int
	bytes   int64
}

// NewEncodeStage creates an encode stage writing packets stamped with
// streamIndex to sink.
func NewEncodeStage(enc Encoder, sink PacketSink, streamIndex int, timeBase Rational) (*EncodeStage, error) {
	if enc == nil {
		return nil, errors.New("transcode: encoder is required")
	}
	if sink == nil {
		return nil, errors.New("transcode: packet sink is required")
	}
	return &EncodeStage{
		enc:         enc,
		sink:        sink,
		streamIndex: streamIndex,
		timeBase:    timeBase,
		pkt:         NewPacket(),
	}, nil
}

// Encode submits one frame and writes every packet the encoder produces.
func (s *EncodeStage) Encode(f *Frame) error {
	switch s.state {
	case encodeStateDraining, encodeStateClosed:
		return fmt.Errorf("transcode: encoder is %s, cannot accept frames", s.state)
	}
	s.state = encodeStateEncoding

	if err := s.enc.SendFrame(f); err != nil {
		return fmt.Errorf("transcode: submitting frame for encoding failed: %w", err)
	}
	return s.drain()
}

// Flush submits the end-of-stream sentinel exactly once and drains every
// remaining packet. When the sink is a muxer, write its trailer afterwards.
func (s *EncodeStage) Flush() error {
	switch s.state {
	case encodeStateDraining, encodeStateClosed:
		return errors.New("transcode: encoder already flushed")
	}
	s.state = encodeStateDraining

	if err := s.enc.SendFrame(nil); err != nil {
		return fmt.Errorf("transcode: submitting encoder flush failed: %w", err)
	}
	if err := s.drain(); err != nil {
		return err
	}
	if s.state != encodeStateClosed {
		return errors.New("transcode: encoder did not signal end of stream after flush")
	}
	return nil
}

func (s *EncodeStage) drain() error {
	for {
		err := s.enc.ReceivePacket(s.pkt)
		switch {
		case errors.Is(err, ErrAgain):
			return nil
		case errors.Is(err, io.EOF):
			s.state = encodeStateClosed
			return nil
		case err != nil:
			return fmt.Errorf("transcode: encoding failed: %w", err)
		}

		s.pkt.StreamIndex = s.streamIndex
		if !s.pkt.TimeBase.IsValid() {
			s.pkt.TimeBase = s.timeBase
		}
		n := len(s.pkt.Data)
		writeErr := s.sink.WritePacket(s.pkt)
		s.pkt.Unref()
		if writeErr != nil {
			return fmt.Errorf("transcode: writing encoded packet failed: %w", writeErr)
		}
		s.packets++
		s.bytes += int64(n)
	}
}

// Packets returns the number of packets written so far.
func (s *EncodeStage) Packets() int { return s.packets }

// Bytes returns the number of encoded payload bytes written so far.
func (s *EncodeStage) Bytes() int64 { return s.bytes }

// Close releases the encoder state.
func (s *EncodeStage) Close() error {
	return s.enc.Close()
}
