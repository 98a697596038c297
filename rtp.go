package transcode

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// Default MTU for RTP packets (UDP safe)
const DefaultMTU = 1200

// PayloaderForCodec returns the RTP payloader matching an encoder codec
// name as reported by the engine.
func PayloaderForCodec(name string) (rtp.Payloader, error) {
	switch name {
	case "h264", "libx264":
		return &codecs.H264Payloader{}, nil
	case "h265", "hevc", "libx265":
		return &codecs.H265Payloader{}, nil
	case "vp8", "libvpx":
		return &codecs.VP8Payloader{}, nil
	case "vp9", "libvpx-vp9":
		return &codecs.VP9Payloader{}, nil
	case "av1", "libaom-av1":
		return &codecs.AV1Payloader{}, nil
	case "opus", "libopus":
		return &codecs.OpusPayloader{}, nil
	default:
		return nil, fmt.Errorf("transcode: no RTP payloader for codec %q", name)
	}
}

// RTPSinkConfig configures an RTPSink.
type RTPSinkConfig struct {
	// Writer receives one marshaled RTP packet per Write call, so a
	// net.PacketConn wrapper or a UDP connection works directly.
	Writer io.Writer

	// CodecName selects the payloader. Ignored when Payloader is set.
	CodecName string

	// Payloader overrides the CodecName lookup.
	Payloader rtp.Payloader

	PayloadType uint8
	SSRC        uint32
	ClockRate   uint32 // RTP clock rate, 90000 for video codecs
	MTU         uint16 // 0 = DefaultMTU

	// DefaultDuration is the clock tick advance applied to packets that
	// carry no duration of their own.
	DefaultDuration uint32
}

// RTPSink is a PacketSink that segments encoded packets into RTP packets
// and writes them to the configured writer. It can stand in for a Muxer on
// the encoder side of a transcode pipeline when the output is a live feed
// rather than a container file.
type RTPSink struct {
	mu         sync.Mutex
	w          io.Writer
	packetizer rtp.Packetizer
	clockRate  uint32
	defaultDur uint32

	packets uint64
	bytes   uint64
}

// NewRTPSink validates the configuration and creates a sink.
func NewRTPSink(cfg RTPSinkConfig) (*RTPSink, error) {
	if cfg.Writer == nil {
		return nil, errors.New("transcode: rtp sink writer is required")
	}
	if cfg.ClockRate == 0 {
		return nil, errors.New("transcode: rtp clock rate is required")
	}
	payloader := cfg.Payloader
	if payloader == nil {
		var err error
		payloader, err = PayloaderForCodec(cfg.CodecName)
		if err != nil {
			return nil, err
		}
	}
	mtu := cfg.MTU
	if mtu == 0 {
		mtu = DefaultMTU
	}
	return &RTPSink{
		w: cfg.Writer,
		packetizer: rtp.NewPacketizer(
			mtu, cfg.PayloadType, cfg.SSRC,
			payloader, rtp.NewRandomSequencer(), cfg.ClockRate),
		clockRate:  cfg.ClockRate,
		defaultDur: cfg.DefaultDuration,
	}, nil
}

// WritePacket packetizes one encoded packet and writes the resulting RTP
// packets. The packet duration, rescaled to the RTP clock, drives the
// timestamp advance.
func (s *RTPSink) WritePacket(pkt *Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := s.defaultDur
	if pkt.Duration > 0 && pkt.TimeBase.IsValid() {
		samples = uint32(RescaleTimestamp(pkt.Duration, pkt.TimeBase, NewRational(1, int(s.clockRate))))
	}

	for _, rp := range s.packetizer.Packetize(pkt.Data, samples) {
		buf, err := rp.Marshal()
		if err != nil {
			return fmt.Errorf("transcode: marshaling rtp packet: %w", err)
		}
		if _, err := s.w.Write(buf); err != nil {
			return fmt.Errorf("transcode: writing rtp packet: %w", err)
		}
		s.packets++
		s.bytes += uint64(len(buf))
	}
	return nil
}

// Packets returns the number of RTP packets written so far.
func (s *RTPSink) Packets() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packets
}

// Bytes returns the number of RTP payload bytes written so far,
// headers included.
func (s *RTPSink) Bytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}
