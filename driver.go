package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Mode selects what the pipeline does with the input container.
type Mode int

const (
	ModeRaw       Mode = iota // decode and dump raw frames to per-kind sinks
	ModeRemux                 // stream-copy packets into a new container
	ModeTranscode             // decode, re-encode video, mux into a new container
)

func (m Mode) String() string {
	switch m {
	case ModeRaw:
		return "raw"
	case ModeRemux:
		return "remux"
	case ModeTranscode:
		return "transcode"
	default:
		return "unknown"
	}
}

// ParseMode parses a mode name as accepted on the command line.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "raw":
		return ModeRaw, nil
	case "remux":
		return ModeRemux, nil
	case "transcode":
		return ModeTranscode, nil
	default:
		return 0, fmt.Errorf("transcode: unknown mode %q", s)
	}
}

// Config configures a pipeline run.
type Config struct {
	Engine Engine // container/codec capability provider
	Input  string // input container path

	Mode Mode

	// Raw mode sinks. At least one must be set; an empty path disables
	// that media kind for the run.
	VideoPath string
	AudioPath string

	// Output container path for remux and transcode modes.
	Output string

	// MaxPackets stops the run after this many packets have been read
	// from the container (0 = unlimited). Frames of any single stream
	// never exceed this count.
	MaxPackets int

	// Remux-only: drop the first SkipPackets packets, and optionally hold
	// output until the first key frame after the skip window.
	SkipPackets  int
	WaitKeyframe bool

	// Transcode-only: target video encoder settings. Zero-valued geometry
	// fields are filled from the selected input stream.
	VideoEncoder EncoderConfig

	Logger *slog.Logger // nil = slog.Default()
}

// Stats reports what a finished (or aborted) run processed.
type Stats struct {
	PacketsRead    int
	PacketsWritten int
	VideoFrames    int
	AudioFrames    int
	DroppedPackets int
	BytesWritten   int64
}

// Pipeline drives one run: open container, select streams, pump packets
// through the decode/encode stages, flush, and release every resource in a
// fixed order on all exit paths. Construct one Pipeline per run; it holds
// no global state.
type Pipeline struct {
	cfg   Config
	log   *slog.Logger
	stats Stats
}

// NewPipeline validates the configuration and creates a pipeline.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Engine == nil {
		return nil, errors.New("transcode: engine is required")
	}
	if cfg.Input == "" {
		return nil, errors.New("transcode: input path is required")
	}
	if cfg.MaxPackets < 0 || cfg.SkipPackets < 0 {
		return nil, errors.New("transcode: packet caps must not be negative")
	}
	switch cfg.Mode {
	case ModeRaw:
		if cfg.VideoPath == "" && cfg.AudioPath == "" {
			return nil, errors.New("transcode: raw mode needs a video or audio sink path")
		}
	case ModeRemux, ModeTranscode:
		if cfg.Output == "" {
			return nil, fmt.Errorf("transcode: %s mode needs an output path", cfg.Mode)
		}
	default:
		return nil, fmt.Errorf("transcode: unknown mode %d", cfg.Mode)
	}
	if cfg.Mode == ModeTranscode && cfg.VideoEncoder.CodecName == "" {
		return nil, errors.New("transcode: transcode mode needs a video encoder codec name")
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{cfg: cfg, log: log}, nil
}

// Stats returns counters for the run. Valid after Run returns.
func (p *Pipeline) Stats() Stats { return p.stats }

// Run executes the pipeline until input exhaustion, the configured packet
// cap, or a fatal error. Resources are released in a fixed order on every
// exit path, including a failed open.
func (p *Pipeline) Run(ctx context.Context) error {
	dmx, err := p.cfg.Engine.Open(p.cfg.Input)
	if err != nil {
		return fmt.Errorf("transcode: opening input: %w", err)
	}

	p.logStreams(dmx)

	switch p.cfg.Mode {
	case ModeRemux:
		return p.runRemux(ctx, dmx)
	case ModeTranscode:
		return p.runTranscode(ctx, dmx)
	default:
		return p.runRaw(ctx, dmx)
	}
}

func (p *Pipeline) logStreams(dmx Demuxer) {
	for _, s := range dmx.Streams() {
		switch s.Kind {
		case MediaKindVideo:
			p.log.Info("input stream",
				"index", s.Index, "kind", "video", "codec", s.CodecName,
				"size", fmt.Sprintf("%dx%d", s.Width, s.Height),
				"pixel_format", s.PixelFormat.String(),
				"time_base", s.TimeBase.String())
		case MediaKindAudio:
			p.log.Info("input stream",
				"index", s.Index, "kind", "audio", "codec", s.CodecName,
				"sample_format", s.SampleFormat.String(),
				"sample_rate", s.SampleRate, "channels", s.Channels,
				"time_base", s.TimeBase.String())
		default:
			p.log.Info("input stream", "index", s.Index, "kind", s.Kind.String())
		}
	}
}

func (p *Pipeline) closeQuietly(name string, c io.Closer) {
	if err := c.Close(); err != nil {
		p.log.Warn("closing "+name+" failed", "error", err)
	}
}

// runRaw decodes the selected streams and appends packed frame data to the
// per-kind raw sinks.
func (p *Pipeline) runRaw(ctx context.Context, dmx Demuxer) (err error) {
	var (
		vstage, astage *DecodeStage
		vfmt           *VideoFormatter
		afmt           *AudioFormatter
		vfile, afile   *os.File
	)

	// Fixed teardown order: decoder state, container, sink files. Safe on
	// every exit path; nothing here is reachable twice.
	defer func() {
		if vstage != nil {
			p.closeQuietly("video decoder", vstage)
		}
		if astage != nil {
			p.closeQuietly("audio decoder", astage)
		}
		p.closeQuietly("input container", dmx)
		if vfile != nil {
			p.closeQuietly("video sink", vfile)
		}
		if afile != nil {
			p.closeQuietly("audio sink", afile)
		}
	}()

	var vinfo, ainfo StreamInfo

	if p.cfg.VideoPath != "" {
		info, dec, serr := SelectStream(dmx, MediaKindVideo)
		if serr != nil {
			p.log.Warn("video stream unavailable", "error", serr)
		} else {
			vinfo = info
			vfile, err = os.Create(p.cfg.VideoPath)
			if err != nil {
				p.closeQuietly("video decoder", dec)
				return fmt.Errorf("transcode: opening video sink: %w", err)
			}
			vfmt, err = NewVideoFormatter(vfile, vinfo)
			if err != nil {
				p.closeQuietly("video decoder", dec)
				return err
			}
			vstage, err = NewDecodeStage(dec, vinfo, func(f *Frame) error { return vfmt.Format(f) }, p.log)
			if err != nil {
				p.closeQuietly("video decoder", dec)
				return err
			}
		}
	}

	if p.cfg.AudioPath != "" {
		info, dec, serr := SelectStream(dmx, MediaKindAudio)
		if serr != nil {
			p.log.Warn("audio stream unavailable", "error", serr)
		} else {
			ainfo = info
			afile, err = os.Create(p.cfg.AudioPath)
			if err != nil {
				p.closeQuietly("audio decoder", dec)
				return fmt.Errorf("transcode: opening audio sink: %w", err)
			}
			afmt, err = NewAudioFormatter(afile, ainfo)
			if err != nil {
				p.closeQuietly("audio decoder", dec)
				return err
			}
			astage, err = NewDecodeStage(dec, ainfo, func(f *Frame) error { return afmt.Format(f) }, p.log)
			if err != nil {
				p.closeQuietly("audio decoder", dec)
				return err
			}
			if afmt.FirstChannelOnly() {
				p.log.Warn("decoder produces planar audio, raw sink will hold the first channel only",
					"sample_format", ainfo.SampleFormat.String())
			}
		}
	}

	if vstage == nil && astage == nil {
		return errors.New("transcode: could not select an audio or video stream from the input")
	}

	if err = p.pump(ctx, dmx, func(pkt *Packet) error {
		switch {
		case vstage != nil && pkt.StreamIndex == vinfo.Index:
			return vstage.Process(pkt)
		case astage != nil && pkt.StreamIndex == ainfo.Index:
			return astage.Process(pkt)
		}
		return nil
	}); err != nil {
		return err
	}

	// Flush each active decoder exactly once.
	if vstage != nil {
		if err = vstage.Flush(); err != nil {
			return err
		}
		p.stats.VideoFrames = vstage.Frames()
		p.stats.DroppedPackets += vstage.Dropped()
	}
	if astage != nil {
		if err = astage.Flush(); err != nil {
			return err
		}
		p.stats.AudioFrames = astage.Frames()
		p.stats.DroppedPackets += astage.Dropped()
	}

	p.log.Info("demuxing succeeded",
		"packets", p.stats.PacketsRead,
		"video_frames", p.stats.VideoFrames,
		"audio_frames", p.stats.AudioFrames)
	if vfmt != nil {
		p.stats.BytesWritten += int64(vfmt.Frames()) * int64(vfmt.FrameBytes())
		p.log.Info("play the raw video file with", "command", vfmt.PlayCommand(p.cfg.VideoPath))
	}
	if afmt != nil {
		p.stats.BytesWritten += afmt.Bytes()
		if cmd := afmt.PlayCommand(p.cfg.AudioPath); cmd != "" {
			p.log.Info("play the raw audio file with", "command", cmd)
		}
	}
	return nil
}

// runRemux stream-copies the best video and audio streams into a new
// container without touching codec state.
func (p *Pipeline) runRemux(ctx context.Context, dmx Demuxer) (err error) {
	var mux Muxer
	defer func() {
		p.closeQuietly("input container", dmx)
		if mux != nil {
			p.closeQuietly("output container", mux)
		}
	}()

	outIndex := make(map[int]int)
	var selected []StreamInfo
	for _, kind := range []MediaKind{MediaKindVideo, MediaKindAudio} {
		info, serr := dmx.BestStream(kind)
		if serr != nil {
			p.log.Warn(kind.String()+" stream unavailable", "error", serr)
			continue
		}
		selected = append(selected, info)
	}
	if len(selected) == 0 {
		return errors.New("transcode: could not select an audio or video stream from the input")
	}

	mux, err = p.cfg.Engine.CreateOutput(p.cfg.Output)
	if err != nil {
		return fmt.Errorf("transcode: creating output container: %w", err)
	}
	for _, info := range selected {
		idx, aerr := mux.AddStream(info)
		if aerr != nil {
			return fmt.Errorf("transcode: adding %s output stream: %w", info.Kind, aerr)
		}
		outIndex[info.Index] = idx
	}

	mux.SetMetadata(dmx.Metadata().StripVolatile())
	if err = mux.WriteHeader(); err != nil {
		return fmt.Errorf("transcode: writing container header: %w", err)
	}

	skipped := 0
	sawKeyframe := !p.cfg.WaitKeyframe
	if err = p.pump(ctx, dmx, func(pkt *Packet) error {
		if skipped < p.cfg.SkipPackets {
			skipped++
			return nil
		}
		if !sawKeyframe {
			if !pkt.Keyframe {
				return nil
			}
			sawKeyframe = true
		}
		idx, ok := outIndex[pkt.StreamIndex]
		if !ok {
			return nil
		}
		pkt.StreamIndex = idx
		n := len(pkt.Data)
		if werr := mux.WritePacket(pkt); werr != nil {
			return fmt.Errorf("transcode: writing packet failed: %w", werr)
		}
		p.stats.PacketsWritten++
		p.stats.BytesWritten += int64(n)
		return nil
	}); err != nil {
		return err
	}

	if err = mux.WriteTrailer(); err != nil {
		return fmt.Errorf("transcode: writing container trailer: %w", err)
	}
	p.log.Info("remux succeeded",
		"packets_read", p.stats.PacketsRead, "packets_written", p.stats.PacketsWritten)
	return nil
}

// runTranscode decodes the best video stream, re-encodes it with the
// configured encoder, and muxes the result together with a stream copy of
// the best audio stream.
func (p *Pipeline) runTranscode(ctx context.Context, dmx Demuxer) (err error) {
	var (
		vstage *DecodeStage
		estage *EncodeStage
		mux    Muxer
	)
	defer func() {
		if vstage != nil {
			p.closeQuietly("video decoder", vstage)
		}
		if estage != nil {
			p.closeQuietly("video encoder", estage)
		}
		p.closeQuietly("input container", dmx)
		if mux != nil {
			p.closeQuietly("output container", mux)
		}
	}()

	vinfo, vdec, serr := SelectStream(dmx, MediaKindVideo)
	if serr != nil {
		return fmt.Errorf("transcode: transcoding needs a decodable video stream: %w", serr)
	}

	var (
		ainfo    StreamInfo
		hasAudio bool
	)
	if info, aerr := dmx.BestStream(MediaKindAudio); aerr != nil {
		p.log.Warn("audio stream unavailable, output will be video only", "error", aerr)
	} else {
		ainfo = info
		hasAudio = true
	}

	encCfg := p.cfg.VideoEncoder
	encCfg.Kind = MediaKindVideo
	if encCfg.Width == 0 {
		encCfg.Width = vinfo.Width
	}
	if encCfg.Height == 0 {
		encCfg.Height = vinfo.Height
	}
	if encCfg.PixelFormat == PixelFormatUnknown {
		encCfg.PixelFormat = vinfo.PixelFormat
	}
	if !encCfg.TimeBase.IsValid() {
		encCfg.TimeBase = vinfo.TimeBase
	}
	if !encCfg.FrameRate.IsValid() {
		encCfg.FrameRate = vinfo.FrameRate
	}

	enc, err := p.cfg.Engine.NewEncoder(encCfg)
	if err != nil {
		p.closeQuietly("video decoder", vdec)
		return fmt.Errorf("transcode: opening %s encoder: %w", encCfg.CodecName, err)
	}

	mux, err = p.cfg.Engine.CreateOutput(p.cfg.Output)
	if err != nil {
		p.closeQuietly("video decoder", vdec)
		p.closeQuietly("video encoder", enc)
		return fmt.Errorf("transcode: creating output container: %w", err)
	}

	vOut, err := mux.AddEncoderStream(enc)
	if err != nil {
		p.closeQuietly("video decoder", vdec)
		p.closeQuietly("video encoder", enc)
		return fmt.Errorf("transcode: adding video output stream: %w", err)
	}
	aOut := -1
	if hasAudio {
		aOut, err = mux.AddStream(ainfo)
		if err != nil {
			p.closeQuietly("video decoder", vdec)
			p.closeQuietly("video encoder", enc)
			return fmt.Errorf("transcode: adding audio output stream: %w", err)
		}
	}

	mux.SetMetadata(dmx.Metadata().StripVolatile())
	if err = mux.WriteHeader(); err != nil {
		p.closeQuietly("video decoder", vdec)
		p.closeQuietly("video encoder", enc)
		return fmt.Errorf("transcode: writing container header: %w", err)
	}

	estage, err = NewEncodeStage(enc, mux, vOut, encCfg.TimeBase)
	if err != nil {
		p.closeQuietly("video decoder", vdec)
		p.closeQuietly("video encoder", enc)
		return err
	}
	vstage, err = NewDecodeStage(vdec, vinfo, func(f *Frame) error { return estage.Encode(f) }, p.log)
	if err != nil {
		p.closeQuietly("video decoder", vdec)
		return err
	}

	if err = p.pump(ctx, dmx, func(pkt *Packet) error {
		switch {
		case pkt.StreamIndex == vinfo.Index:
			return vstage.Process(pkt)
		case hasAudio && pkt.StreamIndex == ainfo.Index:
			pkt.StreamIndex = aOut
			if werr := mux.WritePacket(pkt); werr != nil {
				return fmt.Errorf("transcode: writing audio packet failed: %w", werr)
			}
			p.stats.PacketsWritten++
		}
		return nil
	}); err != nil {
		return err
	}

	if err = vstage.Flush(); err != nil {
		return err
	}
	if err = estage.Flush(); err != nil {
		return err
	}
	if err = mux.WriteTrailer(); err != nil {
		return fmt.Errorf("transcode: writing container trailer: %w", err)
	}

	p.stats.VideoFrames = vstage.Frames()
	p.stats.DroppedPackets = vstage.Dropped()
	p.stats.PacketsWritten += estage.Packets()
	p.stats.BytesWritten += estage.Bytes()
	p.log.Info("transcode succeeded",
		"frames", p.stats.VideoFrames,
		"packets_written", p.stats.PacketsWritten,
		"bytes_written", p.stats.BytesWritten)
	return nil
}

// pump reads packets until end of input, a read failure, the packet cap, or
// a fatal routing error. The packet is released after every route call,
// whatever its outcome.
func (p *Pipeline) pump(ctx context.Context, dmx Demuxer, route func(pkt *Packet) error) error {
	pkt := NewPacket()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := dmx.ReadPacket(pkt); err != nil {
			if !errors.Is(err, io.EOF) {
				p.log.Warn("reading packet failed, stopping", "error", err)
			}
			return nil
		}
		p.stats.PacketsRead++

		routeErr := route(pkt)
		pkt.Unref()
		if routeErr != nil {
			return routeErr
		}

		if p.cfg.MaxPackets > 0 && p.stats.PacketsRead >= p.cfg.MaxPackets {
			return nil
		}
	}
}
