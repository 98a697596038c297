//go:build cgo

package transcode

import (
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astiav"
)

// ffmpegEngine backs the Engine interface with libav through go-astiav.
// It is stateless; every Open/CreateOutput/NewEncoder call produces an
// independent handle.
type ffmpegEngine struct{}

// NewFFmpegEngine returns the FFmpeg-backed engine.
func NewFFmpegEngine() (Engine, error) {
	return ffmpegEngine{}, nil
}

func mediaTypeToFFmpeg(kind MediaKind) (astiav.MediaType, error) {
	switch kind {
	case MediaKindVideo:
		return astiav.MediaTypeVideo, nil
	case MediaKindAudio:
		return astiav.MediaTypeAudio, nil
	default:
		return 0, fmt.Errorf("transcode: no ffmpeg media type for kind %s", kind)
	}
}

func pixelFormatFromFFmpeg(pf astiav.PixelFormat) PixelFormat {
	switch pf {
	case astiav.PixelFormatYuv420P:
		return PixelFormatI420
	case astiav.PixelFormatYuv422P:
		return PixelFormatI422
	case astiav.PixelFormatYuv444P:
		return PixelFormatI444
	case astiav.PixelFormatNv12:
		return PixelFormatNV12
	case astiav.PixelFormatGray8:
		return PixelFormatGray8
	case astiav.PixelFormatRgb24:
		return PixelFormatRGB24
	default:
		return PixelFormatUnknown
	}
}

func pixelFormatToFFmpeg(pf PixelFormat) (astiav.PixelFormat, error) {
	switch pf {
	case PixelFormatI420:
		return astiav.PixelFormatYuv420P, nil
	case PixelFormatI422:
		return astiav.PixelFormatYuv422P, nil
	case PixelFormatI444:
		return astiav.PixelFormatYuv444P, nil
	case PixelFormatNV12:
		return astiav.PixelFormatNv12, nil
	case PixelFormatGray8:
		return astiav.PixelFormatGray8, nil
	case PixelFormatRGB24:
		return astiav.PixelFormatRgb24, nil
	default:
		return 0, fmt.Errorf("transcode: no ffmpeg pixel format for %s", pf)
	}
}

func sampleFormatFromFFmpeg(sf astiav.SampleFormat) SampleFormat {
	switch sf {
	case astiav.SampleFormatU8:
		return SampleFormatU8
	case astiav.SampleFormatS16:
		return SampleFormatS16
	case astiav.SampleFormatS32:
		return SampleFormatS32
	case astiav.SampleFormatFlt:
		return SampleFormatF32
	case astiav.SampleFormatDbl:
		return SampleFormatF64
	case astiav.SampleFormatU8P:
		return SampleFormatU8P
	case astiav.SampleFormatS16P:
		return SampleFormatS16P
	case astiav.SampleFormatS32P:
		return SampleFormatS32P
	case astiav.SampleFormatFltp:
		return SampleFormatF32P
	case astiav.SampleFormatDblp:
		return SampleFormatF64P
	default:
		return SampleFormatUnknown
	}
}

func sampleFormatToFFmpeg(sf SampleFormat) (astiav.SampleFormat, error) {
	switch sf {
	case SampleFormatU8:
		return astiav.SampleFormatU8, nil
	case SampleFormatS16:
		return astiav.SampleFormatS16, nil
	case SampleFormatS32:
		return astiav.SampleFormatS32, nil
	case SampleFormatF32:
		return astiav.SampleFormatFlt, nil
	case SampleFormatF64:
		return astiav.SampleFormatDbl, nil
	case SampleFormatU8P:
		return astiav.SampleFormatU8P, nil
	case SampleFormatS16P:
		return astiav.SampleFormatS16P, nil
	case SampleFormatS32P:
		return astiav.SampleFormatS32P, nil
	case SampleFormatF32P:
		return astiav.SampleFormatFltp, nil
	case SampleFormatF64P:
		return astiav.SampleFormatDblp, nil
	default:
		return 0, fmt.Errorf("transcode: no ffmpeg sample format for %s", sf)
	}
}

func rationalFromFFmpeg(r astiav.Rational) Rational {
	return NewRational(r.Num(), r.Den())
}

func rationalToFFmpeg(r Rational) astiav.Rational {
	return astiav.NewRational(r.Num, r.Den)
}

func streamInfoFromFFmpeg(s *astiav.Stream) StreamInfo {
	cp := s.CodecParameters()
	info := StreamInfo{
		Index:     s.Index(),
		CodecName: cp.CodecID().Name(),
		TimeBase:  rationalFromFFmpeg(s.TimeBase()),
		handle:    s,
	}
	switch cp.MediaType() {
	case astiav.MediaTypeVideo:
		info.Kind = MediaKindVideo
		info.Width = cp.Width()
		info.Height = cp.Height()
		info.PixelFormat = pixelFormatFromFFmpeg(cp.PixelFormat())
		info.FrameRate = rationalFromFFmpeg(s.AvgFrameRate())
	case astiav.MediaTypeAudio:
		info.Kind = MediaKindAudio
		info.SampleFormat = sampleFormatFromFFmpeg(cp.SampleFormat())
		info.SampleRate = cp.SampleRate()
		info.Channels = cp.ChannelLayout().Channels()
	default:
		info.Kind = MediaKindOther
	}
	return info
}

func (ffmpegEngine) Open(path string) (Demuxer, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, errors.New("transcode: allocating format context failed")
	}
	if err := fc.OpenInput(path, nil, nil); err != nil {
		fc.Free()
		return nil, fmt.Errorf("transcode: opening %s: %w", path, err)
	}
	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		fc.Free()
		return nil, fmt.Errorf("transcode: probing streams of %s: %w", path, err)
	}
	d := &ffmpegDemuxer{fc: fc, pkt: astiav.AllocPacket()}
	for _, s := range fc.Streams() {
		d.streams = append(d.streams, streamInfoFromFFmpeg(s))
	}
	return d, nil
}

type ffmpegDemuxer struct {
	fc      *astiav.FormatContext
	pkt     *astiav.Packet
	streams []StreamInfo
}

func (d *ffmpegDemuxer) Streams() []StreamInfo { return d.streams }

func (d *ffmpegDemuxer) BestStream(kind MediaKind) (StreamInfo, error) {
	mt, err := mediaTypeToFFmpeg(kind)
	if err != nil {
		return StreamInfo{}, err
	}
	s, _, err := d.fc.FindBestStream(mt, -1, -1)
	if err != nil {
		return StreamInfo{}, fmt.Errorf("%w: no %s stream in input", ErrStreamNotFound, kind)
	}
	for _, info := range d.streams {
		if info.Index == s.Index() {
			return info, nil
		}
	}
	return StreamInfo{}, ErrStreamNotFound
}

func (d *ffmpegDemuxer) OpenDecoder(info StreamInfo) (Decoder, error) {
	s, ok := info.handle.(*astiav.Stream)
	if !ok {
		return nil, errors.New("transcode: stream does not belong to this engine")
	}
	codec := astiav.FindDecoder(s.CodecParameters().CodecID())
	if codec == nil {
		return nil, fmt.Errorf("%w: %s", ErrDecoderUnavailable, info.CodecName)
	}
	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, &DecoderInitError{Codec: codec.Name(), Err: errors.New("allocating codec context failed")}
	}
	if err := cc.FromCodecParameters(s.CodecParameters()); err != nil {
		cc.Free()
		return nil, &DecoderInitError{Codec: codec.Name(), Err: err}
	}
	if err := cc.Open(codec, nil); err != nil {
		cc.Free()
		return nil, &DecoderInitError{Codec: codec.Name(), Err: err}
	}
	return &ffmpegDecoder{
		cc:   cc,
		pkt:  astiav.AllocPacket(),
		f:    astiav.AllocFrame(),
		info: info,
	}, nil
}

func (d *ffmpegDemuxer) ReadPacket(pkt *Packet) error {
	d.pkt.Unref()
	if err := d.fc.ReadFrame(d.pkt); err != nil {
		if errors.Is(err, astiav.ErrEof) {
			return io.EOF
		}
		return fmt.Errorf("transcode: reading packet: %w", err)
	}
	idx := d.pkt.StreamIndex()
	pkt.StreamIndex = idx
	pkt.PTS = d.pkt.Pts()
	pkt.DTS = d.pkt.Dts()
	pkt.Duration = d.pkt.Duration()
	pkt.Keyframe = d.pkt.Flags().Has(astiav.PacketFlagKey)
	for _, info := range d.streams {
		if info.Index == idx {
			pkt.TimeBase = info.TimeBase
			break
		}
	}
	pkt.Data = append(pkt.Data[:0], d.pkt.Data()...)
	return nil
}

func (d *ffmpegDemuxer) Metadata() Metadata {
	md := Metadata{}
	dict := d.fc.Metadata()
	if dict == nil {
		return md
	}
	var e *astiav.DictionaryEntry
	for {
		e = dict.Get("", e, astiav.NewDictionaryFlags(astiav.DictionaryFlagIgnoreSuffix))
		if e == nil {
			return md
		}
		md[e.Key()] = e.Value()
	}
}

func (d *ffmpegDemuxer) Close() error {
	d.pkt.Free()
	d.fc.CloseInput()
	d.fc.Free()
	return nil
}

type ffmpegDecoder struct {
	cc   *astiav.CodecContext
	pkt  *astiav.Packet
	f    *astiav.Frame
	info StreamInfo
}

func (d *ffmpegDecoder) SendPacket(pkt *Packet) error {
	if pkt == nil {
		return mapCodecError(d.cc.SendPacket(nil), "flushing decoder")
	}
	d.pkt.Unref()
	if err := d.pkt.FromData(pkt.Data); err != nil {
		return fmt.Errorf("transcode: filling packet: %w", err)
	}
	d.pkt.SetPts(pkt.PTS)
	d.pkt.SetDts(pkt.DTS)
	d.pkt.SetDuration(pkt.Duration)
	d.pkt.SetStreamIndex(pkt.StreamIndex)
	return mapCodecError(d.cc.SendPacket(d.pkt), "decoding packet")
}

func (d *ffmpegDecoder) ReceiveFrame(f *Frame) error {
	d.f.Unref()
	if err := d.cc.ReceiveFrame(d.f); err != nil {
		return mapCodecError(err, "receiving frame")
	}
	switch d.info.Kind {
	case MediaKindAudio:
		return copyAudioFrameFromFFmpeg(f, d.f, d.info.TimeBase)
	default:
		return copyVideoFrameFromFFmpeg(f, d.f, d.info.TimeBase)
	}
}

func (d *ffmpegDecoder) Close() error {
	d.f.Free()
	d.pkt.Free()
	d.cc.Free()
	return nil
}

func mapCodecError(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, astiav.ErrEagain):
		return ErrAgain
	case errors.Is(err, astiav.ErrEof):
		return io.EOF
	default:
		return fmt.Errorf("transcode: %s: %w", op, err)
	}
}

// copyVideoFrameFromFFmpeg packs the decoded picture into tight planes,
// stripping any per-row alignment padding libav added.
func copyVideoFrameFromFFmpeg(dst *Frame, src *astiav.Frame, tb Rational) error {
	pf := pixelFormatFromFFmpeg(src.PixelFormat())
	if pf == PixelFormatUnknown {
		return fmt.Errorf("transcode: unsupported pixel format %s", src.PixelFormat())
	}
	dst.Kind = MediaKindVideo
	dst.Width = src.Width()
	dst.Height = src.Height()
	dst.Format = pf
	dst.PTS = src.Pts()
	dst.TimeBase = tb

	size, err := src.ImageBufferSize(1)
	if err != nil {
		return fmt.Errorf("transcode: sizing picture buffer: %w", err)
	}
	buf := make([]byte, size)
	if _, err := src.ImageCopyToBuffer(buf, 1); err != nil {
		return fmt.Errorf("transcode: copying picture: %w", err)
	}
	dst.Data = dst.Data[:0]
	dst.Stride = dst.Stride[:0]
	off := 0
	for _, pl := range pf.Planes(dst.Width, dst.Height) {
		n := pl.Size()
		dst.Data = append(dst.Data, buf[off:off+n])
		dst.Stride = append(dst.Stride, pl.RowBytes)
		off += n
	}
	return nil
}

func copyAudioFrameFromFFmpeg(dst *Frame, src *astiav.Frame, tb Rational) error {
	sf := sampleFormatFromFFmpeg(src.SampleFormat())
	if sf == SampleFormatUnknown {
		return fmt.Errorf("transcode: unsupported sample format %s", src.SampleFormat())
	}
	dst.Kind = MediaKindAudio
	dst.SampleFormat = sf
	dst.SampleRate = src.SampleRate()
	dst.Channels = src.ChannelLayout().Channels()
	dst.SampleCount = src.NbSamples()
	dst.PTS = src.Pts()
	dst.TimeBase = tb

	buf, err := src.Data().Bytes(1)
	if err != nil {
		return fmt.Errorf("transcode: copying samples: %w", err)
	}
	dst.Data = dst.Data[:0]
	dst.Stride = dst.Stride[:0]
	plane := dst.SampleCount * sf.BytesPerSample()
	if sf.IsPlanar() {
		for ch := 0; ch < dst.Channels; ch++ {
			off := ch * plane
			if off+plane > len(buf) {
				return fmt.Errorf("transcode: short sample buffer: %d bytes for %d channels", len(buf), dst.Channels)
			}
			dst.Data = append(dst.Data, buf[off:off+plane])
		}
		return nil
	}
	plane *= dst.Channels
	if plane > len(buf) {
		return fmt.Errorf("transcode: short sample buffer: %d bytes for %d samples", len(buf), dst.SampleCount)
	}
	dst.Data = append(dst.Data, buf[:plane])
	return nil
}

func (ffmpegEngine) NewEncoder(cfg EncoderConfig) (Encoder, error) {
	codec := astiav.FindEncoderByName(cfg.CodecName)
	if codec == nil {
		return nil, fmt.Errorf("transcode: encoder %q not found", cfg.CodecName)
	}
	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, errors.New("transcode: allocating codec context failed")
	}
	switch cfg.Kind {
	case MediaKindVideo:
		pf, err := pixelFormatToFFmpeg(cfg.PixelFormat)
		if err != nil {
			cc.Free()
			return nil, err
		}
		cc.SetWidth(cfg.Width)
		cc.SetHeight(cfg.Height)
		cc.SetPixelFormat(pf)
		cc.SetTimeBase(rationalToFFmpeg(cfg.TimeBase))
		if cfg.FrameRate.IsValid() {
			cc.SetFramerate(rationalToFFmpeg(cfg.FrameRate))
		}
	case MediaKindAudio:
		sf, err := sampleFormatToFFmpeg(cfg.SampleFormat)
		if err != nil {
			cc.Free()
			return nil, err
		}
		layout := astiav.ChannelLayoutStereo
		if cfg.Channels == 1 {
			layout = astiav.ChannelLayoutMono
		}
		cc.SetSampleFormat(sf)
		cc.SetSampleRate(cfg.SampleRate)
		cc.SetChannelLayout(layout)
		cc.SetTimeBase(rationalToFFmpeg(cfg.TimeBase))
	default:
		cc.Free()
		return nil, fmt.Errorf("transcode: cannot encode %s streams", cfg.Kind)
	}
	if cfg.BitRate > 0 {
		cc.SetBitRate(cfg.BitRate)
	}
	if err := cc.Open(codec, nil); err != nil {
		cc.Free()
		return nil, fmt.Errorf("transcode: opening encoder %s: %w", codec.Name(), err)
	}
	return &ffmpegEncoder{cc: cc, f: astiav.AllocFrame(), pkt: astiav.AllocPacket(), cfg: cfg}, nil
}

type ffmpegEncoder struct {
	cc  *astiav.CodecContext
	f   *astiav.Frame
	pkt *astiav.Packet
	cfg EncoderConfig
}

func (e *ffmpegEncoder) SendFrame(f *Frame) error {
	if f == nil {
		return mapCodecError(e.cc.SendFrame(nil), "flushing encoder")
	}
	e.f.Unref()
	var packed []byte
	switch f.Kind {
	case MediaKindVideo:
		pf, err := pixelFormatToFFmpeg(f.Format)
		if err != nil {
			return err
		}
		e.f.SetWidth(f.Width)
		e.f.SetHeight(f.Height)
		e.f.SetPixelFormat(pf)
	case MediaKindAudio:
		sf, err := sampleFormatToFFmpeg(f.SampleFormat)
		if err != nil {
			return err
		}
		layout := astiav.ChannelLayoutStereo
		if f.Channels == 1 {
			layout = astiav.ChannelLayoutMono
		}
		e.f.SetSampleFormat(sf)
		e.f.SetSampleRate(f.SampleRate)
		e.f.SetChannelLayout(layout)
		e.f.SetNbSamples(f.SampleCount)
	default:
		return fmt.Errorf("transcode: cannot encode %s frames", f.Kind)
	}
	if err := e.f.AllocBuffer(1); err != nil {
		return fmt.Errorf("transcode: allocating frame buffer: %w", err)
	}
	for _, plane := range f.Data {
		packed = append(packed, plane...)
	}
	if err := e.f.Data().SetBytes(packed, 1); err != nil {
		return fmt.Errorf("transcode: filling frame: %w", err)
	}
	e.f.SetPts(f.PTS)
	return mapCodecError(e.cc.SendFrame(e.f), "encoding frame")
}

func (e *ffmpegEncoder) ReceivePacket(pkt *Packet) error {
	e.pkt.Unref()
	if err := e.cc.ReceivePacket(e.pkt); err != nil {
		return mapCodecError(err, "receiving packet")
	}
	pkt.PTS = e.pkt.Pts()
	pkt.DTS = e.pkt.Dts()
	pkt.Duration = e.pkt.Duration()
	pkt.Keyframe = e.pkt.Flags().Has(astiav.PacketFlagKey)
	pkt.TimeBase = rationalFromFFmpeg(e.cc.TimeBase())
	pkt.Data = append(pkt.Data[:0], e.pkt.Data()...)
	return nil
}

func (e *ffmpegEncoder) Close() error {
	e.pkt.Free()
	e.f.Free()
	e.cc.Free()
	return nil
}

func (ffmpegEngine) CreateOutput(path string) (Muxer, error) {
	fc, err := astiav.AllocOutputFormatContext(nil, "", path)
	if err != nil {
		return nil, fmt.Errorf("transcode: allocating output context for %s: %w", path, err)
	}
	if fc == nil {
		return nil, errors.New("transcode: allocating output context failed")
	}
	ioc, err := astiav.OpenIOContext(path, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
	if err != nil {
		fc.Free()
		return nil, fmt.Errorf("transcode: opening %s for writing: %w", path, err)
	}
	fc.SetPb(ioc)
	return &ffmpegMuxer{fc: fc, ioc: ioc, pkt: astiav.AllocPacket(), md: Metadata{}}, nil
}

type ffmpegMuxer struct {
	fc      *astiav.FormatContext
	ioc     *astiav.IOContext
	pkt     *astiav.Packet
	md      Metadata
	streams []*astiav.Stream
}

func (m *ffmpegMuxer) AddStream(info StreamInfo) (int, error) {
	src, ok := info.handle.(*astiav.Stream)
	if !ok {
		return 0, errors.New("transcode: stream does not belong to this engine")
	}
	s := m.fc.NewStream(nil)
	if s == nil {
		return 0, errors.New("transcode: allocating output stream failed")
	}
	if err := src.CodecParameters().Copy(s.CodecParameters()); err != nil {
		return 0, fmt.Errorf("transcode: copying codec parameters: %w", err)
	}
	s.CodecParameters().SetCodecTag(0)
	s.SetTimeBase(rationalToFFmpeg(info.TimeBase))
	m.streams = append(m.streams, s)
	return s.Index(), nil
}

func (m *ffmpegMuxer) AddEncoderStream(enc Encoder) (int, error) {
	fe, ok := enc.(*ffmpegEncoder)
	if !ok {
		return 0, errors.New("transcode: encoder does not belong to this engine")
	}
	s := m.fc.NewStream(nil)
	if s == nil {
		return 0, errors.New("transcode: allocating output stream failed")
	}
	if err := fe.cc.ToCodecParameters(s.CodecParameters()); err != nil {
		return 0, fmt.Errorf("transcode: exporting codec parameters: %w", err)
	}
	s.SetTimeBase(fe.cc.TimeBase())
	m.streams = append(m.streams, s)
	return s.Index(), nil
}

func (m *ffmpegMuxer) SetMetadata(md Metadata) { m.md = md }

func (m *ffmpegMuxer) WriteHeader() error {
	if len(m.md) > 0 {
		d := astiav.NewDictionary()
		for k, v := range m.md {
			if err := d.Set(k, v, astiav.NewDictionaryFlags()); err != nil {
				return fmt.Errorf("transcode: setting metadata %s: %w", k, err)
			}
		}
		m.fc.SetMetadata(d)
	}
	if err := m.fc.WriteHeader(nil); err != nil {
		return fmt.Errorf("transcode: writing header: %w", err)
	}
	return nil
}

func (m *ffmpegMuxer) WritePacket(pkt *Packet) error {
	if pkt.StreamIndex < 0 || pkt.StreamIndex >= len(m.streams) {
		return fmt.Errorf("transcode: packet for unknown output stream %d", pkt.StreamIndex)
	}
	m.pkt.Unref()
	if err := m.pkt.FromData(pkt.Data); err != nil {
		return fmt.Errorf("transcode: filling packet: %w", err)
	}
	m.pkt.SetPts(pkt.PTS)
	m.pkt.SetDts(pkt.DTS)
	m.pkt.SetDuration(pkt.Duration)
	m.pkt.SetStreamIndex(pkt.StreamIndex)
	if pkt.Keyframe {
		m.pkt.SetFlags(astiav.NewPacketFlags(astiav.PacketFlagKey))
	}
	if pkt.TimeBase.IsValid() {
		m.pkt.RescaleTs(rationalToFFmpeg(pkt.TimeBase), m.streams[pkt.StreamIndex].TimeBase())
	}
	if err := m.fc.WriteInterleavedFrame(m.pkt); err != nil {
		return fmt.Errorf("transcode: writing packet: %w", err)
	}
	return nil
}

func (m *ffmpegMuxer) WriteTrailer() error {
	if err := m.fc.WriteTrailer(); err != nil {
		return fmt.Errorf("transcode: writing trailer: %w", err)
	}
	return nil
}

func (m *ffmpegMuxer) Close() error {
	m.pkt.Free()
	var err error
	if m.ioc != nil {
		err = m.ioc.Close()
		m.ioc = nil
	}
	m.fc.Free()
	return err
}
