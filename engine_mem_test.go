package transcode

// An in-memory Engine used by the pipeline tests. Its "codec" serializes
// frames into packets (a small header plus the packed plane bytes), so a
// container written by the mem muxer can be reopened and decoded again.
// Every handle counts its Close calls so teardown behavior is observable.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

type memEngine struct {
	inputs  map[string]*memContainer
	outputs map[string]*memOutput

	openErr   error
	createErr error

	demuxers []*memDemuxer
	encoders []*memEncoder
	muxers   []*memMuxer
}

func newMemEngine() *memEngine {
	return &memEngine{
		inputs:  make(map[string]*memContainer),
		outputs: make(map[string]*memOutput),
	}
}

// memContainer is a pre-built input: streams, a packet sequence and
// container metadata.
type memContainer struct {
	streams  []StreamInfo
	packets  []*Packet
	metadata Metadata

	// decodeDelay makes decoders hold back that many frames until they are
	// flushed, mimicking codecs with reorder buffers.
	decodeDelay int

	// decoderErr, when set for a kind, makes OpenDecoder fail for it.
	decoderErr map[MediaKind]error
}

func (e *memEngine) Open(path string) (Demuxer, error) {
	if e.openErr != nil {
		return nil, e.openErr
	}
	c, ok := e.inputs[path]
	if !ok {
		if o, found := e.outputs[path]; found {
			c = o.asContainer()
		} else {
			return nil, fmt.Errorf("no such input %s", path)
		}
	}
	d := &memDemuxer{c: c, metadata: c.metadata.Clone()}
	e.demuxers = append(e.demuxers, d)
	return d, nil
}

func (e *memEngine) CreateOutput(path string) (Muxer, error) {
	if e.createErr != nil {
		return nil, e.createErr
	}
	o := &memOutput{metadata: Metadata{}}
	e.outputs[path] = o
	m := &memMuxer{out: o}
	e.muxers = append(e.muxers, m)
	return m, nil
}

func (e *memEngine) NewEncoder(cfg EncoderConfig) (Encoder, error) {
	if cfg.CodecName == "" {
		return nil, errors.New("encoder name is required")
	}
	enc := &memEncoder{cfg: cfg}
	e.encoders = append(e.encoders, enc)
	return enc, nil
}

type memDemuxer struct {
	c        *memContainer
	metadata Metadata
	pos      int
	decoders []*memDecoder
	closes   int
}

func (d *memDemuxer) Streams() []StreamInfo { return d.c.streams }

func (d *memDemuxer) BestStream(kind MediaKind) (StreamInfo, error) {
	for _, s := range d.c.streams {
		if s.Kind == kind {
			return s, nil
		}
	}
	return StreamInfo{}, ErrStreamNotFound
}

func (d *memDemuxer) OpenDecoder(info StreamInfo) (Decoder, error) {
	if err := d.c.decoderErr[info.Kind]; err != nil {
		return nil, err
	}
	dec := &memDecoder{info: info, delay: d.c.decodeDelay}
	d.decoders = append(d.decoders, dec)
	return dec, nil
}

func (d *memDemuxer) ReadPacket(pkt *Packet) error {
	if d.pos >= len(d.c.packets) {
		return io.EOF
	}
	src := d.c.packets[d.pos]
	d.pos++
	pkt.StreamIndex = src.StreamIndex
	pkt.PTS = src.PTS
	pkt.DTS = src.DTS
	pkt.Duration = src.Duration
	pkt.TimeBase = src.TimeBase
	pkt.Keyframe = src.Keyframe
	pkt.Data = append(pkt.Data[:0], src.Data...)
	return nil
}

func (d *memDemuxer) Metadata() Metadata { return d.metadata }

func (d *memDemuxer) Close() error {
	d.closes++
	return nil
}

// memDecoder deserializes packets back into frames. With a non-zero delay
// the most recent frames stay buffered until the flush packet arrives.
type memDecoder struct {
	info    StreamInfo
	delay   int
	pending []*Frame
	ready   []*Frame
	flushed bool
	closes  int
}

func (d *memDecoder) SendPacket(pkt *Packet) error {
	if pkt == nil {
		d.flushed = true
		d.ready = append(d.ready, d.pending...)
		d.pending = nil
		return nil
	}
	f, err := decodeMemPacket(d.info.Kind, pkt)
	if err != nil {
		return err
	}
	d.pending = append(d.pending, f)
	for len(d.pending) > d.delay {
		d.ready = append(d.ready, d.pending[0])
		d.pending = d.pending[1:]
	}
	return nil
}

func (d *memDecoder) ReceiveFrame(f *Frame) error {
	if len(d.ready) == 0 {
		if d.flushed {
			return io.EOF
		}
		return ErrAgain
	}
	src := d.ready[0]
	d.ready = d.ready[1:]
	copyFrameInto(f, src)
	return nil
}

func (d *memDecoder) Close() error {
	d.closes++
	return nil
}

// memEncoder serializes frames into packets with a one-frame delay, so
// the final packet only appears after a flush.
type memEncoder struct {
	cfg     EncoderConfig
	held    *Frame
	ready   []*Packet
	flushed bool
	closes  int
}

func (e *memEncoder) SendFrame(f *Frame) error {
	if f == nil {
		e.flushed = true
		if e.held != nil {
			e.ready = append(e.ready, encodeMemFrame(e.held, e.cfg.TimeBase))
			e.held = nil
		}
		return nil
	}
	if e.flushed {
		return errors.New("encoder is flushed")
	}
	if e.held != nil {
		e.ready = append(e.ready, encodeMemFrame(e.held, e.cfg.TimeBase))
	}
	e.held = f.Clone()
	return nil
}

func (e *memEncoder) ReceivePacket(pkt *Packet) error {
	if len(e.ready) == 0 {
		if e.flushed {
			return io.EOF
		}
		return ErrAgain
	}
	src := e.ready[0]
	e.ready = e.ready[1:]
	pkt.StreamIndex = src.StreamIndex
	pkt.PTS = src.PTS
	pkt.DTS = src.DTS
	pkt.Duration = src.Duration
	pkt.TimeBase = src.TimeBase
	pkt.Keyframe = src.Keyframe
	pkt.Data = append(pkt.Data[:0], src.Data...)
	return nil
}

func (e *memEncoder) Close() error {
	e.closes++
	return nil
}

// memOutput is the product of a mem muxer run, reopenable as an input.
type memOutput struct {
	streams  []StreamInfo
	metadata Metadata
	packets  []*Packet
	header   bool
	trailer  bool
}

func (o *memOutput) asContainer() *memContainer {
	return &memContainer{
		streams:  o.streams,
		packets:  o.packets,
		metadata: o.metadata,
	}
}

type memMuxer struct {
	out    *memOutput
	closes int
}

func (m *memMuxer) AddStream(info StreamInfo) (int, error) {
	if m.out.header {
		return 0, errors.New("header already written")
	}
	info.Index = len(m.out.streams)
	info.handle = nil
	m.out.streams = append(m.out.streams, info)
	return info.Index, nil
}

func (m *memMuxer) AddEncoderStream(enc Encoder) (int, error) {
	me, ok := enc.(*memEncoder)
	if !ok {
		return 0, errors.New("encoder does not belong to this engine")
	}
	cfg := me.cfg
	return m.AddStream(StreamInfo{
		Kind:        cfg.Kind,
		CodecName:   cfg.CodecName,
		TimeBase:    cfg.TimeBase,
		Width:       cfg.Width,
		Height:      cfg.Height,
		PixelFormat: cfg.PixelFormat,
		FrameRate:   cfg.FrameRate,
	})
}

func (m *memMuxer) SetMetadata(md Metadata) { m.out.metadata = md.Clone() }

func (m *memMuxer) WriteHeader() error {
	if m.out.header {
		return errors.New("header already written")
	}
	m.out.header = true
	return nil
}

func (m *memMuxer) WritePacket(pkt *Packet) error {
	if !m.out.header {
		return errors.New("header not written")
	}
	if m.out.trailer {
		return errors.New("trailer already written")
	}
	if pkt.StreamIndex < 0 || pkt.StreamIndex >= len(m.out.streams) {
		return fmt.Errorf("packet for unknown stream %d", pkt.StreamIndex)
	}
	m.out.packets = append(m.out.packets, pkt.Clone())
	return nil
}

func (m *memMuxer) WriteTrailer() error {
	if !m.out.header {
		return errors.New("header not written")
	}
	m.out.trailer = true
	return nil
}

func (m *memMuxer) Close() error {
	m.closes++
	return nil
}

// Packet payload layout of the mem codec.
//
//	video: uint16 width, uint16 height, byte pixel format, packed planes
//	audio: uint16 sample count, byte sample format, byte channels, samples

func encodeVideoPayload(width, height int, pf PixelFormat, fill byte) []byte {
	size := pf.FrameSize(width, height)
	data := make([]byte, 5+size)
	binary.BigEndian.PutUint16(data[0:], uint16(width))
	binary.BigEndian.PutUint16(data[2:], uint16(height))
	data[4] = byte(pf)
	for i := range data[5:] {
		data[5+i] = fill
	}
	return data
}

func encodeAudioPayload(samples int, sf SampleFormat, channels int, fill byte) []byte {
	n := samples * sf.BytesPerSample() * channels
	data := make([]byte, 4+n)
	binary.BigEndian.PutUint16(data[0:], uint16(samples))
	data[2] = byte(sf)
	data[3] = byte(channels)
	for i := range data[4:] {
		data[4+i] = fill
	}
	return data
}

func decodeMemPacket(kind MediaKind, pkt *Packet) (*Frame, error) {
	switch kind {
	case MediaKindVideo:
		return decodeVideoPayload(pkt)
	case MediaKindAudio:
		return decodeAudioPayload(pkt)
	default:
		return nil, fmt.Errorf("cannot decode %s packets", kind)
	}
}

func decodeVideoPayload(pkt *Packet) (*Frame, error) {
	if len(pkt.Data) < 5 {
		return nil, errors.New("truncated video packet")
	}
	width := int(binary.BigEndian.Uint16(pkt.Data[0:]))
	height := int(binary.BigEndian.Uint16(pkt.Data[2:]))
	pf := PixelFormat(pkt.Data[4])
	layout := pf.Planes(width, height)
	if layout == nil {
		return nil, fmt.Errorf("bad pixel format byte %d", pkt.Data[4])
	}
	if len(pkt.Data) != 5+pf.FrameSize(width, height) {
		return nil, errors.New("video packet size mismatch")
	}
	f := &Frame{
		Kind:     MediaKindVideo,
		Width:    width,
		Height:   height,
		Format:   pf,
		PTS:      pkt.PTS,
		TimeBase: pkt.TimeBase,
	}
	off := 5
	for _, l := range layout {
		f.Data = append(f.Data, append([]byte(nil), pkt.Data[off:off+l.Size()]...))
		f.Stride = append(f.Stride, l.RowBytes)
		off += l.Size()
	}
	return f, nil
}

func decodeAudioPayload(pkt *Packet) (*Frame, error) {
	if len(pkt.Data) < 4 {
		return nil, errors.New("truncated audio packet")
	}
	samples := int(binary.BigEndian.Uint16(pkt.Data[0:]))
	sf := SampleFormat(pkt.Data[2])
	channels := int(pkt.Data[3])
	bps := sf.BytesPerSample()
	if bps == 0 || channels == 0 {
		return nil, errors.New("bad audio packet header")
	}
	if len(pkt.Data) != 4+samples*bps*channels {
		return nil, errors.New("audio packet size mismatch")
	}
	f := &Frame{
		Kind:         MediaKindAudio,
		SampleFormat: sf,
		SampleRate:   48000,
		Channels:     channels,
		SampleCount:  samples,
		PTS:          pkt.PTS,
		TimeBase:     pkt.TimeBase,
	}
	payload := pkt.Data[4:]
	if sf.IsPlanar() {
		plane := samples * bps
		for ch := 0; ch < channels; ch++ {
			f.Data = append(f.Data, append([]byte(nil), payload[ch*plane:(ch+1)*plane]...))
		}
	} else {
		f.Data = append(f.Data, append([]byte(nil), payload...))
	}
	return f, nil
}

func encodeMemFrame(f *Frame, tb Rational) *Packet {
	var data []byte
	switch f.Kind {
	case MediaKindAudio:
		data = make([]byte, 4)
		binary.BigEndian.PutUint16(data[0:], uint16(f.SampleCount))
		data[2] = byte(f.SampleFormat)
		data[3] = byte(f.Channels)
		for _, plane := range f.Data {
			data = append(data, plane...)
		}
	default:
		data = make([]byte, 5)
		binary.BigEndian.PutUint16(data[0:], uint16(f.Width))
		binary.BigEndian.PutUint16(data[2:], uint16(f.Height))
		data[4] = byte(f.Format)
		for _, plane := range f.Data {
			data = append(data, plane...)
		}
	}
	return &Packet{
		PTS:      f.PTS,
		DTS:      f.PTS,
		TimeBase: tb,
		Keyframe: true,
		Data:     data,
	}
}

func copyFrameInto(dst, src *Frame) {
	dst.Kind = src.Kind
	dst.Width = src.Width
	dst.Height = src.Height
	dst.Format = src.Format
	dst.SampleFormat = src.SampleFormat
	dst.SampleRate = src.SampleRate
	dst.Channels = src.Channels
	dst.SampleCount = src.SampleCount
	dst.PTS = src.PTS
	dst.TimeBase = src.TimeBase
	dst.Data = dst.Data[:0]
	dst.Stride = dst.Stride[:0]
	for _, plane := range src.Data {
		dst.Data = append(dst.Data, append([]byte(nil), plane...))
	}
	dst.Stride = append(dst.Stride, src.Stride...)
}

// videoPacket builds one mem-codec video packet.
func videoPacket(stream int, pts int64, width, height int, pf PixelFormat, key bool) *Packet {
	return &Packet{
		StreamIndex: stream,
		PTS:         pts,
		DTS:         pts,
		Duration:    1,
		TimeBase:    NewRational(1, 25),
		Keyframe:    key,
		Data:        encodeVideoPayload(width, height, pf, byte(pts)),
	}
}

// audioPacket builds one mem-codec audio packet.
func audioPacket(stream int, pts int64, samples int, sf SampleFormat, channels int) *Packet {
	return &Packet{
		StreamIndex: stream,
		PTS:         pts,
		DTS:         pts,
		Duration:    int64(samples),
		TimeBase:    NewRational(1, 48000),
		Keyframe:    true,
		Data:        encodeAudioPayload(samples, sf, channels, byte(pts)),
	}
}
