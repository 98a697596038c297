package transcode

// Packet is a compressed, timestamped unit of one stream as stored in a
// container. A packet has at most one live owner; call Unref before the
// owning stage reads or writes the next unit.
type Packet struct {
	StreamIndex int
	PTS         int64
	DTS         int64
	Duration    int64
	TimeBase    Rational
	Keyframe    bool
	Data        []byte
}

// NewPacket returns an empty packet ready for reuse across reads.
func NewPacket() *Packet {
	return &Packet{PTS: NoTimestamp, DTS: NoTimestamp}
}

// NoTimestamp marks an unset PTS/DTS, mirroring libav's AV_NOPTS_VALUE.
const NoTimestamp = int64(-1 << 63)

// Unref clears the packet for reuse, retaining the data buffer's capacity.
func (p *Packet) Unref() {
	p.StreamIndex = 0
	p.PTS = NoTimestamp
	p.DTS = NoTimestamp
	p.Duration = 0
	p.TimeBase = Rational{}
	p.Keyframe = false
	p.Data = p.Data[:0]
}

// Clone creates a deep copy of the packet.
// Use this when you need to keep the data beyond the next Unref.
func (p *Packet) Clone() *Packet {
	clone := *p
	clone.Data = append([]byte(nil), p.Data...)
	return &clone
}

// Frame is a decoded, timestamped unit of raw media data. For video, Data
// holds one slice per plane with the matching Stride entry giving the
// allocated bytes per row (strides may exceed the packed row size). For
// audio, Data holds one plane per channel for planar formats and a single
// interleaved plane for packed formats.
//
// Like Packet, a frame has a single owner and must be released with Unref
// before the producing stage is asked for the next frame.
type Frame struct {
	Kind MediaKind

	// Video fields
	Width  int
	Height int
	Format PixelFormat
	Data   [][]byte
	Stride []int

	// Audio fields
	SampleFormat SampleFormat
	SampleRate   int
	Channels     int
	SampleCount  int

	PTS      int64
	TimeBase Rational
}

// NewFrame returns an empty frame ready for reuse across decodes.
func NewFrame() *Frame {
	return &Frame{PTS: NoTimestamp}
}

// Unref clears the frame for reuse, retaining plane slice headers.
func (f *Frame) Unref() {
	f.Kind = MediaKindUnknown
	f.Width = 0
	f.Height = 0
	f.Format = PixelFormatUnknown
	f.Data = f.Data[:0]
	f.Stride = f.Stride[:0]
	f.SampleFormat = SampleFormatUnknown
	f.SampleRate = 0
	f.Channels = 0
	f.SampleCount = 0
	f.PTS = NoTimestamp
	f.TimeBase = Rational{}
}

// Clone creates a deep copy of the frame, including plane data.
func (f *Frame) Clone() *Frame {
	clone := *f
	clone.Stride = append([]int(nil), f.Stride...)
	clone.Data = make([][]byte, len(f.Data))
	for i, plane := range f.Data {
		clone.Data[i] = append([]byte(nil), plane...)
	}
	return &clone
}
