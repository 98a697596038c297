package transcode

import "fmt"

// MediaKind identifies the kind of media a stream carries.
type MediaKind int

const (
	MediaKindUnknown MediaKind = iota
	MediaKindVideo
	MediaKindAudio
	MediaKindOther // data, subtitles, attachments
)

func (k MediaKind) String() string {
	switch k {
	case MediaKindVideo:
		return "video"
	case MediaKindAudio:
		return "audio"
	case MediaKindOther:
		return "other"
	default:
		return "unknown"
	}
}

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatI420                // YUV 4:2:0 planar (Y + U + V)
	PixelFormatI422                // YUV 4:2:2 planar
	PixelFormatI444                // YUV 4:4:4 planar
	PixelFormatNV12                // YUV 4:2:0 semi-planar (Y + interleaved UV)
	PixelFormatGray8               // Single 8-bit luma plane
	PixelFormatRGB24               // Packed RGB, 3 bytes per pixel
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "yuv420p"
	case PixelFormatI422:
		return "yuv422p"
	case PixelFormatI444:
		return "yuv444p"
	case PixelFormatNV12:
		return "nv12"
	case PixelFormatGray8:
		return "gray"
	case PixelFormatRGB24:
		return "rgb24"
	default:
		return "unknown"
	}
}

// PlaneLayout describes one plane of a packed (non-padded) frame.
// RowBytes is the number of payload bytes per row, Rows the number of rows.
type PlaneLayout struct {
	RowBytes int
	Rows     int
}

// Size returns the packed byte size of the plane.
func (l PlaneLayout) Size() int {
	return l.RowBytes * l.Rows
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420, PixelFormatI422, PixelFormatI444:
		return 3
	case PixelFormatNV12:
		return 2
	case PixelFormatGray8, PixelFormatRGB24:
		return 1
	default:
		return 0
	}
}

// Planes returns the packed plane layouts for a frame of the given
// dimensions, applying the format's subsampling rules. Odd dimensions are
// rounded up for subsampled planes, matching libav's image buffer math.
func (p PixelFormat) Planes(width, height int) []PlaneLayout {
	halfW := (width + 1) / 2
	halfH := (height + 1) / 2
	switch p {
	case PixelFormatI420:
		return []PlaneLayout{{width, height}, {halfW, halfH}, {halfW, halfH}}
	case PixelFormatI422:
		return []PlaneLayout{{width, height}, {halfW, height}, {halfW, height}}
	case PixelFormatI444:
		return []PlaneLayout{{width, height}, {width, height}, {width, height}}
	case PixelFormatNV12:
		return []PlaneLayout{{width, height}, {width, halfH}}
	case PixelFormatGray8:
		return []PlaneLayout{{width, height}}
	case PixelFormatRGB24:
		return []PlaneLayout{{3 * width, height}}
	default:
		return nil
	}
}

// FrameSize returns the total packed byte size of one frame.
func (p PixelFormat) FrameSize(width, height int) int {
	var n int
	for _, l := range p.Planes(width, height) {
		n += l.Size()
	}
	return n
}

// SampleFormat represents audio sample formats.
type SampleFormat int

const (
	SampleFormatUnknown SampleFormat = iota
	SampleFormatU8                   // Unsigned 8-bit, interleaved
	SampleFormatS16                  // Signed 16-bit, interleaved
	SampleFormatS32                  // Signed 32-bit, interleaved
	SampleFormatF32                  // 32-bit float, interleaved
	SampleFormatF64                  // 64-bit float, interleaved
	SampleFormatU8P                  // Unsigned 8-bit, planar
	SampleFormatS16P                 // Signed 16-bit, planar
	SampleFormatS32P                 // Signed 32-bit, planar
	SampleFormatF32P                 // 32-bit float, planar
	SampleFormatF64P                 // 64-bit float, planar
)

func (s SampleFormat) String() string {
	switch s {
	case SampleFormatU8:
		return "u8"
	case SampleFormatS16:
		return "s16"
	case SampleFormatS32:
		return "s32"
	case SampleFormatF32:
		return "flt"
	case SampleFormatF64:
		return "dbl"
	case SampleFormatU8P:
		return "u8p"
	case SampleFormatS16P:
		return "s16p"
	case SampleFormatS32P:
		return "s32p"
	case SampleFormatF32P:
		return "fltp"
	case SampleFormatF64P:
		return "dblp"
	default:
		return "unknown"
	}
}

// BytesPerSample returns the number of bytes one sample of one channel
// occupies in this format.
func (s SampleFormat) BytesPerSample() int {
	switch s {
	case SampleFormatU8, SampleFormatU8P:
		return 1
	case SampleFormatS16, SampleFormatS16P:
		return 2
	case SampleFormatS32, SampleFormatS32P, SampleFormatF32, SampleFormatF32P:
		return 4
	case SampleFormatF64, SampleFormatF64P:
		return 8
	default:
		return 0
	}
}

// IsPlanar reports whether the format stores each channel in its own plane.
func (s SampleFormat) IsPlanar() bool {
	switch s {
	case SampleFormatU8P, SampleFormatS16P, SampleFormatS32P, SampleFormatF32P, SampleFormatF64P:
		return true
	default:
		return false
	}
}

// Packed returns the interleaved counterpart of a planar format.
// Non-planar formats are returned unchanged.
func (s SampleFormat) Packed() SampleFormat {
	switch s {
	case SampleFormatU8P:
		return SampleFormatU8
	case SampleFormatS16P:
		return SampleFormatS16
	case SampleFormatS32P:
		return SampleFormatS32
	case SampleFormatF32P:
		return SampleFormatF32
	case SampleFormatF64P:
		return SampleFormatF64
	default:
		return s
	}
}

// RawSampleFormatName returns the ffplay/ffmpeg raw format name for an
// interleaved sample format (e.g. "s16le"). Raw sinks are written in host
// byte order; all supported targets are little-endian.
func RawSampleFormatName(s SampleFormat) (string, error) {
	switch s.Packed() {
	case SampleFormatU8:
		return "u8", nil
	case SampleFormatS16:
		return "s16le", nil
	case SampleFormatS32:
		return "s32le", nil
	case SampleFormatF32:
		return "f32le", nil
	case SampleFormatF64:
		return "f64le", nil
	default:
		return "", fmt.Errorf("transcode: sample format %s is not supported as a raw output format", s)
	}
}

// Rational is an exact fraction, used for stream time bases and frame rates.
type Rational struct {
	Num int
	Den int
}

// NewRational returns the fraction num/den.
func NewRational(num, den int) Rational {
	return Rational{Num: num, Den: den}
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Float64 returns the fraction as a float, or 0 for an invalid rational.
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// IsValid reports whether the rational denotes a usable time base.
func (r Rational) IsValid() bool {
	return r.Num > 0 && r.Den > 0
}

// RescaleTimestamp converts a timestamp from one time base to another,
// rounding toward zero. The cross products of the two bases are reduced and
// the timestamp is split into quotient and remainder before multiplying, so
// large timestamps survive conversions like 90 kHz to nanoseconds that
// would overflow a naive ts*num/den.
func RescaleTimestamp(ts int64, from, to Rational) int64 {
	if !from.IsValid() || !to.IsValid() {
		return ts
	}
	num := int64(from.Num) * int64(to.Den)
	den := int64(from.Den) * int64(to.Num)
	if g := gcd(num, den); g > 1 {
		num /= g
		den /= g
	}
	q, r := ts/den, ts%den
	return q*num + r*num/den
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
