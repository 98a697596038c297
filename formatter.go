package transcode

import (
	"fmt"
	"io"
)

// GeometryError reports a frame whose geometry differs from the values
// captured when the stream was opened. Raw sinks have no way to represent a
// mid-stream format change, so this is fatal for the affected stream rather
// than a trigger for reinitialization.
type GeometryError struct {
	Want StreamInfo
	Got  Frame
}

func (e *GeometryError) Error() string {
	if e.Want.Kind == MediaKindAudio {
		return fmt.Sprintf(
			"transcode: audio layout changed mid-stream: old format=%s rate=%d channels=%d, new format=%s rate=%d channels=%d",
			e.Want.SampleFormat, e.Want.SampleRate, e.Want.Channels,
			e.Got.SampleFormat, e.Got.SampleRate, e.Got.Channels)
	}
	return fmt.Sprintf(
		"transcode: video geometry changed mid-stream: old %dx%d %s, new %dx%d %s",
		e.Want.Width, e.Want.Height, e.Want.PixelFormat,
		e.Got.Width, e.Got.Height, e.Got.Format)
}

// frameGeometry copies only the scalar geometry fields. The plane slices of
// a stage's frame are reused right after the consumer returns, so an error
// that outlives the call must not alias them.
func frameGeometry(f *Frame) Frame {
	g := *f
	g.Data = nil
	g.Stride = nil
	return g
}

// VideoFormatter serializes decoded video frames into a raw sink as packed
// (non-padded) plane data, the layout "ffplay -f rawvideo" expects.
// Geometry is pinned at construction; every formatted frame must match it.
type VideoFormatter struct {
	w      io.Writer
	info   StreamInfo
	layout []PlaneLayout
	buf    []byte
	frames int
}

// NewVideoFormatter creates a formatter writing packed frames of the
// stream's pinned geometry to w.
func NewVideoFormatter(w io.Writer, info StreamInfo) (*VideoFormatter, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("transcode: invalid video geometry %dx%d", info.Width, info.Height)
	}
	layout := info.PixelFormat.Planes(info.Width, info.Height)
	if layout == nil {
		return nil, fmt.Errorf("transcode: pixel format %s is not supported as a raw output format", info.PixelFormat)
	}
	return &VideoFormatter{
		w:      w,
		info:   info,
		layout: layout,
		buf:    make([]byte, info.PixelFormat.FrameSize(info.Width, info.Height)),
	}, nil
}

// Format packs the frame's planes into a contiguous buffer and appends it
// to the sink. Returns a *GeometryError if the frame's geometry differs
// from the pinned values.
func (vf *VideoFormatter) Format(f *Frame) error {
	if f.Width != vf.info.Width || f.Height != vf.info.Height || f.Format != vf.info.PixelFormat {
		return &GeometryError{Want: vf.info, Got: frameGeometry(f)}
	}
	if len(f.Data) < len(vf.layout) || len(f.Stride) < len(vf.layout) {
		return fmt.Errorf("transcode: frame has %d planes, format %s needs %d",
			len(f.Data), f.Format, len(vf.layout))
	}

	// Strip per-row padding: decoded planes may carry alignment strides,
	// raw sinks must not.
	off := 0
	for i, l := range vf.layout {
		src := f.Data[i]
		stride := f.Stride[i]
		if stride < l.RowBytes {
			return fmt.Errorf("transcode: plane %d stride %d smaller than row size %d", i, stride, l.RowBytes)
		}
		for r := 0; r < l.Rows; r++ {
			copy(vf.buf[off:off+l.RowBytes], src[r*stride:])
			off += l.RowBytes
		}
	}

	if _, err := vf.w.Write(vf.buf); err != nil {
		return fmt.Errorf("transcode: writing raw video frame failed: %w", err)
	}
	vf.frames++
	return nil
}

// FrameBytes returns the packed byte size of one formatted frame.
func (vf *VideoFormatter) FrameBytes() int { return len(vf.buf) }

// Frames returns the number of frames formatted so far.
func (vf *VideoFormatter) Frames() int { return vf.frames }

// PlayCommand returns the ffplay invocation that plays the raw sink at path.
func (vf *VideoFormatter) PlayCommand(path string) string {
	return fmt.Sprintf("ffplay -f rawvideo -pix_fmt %s -video_size %dx%d %s",
		vf.info.PixelFormat, vf.info.Width, vf.info.Height, path)
}

// AudioFormatter serializes decoded audio frames into a raw sink.
//
// For planar formats only the first channel's unpadded samples are written:
// interleaving the remaining channels would require a resampling stage,
// which is out of scope. This is a documented constraint of the raw output,
// not a defect. Packed formats are written in full, all channels
// interleaved.
type AudioFormatter struct {
	w      io.Writer
	info   StreamInfo
	frames int
	bytes  int64
}

// NewAudioFormatter creates a formatter writing raw samples of the stream's
// pinned layout to w.
func NewAudioFormatter(w io.Writer, info StreamInfo) (*AudioFormatter, error) {
	if info.SampleFormat.BytesPerSample() == 0 {
		return nil, fmt.Errorf("transcode: sample format %s is not supported as a raw output format", info.SampleFormat)
	}
	return &AudioFormatter{w: w, info: info}, nil
}

// Format appends the frame's raw sample bytes to the sink. The unpadded
// length is sampleCount x bytesPerSample (x channels for packed formats).
// Any change of sample format, sample rate or channel count mid-stream is
// a *GeometryError.
func (af *AudioFormatter) Format(f *Frame) error {
	if f.SampleFormat != af.info.SampleFormat ||
		f.SampleRate != af.info.SampleRate ||
		f.Channels != af.info.Channels {
		return &GeometryError{Want: af.info, Got: frameGeometry(f)}
	}

	unpadded := f.SampleCount * f.SampleFormat.BytesPerSample()
	if !f.SampleFormat.IsPlanar() {
		unpadded *= f.Channels
	}
	if len(f.Data) == 0 {
		return fmt.Errorf("transcode: audio frame carries no sample plane")
	}
	if len(f.Data[0]) < unpadded {
		return fmt.Errorf("transcode: audio frame plane holds %d bytes, need %d", len(f.Data[0]), unpadded)
	}

	if _, err := af.w.Write(f.Data[0][:unpadded]); err != nil {
		return fmt.Errorf("transcode: writing raw audio frame failed: %w", err)
	}
	af.frames++
	af.bytes += int64(unpadded)
	return nil
}

// FirstChannelOnly reports whether the sink holds only channel 0, which is
// the case for planar source formats.
func (af *AudioFormatter) FirstChannelOnly() bool {
	return af.info.SampleFormat.IsPlanar()
}

// Frames returns the number of frames formatted so far.
func (af *AudioFormatter) Frames() int { return af.frames }

// Bytes returns the number of raw bytes written so far.
func (af *AudioFormatter) Bytes() int64 { return af.bytes }

// PlayCommand returns the ffplay invocation that plays the raw sink at
// path, or an empty string if the sample format has no raw name.
func (af *AudioFormatter) PlayCommand(path string) string {
	name, err := RawSampleFormatName(af.info.SampleFormat)
	if err != nil {
		return ""
	}
	channels := af.info.Channels
	if af.FirstChannelOnly() {
		channels = 1
	}
	return fmt.Sprintf("ffplay -f %s -ac %d -ar %d %s", name, channels, af.info.SampleRate, path)
}
