package transcode

import "errors"

// Engine-level errors.
var (
	// ErrAgain is returned by Decoder.ReceiveFrame and Encoder.ReceivePacket
	// when no output is available yet and more input is needed.
	ErrAgain = errors.New("transcode: no output available yet")

	// ErrStreamNotFound is returned by Demuxer.BestStream when the container
	// has no stream of the requested kind.
	ErrStreamNotFound = errors.New("transcode: stream not found")

	// ErrDecoderUnavailable is returned by Demuxer.OpenDecoder when a stream
	// of the requested kind exists but no decoder capability is registered
	// for its codec.
	ErrDecoderUnavailable = errors.New("transcode: decoder unavailable")
)

// DecoderInitError reports a decoder that was found but could not be
// configured (parameter copy or open failure). It is fatal for the affected
// stream only.
type DecoderInitError struct {
	Codec string
	Err   error
}

func (e *DecoderInitError) Error() string {
	return "transcode: initializing " + e.Codec + " decoder failed: " + e.Err.Error()
}

func (e *DecoderInitError) Unwrap() error { return e.Err }

// StreamInfo describes one elementary stream of an opened container.
// Geometry is captured when the container is opened and is expected to stay
// constant for the lifetime of a run.
type StreamInfo struct {
	Index     int
	Kind      MediaKind
	CodecName string
	TimeBase  Rational

	// Video geometry
	Width       int
	Height      int
	PixelFormat PixelFormat
	FrameRate   Rational

	// Audio layout
	SampleFormat SampleFormat
	SampleRate   int
	Channels     int

	// handle lets an engine attach its own per-stream state; it travels
	// with the StreamInfo back into OpenDecoder and Muxer.AddStream.
	handle any
}

// EncoderConfig configures an encoder opened through an Engine.
type EncoderConfig struct {
	Kind      MediaKind
	CodecName string // engine-specific encoder name, e.g. "libx264"
	TimeBase  Rational
	BitRate   int64

	// Video settings
	Width       int
	Height      int
	PixelFormat PixelFormat
	FrameRate   Rational

	// Audio settings
	SampleFormat SampleFormat
	SampleRate   int
	Channels     int
}

// Demuxer reads packets from an opened container. It owns the container
// handle and the stream metadata; exactly one caller drives it.
type Demuxer interface {
	// Streams lists every stream found in the container.
	Streams() []StreamInfo

	// BestStream returns the container's best stream of the given kind,
	// using the engine's own quality heuristic. Returns ErrStreamNotFound
	// if no stream of that kind exists.
	BestStream(kind MediaKind) (StreamInfo, error)

	// OpenDecoder resolves and opens a decoder for the stream. Returns
	// ErrDecoderUnavailable if no decoder capability exists for the codec,
	// or a *DecoderInitError if configuration fails.
	OpenDecoder(info StreamInfo) (Decoder, error)

	// ReadPacket fills pkt with the next packet of any stream. Returns
	// io.EOF when the container is exhausted. The caller must Unref pkt
	// before the next call.
	ReadPacket(pkt *Packet) error

	// Metadata returns the container-level metadata.
	Metadata() Metadata

	Close() error
}

// Decoder turns packets into frames. Submitting a nil packet requests a
// flush of any internally buffered frames.
type Decoder interface {
	SendPacket(pkt *Packet) error

	// ReceiveFrame fills f with the next decoded frame. Returns ErrAgain
	// when more input is needed and io.EOF once the stream is fully
	// drained after a flush.
	ReceiveFrame(f *Frame) error

	Close() error
}

// Encoder turns frames into packets. Submitting a nil frame requests a
// flush; after that, ReceivePacket drains buffered packets and finally
// returns io.EOF.
type Encoder interface {
	SendFrame(f *Frame) error
	ReceivePacket(pkt *Packet) error
	Close() error
}

// PacketSink consumes encoded packets. Muxer satisfies it; so does RTPSink.
type PacketSink interface {
	WritePacket(pkt *Packet) error
}

// Muxer writes packets into an output container. Streams must be added and
// the header written before the first packet; the trailer finalizes the
// file and must be written exactly once after the last packet.
type Muxer interface {
	// AddStream adds an output stream whose codec parameters are copied
	// from an input stream (stream copy). It returns the output stream
	// index to stamp on written packets.
	AddStream(info StreamInfo) (int, error)

	// AddEncoderStream adds an output stream whose codec parameters come
	// from an opened encoder.
	AddEncoderStream(enc Encoder) (int, error)

	// SetMetadata replaces the container-level metadata. Must be called
	// before WriteHeader.
	SetMetadata(md Metadata)

	WriteHeader() error
	WritePacket(pkt *Packet) error
	WriteTrailer() error
	Close() error
}

// Engine is an opaque capability provider for container and codec access.
// Implementations: the FFmpeg-backed engine in engine_astiav.go, and the
// in-memory engine used by the tests.
type Engine interface {
	Open(path string) (Demuxer, error)
	CreateOutput(path string) (Muxer, error)
	NewEncoder(cfg EncoderConfig) (Encoder, error)
}
