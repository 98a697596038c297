// Package transcode drives media pipelines over container files, backed by
// FFmpeg through go-astiav.
//
// Key pieces include:
//   - Engine/Demuxer/Decoder/Encoder/Muxer capability interfaces
//   - Packet and Frame value types with tight, padding-free plane data
//   - DecodeStage and EncodeStage driving the send/receive codec loops
//   - Raw frame formatters producing ffplay-compatible output files
//   - Pipeline, which wires a whole run in raw, remux or transcode mode
//   - RTPSink for feeding encoded packets to an RTP transport
//
// # Architecture
//
//	Raw:       Demuxer -> DecodeStage -> VideoFormatter/AudioFormatter -> file
//	Remux:     Demuxer -> packet gate (skip/key frame) -> Muxer
//	Transcode: Demuxer -> DecodeStage -> EncodeStage -> Muxer
//
// # Engines
//
// NewFFmpegEngine returns the libav-backed engine and needs cgo plus the
// FFmpeg development libraries at build time. The Engine interface keeps the
// pipeline itself engine-agnostic; the tests run against an in-memory
// engine with no native dependencies.
//
// # Error Model
//
// Decode failures are absorbed: the stage logs them and keeps consuming
// packets. Encode and mux failures abort the run. ErrAgain and io.EOF carry
// the send/receive drain protocol between stages and codecs.
package transcode
