// Command transcode drives a media pipeline over an input container:
// dump decoded frames to raw files, stream-copy into a new container, or
// re-encode the video track.
//
// Usage:
//
//	transcode -input in.mp4 -video-out out.yuv -audio-out out.pcm
//	transcode -input in.mp4 -mode remux -output out.mkv -wait-key
//	transcode -input in.mp4 -mode transcode -output out.mp4 -video-codec libx264
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/thesyncim/transcode"
)

func main() {
	var (
		input      = flag.String("input", "", "input container path (required)")
		mode       = flag.String("mode", "raw", "pipeline mode: raw, remux or transcode")
		videoOut   = flag.String("video-out", "", "raw mode: video sink path")
		audioOut   = flag.String("audio-out", "", "raw mode: audio sink path")
		output     = flag.String("output", "", "remux/transcode mode: output container path")
		maxPackets = flag.Int("max-packets", 0, "stop after reading this many packets (0 = all)")
		skip       = flag.Int("skip", 0, "remux mode: drop this many leading packets")
		waitKey    = flag.Bool("wait-key", false, "remux mode: hold output until the first key frame")
		videoCodec = flag.String("video-codec", "", "transcode mode: encoder name, e.g. libx264")
		bitRate    = flag.Int64("bit-rate", 0, "transcode mode: target video bit rate (0 = encoder default)")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(log, *input, *mode, *videoOut, *audioOut, *output,
		*maxPackets, *skip, *waitKey, *videoCodec, *bitRate); err != nil {
		log.Error("pipeline failed", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, input, modeName, videoOut, audioOut, output string,
	maxPackets, skip int, waitKey bool, videoCodec string, bitRate int64) error {
	if input == "" {
		flag.Usage()
		return fmt.Errorf("missing -input")
	}
	mode, err := transcode.ParseMode(modeName)
	if err != nil {
		return err
	}
	engine, err := transcode.NewFFmpegEngine()
	if err != nil {
		return err
	}

	p, err := transcode.NewPipeline(transcode.Config{
		Engine:       engine,
		Input:        input,
		Mode:         mode,
		VideoPath:    videoOut,
		AudioPath:    audioOut,
		Output:       output,
		MaxPackets:   maxPackets,
		SkipPackets:  skip,
		WaitKeyframe: waitKey,
		VideoEncoder: transcode.EncoderConfig{
			CodecName: videoCodec,
			BitRate:   bitRate,
		},
		Logger: log,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Run(ctx); err != nil {
		return err
	}
	stats := p.Stats()
	log.Info("done",
		"packets_read", stats.PacketsRead,
		"packets_written", stats.PacketsWritten,
		"video_frames", stats.VideoFrames,
		"audio_frames", stats.AudioFrames,
		"bytes_written", stats.BytesWritten)
	return nil
}
