//go:build !cgo

package transcode

import "errors"

// NewFFmpegEngine needs cgo; without it there is no libav backend.
func NewFFmpegEngine() (Engine, error) {
	return nil, errors.New("transcode: ffmpeg engine requires cgo")
}
