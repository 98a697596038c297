package transcode

import "fmt"

// SelectStream picks the best stream of the requested kind from an opened
// container and opens a matching decoder for it.
//
// Failure is per-kind: ErrStreamNotFound when the container has no stream of
// that kind, ErrDecoderUnavailable when a stream exists but no decoder does,
// and *DecoderInitError when decoder configuration fails. The caller decides
// whether a single failed kind is fatal for the run.
func SelectStream(dmx Demuxer, kind MediaKind) (StreamInfo, Decoder, error) {
	info, err := dmx.BestStream(kind)
	if err != nil {
		return StreamInfo{}, nil, fmt.Errorf("selecting %s stream: %w", kind, err)
	}

	dec, err := dmx.OpenDecoder(info)
	if err != nil {
		return StreamInfo{}, nil, fmt.Errorf("opening decoder for %s stream %d: %w", kind, info.Index, err)
	}

	return info, dec, nil
}
