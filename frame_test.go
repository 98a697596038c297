package transcode

import (
	"bytes"
	"testing"
)

func TestPacketUnrefKeepsCapacity(t *testing.T) {
	pkt := NewPacket()
	pkt.StreamIndex = 3
	pkt.PTS = 100
	pkt.DTS = 99
	pkt.Keyframe = true
	pkt.Data = append(pkt.Data, make([]byte, 4096)...)

	pkt.Unref()
	if pkt.PTS != NoTimestamp || pkt.DTS != NoTimestamp {
		t.Errorf("timestamps = %d/%d, want NoTimestamp", pkt.PTS, pkt.DTS)
	}
	if pkt.StreamIndex != 0 || pkt.Keyframe {
		t.Error("stream index and key flag should reset")
	}
	if len(pkt.Data) != 0 {
		t.Errorf("data length = %d, want 0", len(pkt.Data))
	}
	if cap(pkt.Data) < 4096 {
		t.Errorf("data capacity = %d, expected the buffer to be retained", cap(pkt.Data))
	}
}

func TestPacketClone(t *testing.T) {
	pkt := &Packet{PTS: 7, Data: []byte{1, 2, 3}}
	clone := pkt.Clone()
	pkt.Data[0] = 9
	if clone.PTS != 7 || !bytes.Equal(clone.Data, []byte{1, 2, 3}) {
		t.Errorf("clone = %+v, should be independent of the source", clone)
	}
}

func TestFrameCloneIsDeep(t *testing.T) {
	f := &Frame{
		Kind:   MediaKindVideo,
		Width:  2,
		Height: 2,
		Format: PixelFormatGray8,
		Data:   [][]byte{{1, 2, 3, 4}},
		Stride: []int{2},
		PTS:    5,
	}
	clone := f.Clone()
	f.Data[0][0] = 9
	f.Stride[0] = 7
	if clone.Data[0][0] != 1 || clone.Stride[0] != 2 {
		t.Error("clone shares plane storage with the source")
	}

	f.Unref()
	if f.Kind != MediaKindUnknown || f.PTS != NoTimestamp || len(f.Data) != 0 {
		t.Errorf("Unref left frame %+v", f)
	}
	if clone.PTS != 5 {
		t.Error("Unref of the source should not touch the clone")
	}
}
