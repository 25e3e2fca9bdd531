package protocol

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/exflux/trainbridge/internal/ndarray"
)

const testSource = "SPB_DET_AGIPD1M-1/DET/0CH0:xtdf"

func testSerializers(t *testing.T) []Serializer {
	t.Helper()
	out := make([]Serializer, 0, 2)
	for _, name := range []string{SerMsgpack, SerCBOR} {
		ser, err := NewSerializer(name)
		if err != nil {
			t.Fatalf("serializer %q: %v", name, err)
		}
		out = append(out, ser)
	}
	return out
}

func sampleTrain(t *testing.T) Train {
	t.Helper()
	img := ndarray.New(ndarray.Uint16, 1, 2, 3, 4)
	img.FillUint16(1550)
	cellID := ndarray.New(ndarray.Uint16, 4)
	for i := 0; i < 4; i++ {
		cellID.SetUint16(uint16(i), i)
	}

	data := Data{
		"image.data":      img,
		"cellId":          cellID,
		"pulseCount":      uint64(4),
		"trainId":         TrainIDEpoch,
		"status":          uint64(0),
		"detectorName":    "AGIPD1M",
		"checksum":        bytes.Repeat([]byte{0x11}, 16),
		"modulesPresents": []bool{true},
		"passport":        []string{"SPB/CAL/A", "SPB/CAL/B", "SPB/CAL/C"},
	}
	meta := NewMetadata(testSource, time.Unix(1_600_000_000, 123_456_789), TrainIDEpoch)
	return Train{
		Data: map[string]Data{testSource: data},
		Meta: map[string]Metadata{testSource: meta},
	}
}

func allVersions() []Version {
	return []Version{Version10, Version20, Version21, Version22}
}

func TestRoundTripAllVersions(t *testing.T) {
	for _, ser := range testSerializers(t) {
		for _, v := range allVersions() {
			codec := NewCodec(ser)
			train := sampleTrain(t)

			frames, err := codec.Encode(train, v)
			if err != nil {
				t.Fatalf("%s/%s encode: %v", ser.Name(), v, err)
			}
			decoded, err := codec.Decode(frames, v)
			if err != nil {
				t.Fatalf("%s/%s decode: %v", ser.Name(), v, err)
			}

			meta, ok := decoded.Meta[testSource]
			if !ok {
				t.Fatalf("%s/%s: source missing after decode", ser.Name(), v)
			}
			if meta.TrainID != TrainIDEpoch {
				t.Fatalf("%s/%s: train id %d, want %d", ser.Name(), v, meta.TrainID, TrainIDEpoch)
			}
			if meta.Timestamp != train.Meta[testSource].Timestamp {
				t.Fatalf("%s/%s: timestamp drifted", ser.Name(), v)
			}
			img, ok := decoded.Data[testSource]["image.data"].(*ndarray.Array)
			if !ok {
				t.Fatalf("%s/%s: image.data is not an array", ser.Name(), v)
			}
			if !img.Equal(train.Data[testSource]["image.data"].(*ndarray.Array)) {
				t.Fatalf("%s/%s: image bytes differ after decode", ser.Name(), v)
			}

			reframes, err := codec.Encode(decoded, v)
			if err != nil {
				t.Fatalf("%s/%s re-encode: %v", ser.Name(), v, err)
			}
			if len(reframes) != len(frames) {
				t.Fatalf("%s/%s: frame count changed %d -> %d", ser.Name(), v, len(frames), len(reframes))
			}
			for i := range frames {
				if !bytes.Equal(frames[i], reframes[i]) {
					t.Fatalf("%s/%s: frame %d differs after round trip", ser.Name(), v, i)
				}
			}
		}
	}
}

func TestVersion10SingleFrame(t *testing.T) {
	for _, ser := range testSerializers(t) {
		codec := NewCodec(ser)
		frames, err := codec.Encode(sampleTrain(t), Version10)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if len(frames) != 1 {
			t.Fatalf("version 1.0 must be one frame, got %d", len(frames))
		}
	}
}

func TestVersion22PartCount(t *testing.T) {
	codec := newMsgpackCodec(t)
	train := sampleTrain(t)
	// Two array fields in the sample: image.data and cellId.
	frames, err := codec.Encode(train, Version22)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if want := 2 + 2*2; len(frames) != want {
		t.Fatalf("got %d frames, want %d", len(frames), want)
	}
}

func TestVersion22HeaderCarriesMetadata(t *testing.T) {
	codec := newMsgpackCodec(t)
	frames, err := codec.Encode(sampleTrain(t), Version22)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	header, err := codec.Serializer().UnmarshalMap(frames[0])
	if err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	mm, ok := header["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("dict header missing metadata map")
	}
	if _, ok := mm["timestamp.tid"]; !ok {
		t.Fatalf("metadata map missing timestamp.tid")
	}
	payload, err := codec.Serializer().UnmarshalMap(frames[1])
	if err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if _, ok := payload["metadata.timestamp.tid"]; ok {
		t.Fatalf("version 2.2 payload must not merge metadata")
	}
}

func TestVersion21MergesAndStripsMetadata(t *testing.T) {
	codec := newMsgpackCodec(t)
	frames, err := codec.Encode(sampleTrain(t), Version21)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	payload, err := codec.Serializer().UnmarshalMap(frames[1])
	if err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if _, ok := payload["metadata.source"]; !ok {
		t.Fatalf("version 2.1 payload must carry metadata.source")
	}

	decoded, err := codec.Decode(frames, Version21)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for k := range decoded.Data[testSource] {
		if len(k) >= len("metadata.") && k[:len("metadata.")] == "metadata." {
			t.Fatalf("decoded data still carries %q", k)
		}
	}
	if decoded.Meta[testSource].Source != testSource {
		t.Fatalf("decoded metadata source %q", decoded.Meta[testSource].Source)
	}
}

func TestNonContiguousArrayRoundTrip(t *testing.T) {
	base := ndarray.New(ndarray.Uint16, 2, 3)
	v := uint16(1)
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			base.SetUint16(v, i, j)
			v++
		}
	}
	view, err := base.Transpose(1, 0)
	if err != nil {
		t.Fatalf("transpose: %v", err)
	}
	if view.IsContiguous() {
		t.Fatalf("test needs a non-contiguous array")
	}

	codec := newMsgpackCodec(t)
	meta := NewMetadata(testSource, time.Unix(1_600_000_000, 0), TrainIDEpoch)
	train := Train{
		Data: map[string]Data{testSource: {"image.data": view, "trainId": TrainIDEpoch}},
		Meta: map[string]Metadata{testSource: meta},
	}
	frames, err := codec.Encode(train, Version22)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := codec.Decode(frames, Version22)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := decoded.Data[testSource]["image.data"].(*ndarray.Array)
	if !got.IsContiguous() {
		t.Fatalf("decoded array must be contiguous")
	}
	if !got.Equal(view) {
		t.Fatalf("decoded array differs from the view it was encoded from")
	}
	if !bytes.Equal(got.Bytes(), view.Contiguous().Bytes()) {
		t.Fatalf("decoded bytes are not the contiguous materialization")
	}
}

func TestEncodeUnsupportedVersion(t *testing.T) {
	codec := newMsgpackCodec(t)
	if _, err := codec.Encode(sampleTrain(t), Version("3.0")); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
	if _, err := codec.Decode([][]byte{{0x80}}, Version("0.9")); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
	if _, err := ParseVersion("2.3"); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestEncodeSourceSetMismatch(t *testing.T) {
	codec := newMsgpackCodec(t)
	train := sampleTrain(t)
	train.Meta["other/source"] = NewMetadata("other/source", time.Now(), TrainIDEpoch)
	if _, err := codec.Encode(train, Version22); !errors.Is(err, ErrSourceSetMismatch) {
		t.Fatalf("expected ErrSourceSetMismatch, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	codec := newMsgpackCodec(t)
	train := sampleTrain(t)

	frames, err := codec.Encode(train, Version22)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Array header left without its raw-bytes frame.
	truncated := frames[:len(frames)-1]
	if _, err := codec.Decode(truncated, Version22); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage for truncated message, got %v", err)
	}

	// Unknown content label.
	badHeader, err := codec.Serializer().Marshal(map[string]any{
		"source": testSource, "content": "pickle",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	empty, err := codec.Serializer().Marshal(map[string]any{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := codec.Decode([][]byte{badHeader, empty}, Version22); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage for unknown content, got %v", err)
	}

	// Header missing the source field.
	noSource, err := codec.Serializer().Marshal(map[string]any{"content": SerMsgpack})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := codec.Decode([][]byte{noSource, empty}, Version22); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage for missing source, got %v", err)
	}

	// Version 1.0 never carries more than one frame.
	if _, err := codec.Decode(frames, Version10); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage for multipart 1.0, got %v", err)
	}

	if _, err := codec.Decode(nil, Version22); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage for empty message, got %v", err)
	}
}

func TestMetadataFractionWidth(t *testing.T) {
	meta := NewMetadata(testSource, time.Unix(1_600_000_000, 42), 1)
	if len(meta.Fraction) != 18 {
		t.Fatalf("fraction width %d, want 18", len(meta.Fraction))
	}
	if meta.Fraction[:9] != "000000042" {
		t.Fatalf("fraction prefix %q", meta.Fraction[:9])
	}
	if meta.Seconds != "1600000000" {
		t.Fatalf("seconds %q", meta.Seconds)
	}
}

func newMsgpackCodec(t *testing.T) *Codec {
	t.Helper()
	ser, err := NewSerializer(SerMsgpack)
	if err != nil {
		t.Fatalf("serializer: %v", err)
	}
	return NewCodec(ser)
}
