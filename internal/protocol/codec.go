package protocol

import (
	"fmt"
	"sort"
	"strings"

	"github.com/exflux/trainbridge/internal/ndarray"
)

// Header content value marking a raw array frame.
const contentArray = "array"

// Embedded-array map keys used by version 1.0 payloads, following the
// msgpack-numpy convention so whole-message frames stay self-describing.
const (
	embedFlag  = "nd"
	embedType  = "type"
	embedShape = "shape"
	embedData  = "data"
)

// Codec encodes and decodes trains for one serialization format. It is
// stateless; one instance is constructed per endpoint and shared.
type Codec struct {
	ser Serializer
}

// NewCodec wraps a serializer. The serializer's name doubles as the content
// label on payload header frames.
func NewCodec(ser Serializer) *Codec {
	return &Codec{ser: ser}
}

// Serializer returns the structured-frame serializer in use.
func (c *Codec) Serializer() Serializer { return c.ser }

// Encode turns one train into the ordered frame sequence for the given
// protocol version. Sources and array paths are emitted in sorted order so
// encoding is deterministic.
func (c *Codec) Encode(t Train, v Version) ([][]byte, error) {
	if !v.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, v)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}

	if !v.splitFrames() {
		return c.encodeWhole(t)
	}

	var frames [][]byte
	for _, src := range t.SourceNames() {
		run, err := c.encodeSource(src, t.Data[src], t.Meta[src], v)
		if err != nil {
			return nil, err
		}
		frames = append(frames, run...)
	}
	return frames, nil
}

// encodeWhole builds the single-frame 1.0 message with arrays embedded.
func (c *Codec) encodeWhole(t Train) ([][]byte, error) {
	whole := make(map[string]any, len(t.Data))
	for src, fields := range t.Data {
		dict := make(map[string]any, len(fields)+1)
		for k, val := range fields {
			if arr, ok := val.(*ndarray.Array); ok {
				dict[k] = embedArray(arr)
				continue
			}
			dict[k] = val
		}
		dict["metadata"] = t.Meta[src].toMap()
		whole[src] = dict
	}
	frame, err := c.ser.Marshal(whole)
	if err != nil {
		return nil, err
	}
	return [][]byte{frame}, nil
}

// encodeSource emits one source's contiguous frame run: header + payload,
// then header + raw bytes per array field.
func (c *Codec) encodeSource(src string, fields Data, meta Metadata, v Version) ([][]byte, error) {
	dict := make(map[string]any, len(fields))
	arrays := make(map[string]*ndarray.Array)
	for k, val := range fields {
		if arr, ok := val.(*ndarray.Array); ok {
			arrays[k] = arr
			continue
		}
		dict[k] = val
	}

	header := map[string]any{
		"source":  src,
		"content": c.ser.Name(),
	}
	switch v {
	case Version20:
		dict["metadata"] = meta.toMap()
	case Version21:
		for mk, mv := range meta.toMap() {
			dict["metadata."+mk] = mv
		}
	case Version22:
		header["metadata"] = meta.toMap()
	}

	headerFrame, err := c.ser.Marshal(header)
	if err != nil {
		return nil, err
	}
	dictFrame, err := c.ser.Marshal(dict)
	if err != nil {
		return nil, err
	}
	frames := [][]byte{headerFrame, dictFrame}

	paths := make([]string, 0, len(arrays))
	for p := range arrays {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, path := range paths {
		arr := arrays[path].Contiguous()
		arrHeader := map[string]any{
			"source":  src,
			"content": contentArray,
			"path":    path,
			"dtype":   arr.DType().String(),
			"shape":   arr.Shape(),
		}
		hf, err := c.ser.Marshal(arrHeader)
		if err != nil {
			return nil, err
		}
		frames = append(frames, hf, arr.Bytes())
	}
	return frames, nil
}

// Decode consumes the frame sequence of one reply and rebuilds the train.
// A structural violation yields ErrMalformedMessage and no partial result.
func (c *Codec) Decode(frames [][]byte, v Version) (Train, error) {
	if !v.valid() {
		return Train{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, v)
	}
	if len(frames) == 0 {
		return Train{}, fmt.Errorf("%w: empty message", ErrMalformedMessage)
	}
	if !v.splitFrames() {
		return c.decodeWhole(frames)
	}

	t := Train{
		Data: make(map[string]Data),
		Meta: make(map[string]Metadata),
	}
	for i := 0; i < len(frames); i += 2 {
		header, err := c.ser.UnmarshalMap(frames[i])
		if err != nil {
			return Train{}, fmt.Errorf("%w: bad header frame: %v", ErrMalformedMessage, err)
		}
		src, ok := asString(header["source"])
		if !ok {
			return Train{}, fmt.Errorf("%w: header missing source", ErrMalformedMessage)
		}
		content, ok := asString(header["content"])
		if !ok {
			return Train{}, fmt.Errorf("%w: header missing content", ErrMalformedMessage)
		}
		if i+1 >= len(frames) {
			return Train{}, fmt.Errorf("%w: header without payload frame", ErrMalformedMessage)
		}

		switch content {
		case contentArray:
			if err := c.decodeArrayEntry(&t, src, header, frames[i+1]); err != nil {
				return Train{}, err
			}
		case c.ser.Name():
			if err := c.decodeDictEntry(&t, src, header, frames[i+1], v); err != nil {
				return Train{}, err
			}
		default:
			return Train{}, fmt.Errorf("%w: unknown content %q", ErrMalformedMessage, content)
		}
	}

	if err := t.validate(); err != nil {
		return Train{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return t, nil
}

func (c *Codec) decodeArrayEntry(t *Train, src string, header map[string]any, raw []byte) error {
	path, ok := asString(header["path"])
	if !ok {
		return fmt.Errorf("%w: array header missing path", ErrMalformedMessage)
	}
	dtypeName, ok := asString(header["dtype"])
	if !ok {
		return fmt.Errorf("%w: array header missing dtype", ErrMalformedMessage)
	}
	shape, ok := asIntSlice(header["shape"])
	if !ok {
		return fmt.Errorf("%w: array header missing shape", ErrMalformedMessage)
	}
	dtype, err := ndarray.ParseDType(dtypeName)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	arr, err := ndarray.FromBytes(dtype, shape, raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if t.Data[src] == nil {
		t.Data[src] = make(Data)
	}
	t.Data[src][path] = arr
	return nil
}

func (c *Codec) decodeDictEntry(t *Train, src string, header map[string]any, payload []byte, v Version) error {
	dict, err := c.ser.UnmarshalMap(payload)
	if err != nil {
		return fmt.Errorf("%w: bad payload frame: %v", ErrMalformedMessage, err)
	}

	var metaMap map[string]any
	switch v {
	case Version22:
		mm, ok := header["metadata"].(map[string]any)
		if !ok {
			return fmt.Errorf("%w: header missing metadata", ErrMalformedMessage)
		}
		metaMap = mm
	case Version21:
		metaMap = make(map[string]any)
		for k, val := range dict {
			if rest, found := strings.CutPrefix(k, "metadata."); found {
				metaMap[rest] = val
				delete(dict, k)
			}
		}
	case Version20:
		mm, ok := dict["metadata"].(map[string]any)
		if !ok {
			return fmt.Errorf("%w: payload missing metadata", ErrMalformedMessage)
		}
		metaMap = mm
		delete(dict, "metadata")
	}

	meta, err := metadataFromMap(metaMap)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if existing, ok := t.Data[src]; ok {
		// Array frames for this source arrived first; merge around them.
		for k, val := range dict {
			existing[k] = val
		}
	} else {
		t.Data[src] = dict
	}
	t.Meta[src] = meta
	return nil
}

func (c *Codec) decodeWhole(frames [][]byte) (Train, error) {
	if len(frames) != 1 {
		return Train{}, fmt.Errorf("%w: version 1.0 expects a single frame, got %d", ErrMalformedMessage, len(frames))
	}
	whole, err := c.ser.UnmarshalMap(frames[0])
	if err != nil {
		return Train{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	t := Train{
		Data: make(map[string]Data, len(whole)),
		Meta: make(map[string]Metadata, len(whole)),
	}
	for src, v := range whole {
		dict, ok := v.(map[string]any)
		if !ok {
			return Train{}, fmt.Errorf("%w: source %q payload is not a map", ErrMalformedMessage, src)
		}
		mm, ok := dict["metadata"].(map[string]any)
		if !ok {
			return Train{}, fmt.Errorf("%w: source %q missing metadata", ErrMalformedMessage, src)
		}
		meta, err := metadataFromMap(mm)
		if err != nil {
			return Train{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		delete(dict, "metadata")

		for k, val := range dict {
			m, ok := val.(map[string]any)
			if !ok {
				continue
			}
			arr, isArray, err := embeddedArray(m)
			if err != nil {
				return Train{}, err
			}
			if isArray {
				dict[k] = arr
			}
		}
		t.Data[src] = dict
		t.Meta[src] = meta
	}
	return t, nil
}

func embedArray(arr *ndarray.Array) map[string]any {
	c := arr.Contiguous()
	return map[string]any{
		embedFlag:  true,
		embedType:  c.DType().String(),
		embedShape: c.Shape(),
		embedData:  c.Bytes(),
	}
}

func embeddedArray(m map[string]any) (*ndarray.Array, bool, error) {
	flag, ok := asBool(m[embedFlag])
	if !ok || !flag {
		return nil, false, nil
	}
	dtypeName, ok := asString(m[embedType])
	if !ok {
		return nil, false, fmt.Errorf("%w: embedded array missing type", ErrMalformedMessage)
	}
	shape, ok := asIntSlice(m[embedShape])
	if !ok {
		return nil, false, fmt.Errorf("%w: embedded array missing shape", ErrMalformedMessage)
	}
	raw, ok := asBytes(m[embedData])
	if !ok {
		return nil, false, fmt.Errorf("%w: embedded array missing data", ErrMalformedMessage)
	}
	dtype, err := ndarray.ParseDType(dtypeName)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	arr, err := ndarray.FromBytes(dtype, shape, raw)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return arr, true, nil
}
