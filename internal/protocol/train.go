package protocol

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// TrainIDEpoch is the first train id emitted by a fresh simulator.
const TrainIDEpoch uint64 = 10_000_000_000

// RequestNext is the only request the bridge understands.
const RequestNext = "next"

// Data holds one source's named fields. Values are scalars (integers,
// floats, booleans, strings, byte strings), flat slices of scalars, or
// *ndarray.Array for multidimensional numeric fields.
type Data = map[string]any

// Metadata describes one source's timing block within a train.
type Metadata struct {
	Source    string
	Timestamp float64
	TrainID   uint64
	Seconds   string
	Fraction  string
}

const fractionWidth = 18

// NewMetadata builds the timing block for a source at the given wall-clock
// time. The fractional part is zero-padded to attosecond width.
func NewMetadata(source string, at time.Time, trainID uint64) Metadata {
	frac := fmt.Sprintf("%09d", at.Nanosecond())
	for len(frac) < fractionWidth {
		frac += "0"
	}
	return Metadata{
		Source:    source,
		Timestamp: float64(at.UnixNano()) / 1e9,
		TrainID:   trainID,
		Seconds:   strconv.FormatInt(at.Unix(), 10),
		Fraction:  frac[:fractionWidth],
	}
}

func (m Metadata) toMap() map[string]any {
	return map[string]any{
		"source":         m.Source,
		"timestamp":      m.Timestamp,
		"timestamp.tid":  m.TrainID,
		"timestamp.sec":  m.Seconds,
		"timestamp.frac": m.Fraction,
	}
}

func metadataFromMap(m map[string]any) (Metadata, error) {
	source, ok := asString(m["source"])
	if !ok {
		return Metadata{}, fmt.Errorf("metadata missing source")
	}
	ts, ok := asFloat64(m["timestamp"])
	if !ok {
		return Metadata{}, fmt.Errorf("metadata missing timestamp")
	}
	tid, ok := asUint64(m["timestamp.tid"])
	if !ok {
		return Metadata{}, fmt.Errorf("metadata missing timestamp.tid")
	}
	sec, ok := asString(m["timestamp.sec"])
	if !ok {
		return Metadata{}, fmt.Errorf("metadata missing timestamp.sec")
	}
	frac, ok := asString(m["timestamp.frac"])
	if !ok {
		return Metadata{}, fmt.Errorf("metadata missing timestamp.frac")
	}
	return Metadata{
		Source:    source,
		Timestamp: ts,
		TrainID:   tid,
		Seconds:   sec,
		Fraction:  frac,
	}, nil
}

// Train is one discrete unit of detector data: per-source field maps and
// the matching per-source metadata. Data and Meta always carry the same
// source keys, and every source shares one train id.
type Train struct {
	Data map[string]Data
	Meta map[string]Metadata
}

// SourceNames returns the train's source keys in sorted order.
func (t Train) SourceNames() []string {
	names := make([]string, 0, len(t.Data))
	for src := range t.Data {
		names = append(names, src)
	}
	sort.Strings(names)
	return names
}

// TrainID returns the shared train id, taken from any source's metadata.
func (t Train) TrainID() uint64 {
	for _, m := range t.Meta {
		return m.TrainID
	}
	return 0
}

func (t Train) validate() error {
	if len(t.Data) != len(t.Meta) {
		return ErrSourceSetMismatch
	}
	for src := range t.Data {
		if _, ok := t.Meta[src]; !ok {
			return fmt.Errorf("%w: %q has data but no metadata", ErrSourceSetMismatch, src)
		}
	}
	return nil
}
