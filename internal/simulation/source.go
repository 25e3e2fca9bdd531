package simulation

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/exflux/trainbridge/internal/ndarray"
	"github.com/exflux/trainbridge/internal/protocol"
)

const combinedModules = 16

// Config selects the detector family, data shape and fan-out of one
// simulator instance. Unknown selectors fail in NewSimulator, before any
// network resource is bound.
type Config struct {
	Family    string
	Source    string // overrides the family default source path
	Corrected bool
	Generator string
	NSources  int
	Seed      int64 // rng seed, 0 means time-based
}

// Simulator is a TrainSource producing an infinite train sequence. The
// train id counter only ever advances and is owned exclusively by the
// instance; concurrent simulators are fully independent.
type Simulator struct {
	family    Family
	source    string
	corrected bool
	gen       GeneratorFunc
	nsources  int
	rng       *rand.Rand
	nextID    uint64
}

// NewSimulator validates cfg and builds a simulator starting at the train
// id epoch constant.
func NewSimulator(cfg Config) (*Simulator, error) {
	family, err := LookupFamily(cfg.Family)
	if err != nil {
		return nil, err
	}
	gen, err := LookupGenerator(cfg.Generator)
	if err != nil {
		return nil, err
	}
	source := cfg.Source
	if source == "" {
		source = family.DefaultSource
	}
	nsources := cfg.NSources
	if nsources < 1 {
		nsources = 1
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		family:    family,
		source:    source,
		corrected: cfg.Corrected,
		gen:       gen,
		nsources:  nsources,
		rng:       rand.New(rand.NewSource(seed)),
		nextID:    protocol.TrainIDEpoch,
	}, nil
}

// Family returns the simulated detector record.
func (s *Simulator) Family() Family { return s.family }

// Source returns the base source path.
func (s *Simulator) Source() string { return s.source }

// DataType is float32 for corrected data, uint16 for raw.
func (s *Simulator) DataType() ndarray.DType {
	if s.corrected {
		return ndarray.Float32
	}
	return ndarray.Uint16
}

// Next produces one train and advances the id counter.
func (s *Simulator) Next(ctx context.Context) (protocol.Train, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Train{}, err
	}

	trainID := s.nextID
	s.nextID++

	now := time.Now()
	meta := protocol.NewMetadata(s.source, now, trainID)
	img := s.gen(s.rng, s.DataType(), s.family.DataShape())

	data := s.family.constFields()
	data["__intime"] = meta.Timestamp
	data["cellId"] = arange(s.family.Pulses)
	data["combinedFrom"] = s.moduleSources()
	data["image.data"] = img
	data["length"] = lengthArray(s.family.Pulses, img.NBytes())
	data["modulesPresents"] = presentModules(s.family.Modules)
	data["pulseCount"] = uint64(s.family.Pulses)
	data["pulseId"] = arange(s.family.Pulses)
	data["sources"] = s.moduleSources()
	data["trainId"] = trainID
	if s.corrected {
		data["image.gain"] = ndarray.New(ndarray.Uint16, s.family.DataShape()...)
		data["passport"] = s.corrPassport()
	}

	train := protocol.Train{
		Data: map[string]protocol.Data{s.source: data},
		Meta: map[string]protocol.Metadata{s.source: meta},
	}
	if s.nsources > 1 {
		train = fanOut(train, s.source, s.nsources)
	}
	return train, nil
}

// corrPassport names the calibration pipeline stages applied to corrected
// data, derived from the source's domain prefix.
func (s *Simulator) corrPassport() []string {
	domain, _, _ := strings.Cut(s.source, "/")
	return []string{
		domain + "/CAL/THRESHOLDING_Q1M1",
		domain + "/CAL/OFFSET_CORR_Q1M1",
		domain + "/CAL/RELGAIN_CORR_Q1M1",
	}
}

// moduleSources lists the synthetic per-module source names the aggregate
// train was combined from.
func (s *Simulator) moduleSources() []string {
	prefix := s.source
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		prefix = prefix[:i]
	}
	out := make([]string, combinedModules)
	for i := range out {
		out[i] = fmt.Sprintf("%s/%dCH0:xtdf", prefix, i)
	}
	return out
}

func arange(n int) *ndarray.Array {
	arr := ndarray.New(ndarray.Uint16, n)
	for i := 0; i < n; i++ {
		arr.SetUint16(uint16(i), i)
	}
	return arr
}

func lengthArray(pulses, nbytes int) *ndarray.Array {
	arr := ndarray.New(ndarray.Uint32, pulses, 1)
	arr.FillUint32(uint32(nbytes))
	return arr
}

func presentModules(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = true
	}
	return out
}

// fanOut replaces the single base source with nsources deep-independent
// copies named <base>-1..-N, dropping the unsuffixed original.
func fanOut(t protocol.Train, base string, nsources int) protocol.Train {
	out := protocol.Train{
		Data: make(map[string]protocol.Data, nsources),
		Meta: make(map[string]protocol.Metadata, nsources),
	}
	for i := 1; i <= nsources; i++ {
		src := fmt.Sprintf("%s-%d", base, i)
		out.Data[src] = copyData(t.Data[base])
		meta := t.Meta[base]
		meta.Source = src
		out.Meta[src] = meta
	}
	return out
}

func copyData(d protocol.Data) protocol.Data {
	out := make(protocol.Data, len(d))
	for k, v := range d {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case *ndarray.Array:
		return val.Clone()
	case []byte:
		return append([]byte(nil), val...)
	case []string:
		return append([]string(nil), val...)
	case []bool:
		return append([]bool(nil), val...)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = copyValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = copyValue(e)
		}
		return out
	default:
		return val
	}
}
