package simulation

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/exflux/trainbridge/internal/ndarray"
)

// Random pixel values stay inside [randomLow, randomHigh).
const (
	randomLow  = 1500
	randomHigh = 1600
)

// GeneratorFunc produces one image array of the requested dtype and shape.
type GeneratorFunc func(rng *rand.Rand, dtype ndarray.DType, shape []int) *ndarray.Array

var generators = map[string]GeneratorFunc{
	"random": genRandom,
	"zeros":  genZeros,
}

// LookupGenerator resolves a generator selector. Unknown names fail at
// construction time.
func LookupGenerator(name string) (GeneratorFunc, error) {
	gen, ok := generators[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGenerator, name)
	}
	return gen, nil
}

// GeneratorNames lists the available generator selectors in sorted order.
func GeneratorNames() []string {
	names := make([]string, 0, len(generators))
	for name := range generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func genZeros(_ *rand.Rand, dtype ndarray.DType, shape []int) *ndarray.Array {
	return ndarray.New(dtype, shape...)
}

func genRandom(rng *rand.Rand, dtype ndarray.DType, shape []int) *ndarray.Array {
	arr := ndarray.New(dtype, shape...)
	buf := arr.Bytes()
	switch dtype {
	case ndarray.Float32:
		for i := 0; i < arr.Len(); i++ {
			v := float32(randomLow + rng.Float64()*(randomHigh-randomLow))
			// float32 rounding can land exactly on the open upper bound.
			if v >= randomHigh {
				v = math.Nextafter32(randomHigh, 0)
			}
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
	case ndarray.Uint16:
		for i := 0; i < arr.Len(); i++ {
			v := uint16(randomLow + rng.Intn(randomHigh-randomLow))
			binary.LittleEndian.PutUint16(buf[i*2:], v)
		}
	default:
		// Detector images are float32 (corrected) or uint16 (raw) only.
		panic(fmt.Sprintf("simulation: random generator for dtype %s", dtype))
	}
	return arr
}
