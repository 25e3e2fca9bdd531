// Package monitor renders pulled trains for a terminal, one block per
// train, with detail growing with the verbosity level.
package monitor

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/exflux/trainbridge/internal/ndarray"
	"github.com/exflux/trainbridge/internal/protocol"
)

// PrintTrain writes one train summary. Verbosity 0 is a single line;
// 1 adds the source list, 2 adds per-key value summaries, 3 adds the
// timing metadata.
func PrintTrain(w io.Writer, t protocol.Train, verbosity int) {
	names := t.SourceNames()
	delay := trainDelay(t, names)
	fmt.Fprintf(w, "train %d | %d sources | delay %.3fs\n", t.TrainID(), len(names), delay.Seconds())
	if verbosity < 1 {
		return
	}

	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", name)
		if verbosity >= 2 {
			printData(w, t.Data[name])
		}
		if verbosity >= 3 {
			printMeta(w, t.Meta[name])
		}
	}
}

func printData(w io.Writer, data protocol.Data) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "    %-28s %s\n", k, describe(data[k]))
	}
}

func printMeta(w io.Writer, meta protocol.Metadata) {
	fmt.Fprintf(w, "    metadata: tid=%d sec=%s frac=%s timestamp=%.6f\n",
		meta.TrainID, meta.Seconds, meta.Fraction, meta.Timestamp)
}

func describe(v any) string {
	switch val := v.(type) {
	case *ndarray.Array:
		return fmt.Sprintf("array %s %v (%d bytes)", val.DType(), val.Shape(), val.NBytes())
	case []byte:
		return fmt.Sprintf("bytes len=%d", len(val))
	case []string:
		return fmt.Sprintf("strings len=%d", len(val))
	case []bool:
		return fmt.Sprintf("bools len=%d", len(val))
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%T %v", v, v)
	}
}

// trainDelay is the age of the train's timestamp at print time, from the
// first source carrying one.
func trainDelay(t protocol.Train, names []string) time.Duration {
	for _, name := range names {
		meta := t.Meta[name]
		if meta.Timestamp > 0 {
			sent := time.Unix(0, int64(meta.Timestamp*1e9))
			return time.Since(sent)
		}
	}
	return 0
}
