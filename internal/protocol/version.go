package protocol

import "fmt"

// Version selects the wire framing rules for one bridge connection. There
// is no in-band negotiation; both peers are configured with the same value.
type Version string

const (
	// Version10 sends the whole train as a single structured frame with
	// arrays embedded in the payload.
	Version10 Version = "1.0"
	// Version20 merges metadata like 1.0 but splits frames like 2.x. It is
	// an internal alias kept for compatibility and not offered by the CLIs.
	Version20 Version = "2.0"
	// Version21 merges metadata into the payload under "metadata." keys.
	Version21 Version = "2.1"
	// Version22 carries metadata on the payload header frame.
	Version22 Version = "2.2"
)

// ParseVersion validates a protocol version string.
func ParseVersion(s string) (Version, error) {
	switch Version(s) {
	case Version10, Version20, Version21, Version22:
		return Version(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedVersion, s)
}

func (v Version) valid() bool {
	_, err := ParseVersion(string(v))
	return err == nil
}

// splitFrames reports whether sources are framed as header/payload pairs.
func (v Version) splitFrames() bool {
	return v != Version10
}
