// Package protocol implements the bridge wire protocol: the train data
// model, the pluggable structured-frame serializers, and the version-aware
// codec that turns one train into an ordered sequence of message frames and
// back.
//
// A reply is a multipart message. Depending on the protocol version, each
// source contributes either one structured frame (1.0) or a run of frames:
// a header frame and a payload frame for the non-array fields, then a
// header frame and a raw-bytes frame per array field. Array bytes always
// travel contiguous in row-major order; the paired header carries the dtype
// and shape needed to reinterpret them without further schema.
package protocol
