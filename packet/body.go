package packet

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// BodyTypeBSON is the body type of every frame the core encodes and decodes by default.
const BodyTypeBSON int8 = 0

// StatusKey is the body key holding the application-level result code.
const StatusKey = "status"

// ErrMalformedBody is returned when body bytes are not a valid BSON document.
var ErrMalformedBody = errors.New("malformed packet body")

// emptyDocument is the BSON encoding of {}.
var emptyDocument = []byte{5, 0, 0, 0, 0}

// EncodeBody marshals payload as a BSON document. A nil payload encodes as an
// empty document.
func EncodeBody(payload any) ([]byte, error) {
	if payload == nil {
		out := make([]byte, len(emptyDocument))
		copy(out, emptyDocument)
		return out, nil
	}
	if raw, ok := payload.(bson.Raw); ok {
		return raw, nil
	}
	b, err := bson.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return b, nil
}

// DecodeDocument validates body and returns it as a raw BSON document. An empty body
// decodes to an empty document.
func DecodeDocument(body []byte) (bson.Raw, error) {
	if len(body) == 0 {
		return bson.Raw(emptyDocument), nil
	}
	raw := bson.Raw(body)
	if err := raw.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return raw, nil
}

// BodyStatus returns the `status` entry of doc when it is present and numeric.
func BodyStatus(doc bson.Raw) (int64, bool) {
	v, err := doc.LookupErr(StatusKey)
	if err != nil {
		return 0, false
	}
	if i, ok := v.Int32OK(); ok {
		return int64(i), true
	}
	if i, ok := v.Int64OK(); ok {
		return i, true
	}
	if f, ok := v.DoubleOK(); ok {
		return int64(f), true
	}
	return 0, false
}
