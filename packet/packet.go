package packet

import (
	"go.mongodb.org/mongo-driver/bson"
)

// Packet is a header paired with a typed payload.
type Packet[P any] struct {
	Header  Header
	Payload P
}

// Encode marshals p into a wire frame. BodySize is recomputed from the encoded payload.
func Encode[P any](p Packet[P]) ([]byte, error) {
	body, err := EncodeBody(p.Payload)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(p.Header, body)
}

// Decode unmarshals the body of f into a Packet of payload type P.
func Decode[P any](f Frame) (Packet[P], error) {
	p := Packet[P]{Header: f.Header}
	doc, err := DecodeDocument(f.Body)
	if err != nil {
		return p, err
	}
	if err := bson.Unmarshal(doc, &p.Payload); err != nil {
		return p, err
	}
	return p, nil
}
