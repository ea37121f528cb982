package packet

import (
	"errors"
	"fmt"
	"maps"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/floegence/loco-go/locoerr"
)

// ErrUnknownPacket is returned when neither the method name nor the body type of a
// frame resolves to a payload shape.
var ErrUnknownPacket = errors.New("unknown packet")

// Shape decodes a BSON body into a concrete payload value.
type Shape interface {
	Decode(doc bson.Raw) (any, error)
}

type shapeOf[T any] struct{}

func (shapeOf[T]) Decode(doc bson.Raw) (any, error) {
	var v T
	if err := bson.Unmarshal(doc, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// ShapeOf returns a Shape decoding bodies into values of type T.
func ShapeOf[T any]() Shape { return shapeOf[T]{} }

type documentShape struct{}

func (documentShape) Decode(doc bson.Raw) (any, error) { return doc, nil }

// Document keeps the body as an undecoded bson.Raw.
var Document Shape = documentShape{}

// RegistryConfig lists the shapes a Registry resolves.
type RegistryConfig struct {
	// Methods maps a method name to its payload shape.
	Methods map[string]Shape
	// BodyTypes maps a body type to the shape used when the method is not registered.
	BodyTypes map[int8]Shape
}

// Registry resolves payload shapes by method name or body type.
//
// A Registry is immutable after NewRegistry and safe for concurrent use.
type Registry struct {
	methods   map[string]Shape
	bodyTypes map[int8]Shape
}

// NewRegistry copies cfg into an immutable registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	for name, s := range cfg.Methods {
		if name == "" {
			return nil, ErrEmptyMethod
		}
		if err := ValidateMethod(name); err != nil {
			return nil, err
		}
		if s == nil {
			return nil, fmt.Errorf("nil shape for method %q", name)
		}
	}
	for bt, s := range cfg.BodyTypes {
		if s == nil {
			return nil, fmt.Errorf("nil shape for body type %d", bt)
		}
	}
	return &Registry{
		methods:   maps.Clone(cfg.Methods),
		bodyTypes: maps.Clone(cfg.BodyTypes),
	}, nil
}

// With returns a new registry holding r's entries plus cfg, with cfg taking precedence.
func (r *Registry) With(cfg RegistryConfig) (*Registry, error) {
	merged := RegistryConfig{Methods: map[string]Shape{}, BodyTypes: map[int8]Shape{}}
	if r != nil {
		maps.Copy(merged.Methods, r.methods)
		maps.Copy(merged.BodyTypes, r.bodyTypes)
	}
	maps.Copy(merged.Methods, cfg.Methods)
	maps.Copy(merged.BodyTypes, cfg.BodyTypes)
	return NewRegistry(merged)
}

// Resolve returns the shape registered for method.
func (r *Registry) Resolve(method string) (Shape, bool) {
	if r == nil {
		return nil, false
	}
	s, ok := r.methods[method]
	return s, ok
}

// ResolveDefault returns the shape registered for bodyType.
func (r *Registry) ResolveDefault(bodyType int8) (Shape, bool) {
	if r == nil {
		return nil, false
	}
	s, ok := r.bodyTypes[bodyType]
	return s, ok
}

// Lookup resolves h by method name first, then by body type.
func (r *Registry) Lookup(h Header) (Shape, error) {
	if s, ok := r.Resolve(h.Method); ok {
		return s, nil
	}
	if s, ok := r.ResolveDefault(h.BodyType); ok {
		return s, nil
	}
	return nil, locoerr.Protocol(locoerr.StageCodec, locoerr.CodeUnknownPacket,
		fmt.Errorf("%w: method %q body type %d", ErrUnknownPacket, h.Method, h.BodyType))
}

// Decode resolves the shape of f and decodes its body. The returned document is the
// raw body and is valid even when decoding into the shape fails.
func (r *Registry) Decode(f Frame) (payload any, doc bson.Raw, err error) {
	shape, err := r.Lookup(f.Header)
	if err != nil {
		return nil, nil, err
	}
	doc, err = DecodeDocument(f.Body)
	if err != nil {
		return nil, nil, locoerr.Protocol(locoerr.StageCodec, locoerr.CodeMalformedBody, err)
	}
	payload, err = shape.Decode(doc)
	if err != nil {
		return nil, doc, locoerr.Protocol(locoerr.StageCodec, locoerr.CodeMalformedBody,
			fmt.Errorf("%w: %s: %v", ErrMalformedBody, f.Header.Method, err))
	}
	return payload, doc, nil
}
