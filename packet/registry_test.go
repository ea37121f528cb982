package packet

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/floegence/loco-go/locoerr"
)

type pingBody struct {
	Status int32 `bson:"status"`
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(RegistryConfig{
		Methods:   map[string]Shape{"LOGINLIST": ShapeOf[loginBody](), "PING": ShapeOf[pingBody]()},
		BodyTypes: map[int8]Shape{BodyTypeBSON: Document},
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return r
}

func mustFrame(t *testing.T, h Header, payload any) Frame {
	t.Helper()
	b, err := EncodeBody(payload)
	if err != nil {
		t.Fatal(err)
	}
	h.BodySize = uint32(len(b))
	return Frame{Header: h, Body: b}
}

func TestRegistryDecodesByMethod(t *testing.T) {
	r := testRegistry(t)
	f := mustFrame(t, Header{ID: 1, Method: "LOGINLIST"}, loginBody{UserID: 77})
	payload, doc, err := r.Decode(f)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(loginBody{UserID: 77}, payload); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
	if st, ok := BodyStatus(doc); !ok || st != 0 {
		t.Fatalf("unexpected status %d %v", st, ok)
	}
}

func TestRegistryFallsBackToBodyType(t *testing.T) {
	r := testRegistry(t)
	f := mustFrame(t, Header{ID: 0, Method: "MSG"}, bson.M{"chatId": int64(5)})
	payload, _, err := r.Decode(f)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	raw, ok := payload.(bson.Raw)
	if !ok {
		t.Fatalf("expected bson.Raw payload, got %T", payload)
	}
	if v := raw.Lookup("chatId").Int64(); v != 5 {
		t.Fatalf("unexpected chatId %d", v)
	}
}

func TestRegistryUnknownPacket(t *testing.T) {
	r := testRegistry(t)
	f := mustFrame(t, Header{Method: "MSG", BodyType: 3}, nil)
	_, _, err := r.Decode(f)
	if !errors.Is(err, ErrUnknownPacket) || locoerr.CodeOf(err) != locoerr.CodeUnknownPacket {
		t.Fatalf("expected unknown packet, got %v", err)
	}
}

func TestRegistryMalformedBody(t *testing.T) {
	r := testRegistry(t)
	f := Frame{Header: Header{Method: "PING", BodySize: 3}, Body: []byte{1, 2, 3}}
	_, _, err := r.Decode(f)
	if locoerr.CodeOf(err) != locoerr.CodeMalformedBody {
		t.Fatalf("expected malformed body, got %v", err)
	}
}

func TestRegistryIsImmutable(t *testing.T) {
	methods := map[string]Shape{"PING": ShapeOf[pingBody]()}
	r, err := NewRegistry(RegistryConfig{Methods: methods})
	if err != nil {
		t.Fatal(err)
	}
	methods["LOGINLIST"] = ShapeOf[loginBody]()
	if _, ok := r.Resolve("LOGINLIST"); ok {
		t.Fatalf("registry observed caller mutation")
	}
	r2, err := r.With(RegistryConfig{Methods: map[string]Shape{"LOGINLIST": ShapeOf[loginBody]()}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r2.Resolve("LOGINLIST"); !ok {
		t.Fatalf("With did not add entry")
	}
	if _, ok := r.Resolve("LOGINLIST"); ok {
		t.Fatalf("With mutated the receiver")
	}
}

func TestNewRegistryValidates(t *testing.T) {
	if _, err := NewRegistry(RegistryConfig{Methods: map[string]Shape{"TOOLONGMETHOD": Document}}); !errors.Is(err, ErrMethodTooLong) {
		t.Fatalf("expected ErrMethodTooLong, got %v", err)
	}
	if _, err := NewRegistry(RegistryConfig{Methods: map[string]Shape{"": Document}}); !errors.Is(err, ErrEmptyMethod) {
		t.Fatalf("expected ErrEmptyMethod, got %v", err)
	}
	if _, err := NewRegistry(RegistryConfig{Methods: map[string]Shape{"PING": nil}}); err == nil {
		t.Fatalf("expected error for nil shape")
	}
}

func TestGenericPacket(t *testing.T) {
	in := Packet[loginBody]{Header: Header{ID: 3, Method: "LOGINLIST"}, Payload: loginBody{UserID: 9, Token: "t"}}
	wire, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	a := NewAccumulator(0)
	a.Write(wire)
	f, ok, err := a.Next()
	if err != nil || !ok {
		t.Fatalf("Next ok=%v err=%v", ok, err)
	}
	out, err := Decode[loginBody](f)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	in.Header.BodySize = f.Header.BodySize
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("packet mismatch (-want +got):\n%s", diff)
	}
}
