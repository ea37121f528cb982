package secure

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	return priv
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 15, 16, 1000} {
		key := make([]byte, KeySize)
		if _, err := rand.Read(key); err != nil {
			t.Fatal(err)
		}
		s, err := NewSessionWithKey(nil, key)
		if err != nil {
			t.Fatalf("NewSessionWithKey failed: %v", err)
		}
		iv, err := s.NewIV()
		if err != nil {
			t.Fatalf("NewIV failed: %v", err)
		}
		plain := make([]byte, n)
		if _, err := rand.Read(plain); err != nil {
			t.Fatal(err)
		}
		ct := s.Encrypt(plain, iv)
		if len(ct) != n {
			t.Fatalf("len=%d: ciphertext length %d", n, len(ct))
		}
		if got := s.Decrypt(ct, iv); !bytes.Equal(got, plain) {
			t.Fatalf("len=%d: round trip mismatch", n)
		}
	}
}

func TestNewIVIsFresh(t *testing.T) {
	s, err := NewSessionWithKey(nil, make([]byte, KeySize))
	if err != nil {
		t.Fatal(err)
	}
	a, _ := s.NewIV()
	b, _ := s.NewIV()
	if a == b {
		t.Fatalf("expected distinct IVs")
	}
}

func TestNewSessionRequiresPublicKey(t *testing.T) {
	if _, err := NewSession(nil); !errors.Is(err, ErrMissingPublicKey) {
		t.Fatalf("expected ErrMissingPublicKey, got %v", err)
	}
	if _, err := NewSessionWithKey(nil, []byte{1, 2, 3}); !errors.Is(err, ErrInvalidKeySize) {
		t.Fatalf("expected ErrInvalidKeySize, got %v", err)
	}
}

func TestEncryptKeyRoundTrip(t *testing.T) {
	priv := testKey(t)
	s, err := NewSession(&priv.PublicKey)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	ek, err := s.EncryptKey()
	if err != nil {
		t.Fatalf("EncryptKey failed: %v", err)
	}
	got, err := DecryptKey(priv, ek)
	if err != nil {
		t.Fatalf("DecryptKey failed: %v", err)
	}
	if !bytes.Equal(got, s.Key()) {
		t.Fatalf("unwrapped key mismatch")
	}
}

func TestParsePublicKeyPEM(t *testing.T) {
	priv := testKey(t)

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&priv.PublicKey)})
	got, err := ParsePublicKeyPEM(pkcs1)
	if err != nil {
		t.Fatalf("PKCS1 parse failed: %v", err)
	}
	if got.N.Cmp(priv.N) != 0 {
		t.Fatalf("PKCS1 modulus mismatch")
	}

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	pkix := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	if _, err := ParsePublicKeyPEM(pkix); err != nil {
		t.Fatalf("PKIX parse failed: %v", err)
	}

	if _, err := ParsePublicKeyPEM([]byte("not pem")); !errors.Is(err, ErrInvalidPublicKey) {
		t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
	}
	other := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1}})
	if _, err := ParsePublicKeyPEM(other); !errors.Is(err, ErrInvalidPublicKey) {
		t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
	}
}
