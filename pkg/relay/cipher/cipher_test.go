package cipher

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return key
}

func TestSealOpenRoundtrip(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("the prompt travels sealed")
	aad := []byte("req-1|request")

	sealed, err := Seal(key, plaintext, aad)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatal("sealed blob leaks plaintext")
	}

	opened, err := Open(key, sealed, aad)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("roundtrip mismatch: got %q", opened)
	}
}

func TestFreshNoncePerSeal(t *testing.T) {
	key := testKey(t)
	aad := []byte("req-1|request")

	a, _ := Seal(key, []byte("same"), aad)
	b, _ := Seal(key, []byte("same"), aad)
	if bytes.Equal(a, b) {
		t.Fatal("two seals of the same plaintext produced identical blobs")
	}
}

func TestOpenFailsClosed(t *testing.T) {
	key := testKey(t)
	aad := []byte("req-1|request")
	sealed, err := Seal(key, []byte("secret"), aad)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	tests := []struct {
		name   string
		key    []byte
		sealed []byte
		aad    []byte
	}{
		{"wrong key", testKey(t), sealed, aad},
		{"flipped ciphertext bit", key, flipBit(sealed, len(sealed)-1), aad},
		{"flipped nonce bit", key, flipBit(sealed, 0), aad},
		{"wrong associated data", key, sealed, []byte("req-2|request")},
		{"wrong direction in aad", key, sealed, []byte("req-1|response")},
		{"truncated blob", key, sealed[:NonceSize+2], aad},
		{"empty blob", key, nil, aad},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plaintext, err := Open(tt.key, tt.sealed, tt.aad)
			if !errors.Is(err, ErrDecryptionFailure) {
				t.Fatalf("err = %v, want ErrDecryptionFailure", err)
			}
			if plaintext != nil {
				t.Fatal("got plaintext from a failed open")
			}
		})
	}
}

func flipBit(in []byte, i int) []byte {
	out := append([]byte(nil), in...)
	out[i] ^= 0x01
	return out
}

func TestParseKeyHex(t *testing.T) {
	key := testKey(t)

	parsed, err := ParseKeyHex(hex.EncodeToString(key))
	if err != nil {
		t.Fatalf("ParseKeyHex: %v", err)
	}
	if !bytes.Equal(parsed, key) {
		t.Fatal("parsed key differs")
	}

	if _, err := ParseKeyHex("not-hex"); err == nil {
		t.Fatal("expected error for non-hex input")
	}
	if _, err := ParseKeyHex(hex.EncodeToString(key[:16])); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestSealRejectsBadKeySize(t *testing.T) {
	if _, err := Seal([]byte("short"), []byte("p"), nil); err == nil {
		t.Fatal("expected error for bad key size")
	}
}
