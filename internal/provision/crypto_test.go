package provision

import (
	"encoding/base64"
	"testing"
)

func encodeKey(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func TestCipher_RoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := NewCipher(encodeKey(key))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	sealed, err := c.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if sealed == "hunter2" {
		t.Fatal("ciphertext equals plaintext")
	}
	plain, err := c.Decrypt(sealed)
	if err != nil || plain != "hunter2" {
		t.Fatalf("decrypt: %q %v", plain, err)
	}

	// Same plaintext seals differently each time (random nonce).
	sealed2, _ := c.Encrypt("hunter2")
	if sealed == sealed2 {
		t.Fatal("nonce reuse")
	}
}

func TestCipher_WrongKeyFails(t *testing.T) {
	k1 := make([]byte, 32)
	k2 := make([]byte, 32)
	k2[0] = 1
	c1, _ := NewCipher(encodeKey(k1))
	c2, _ := NewCipher(encodeKey(k2))

	sealed, _ := c1.Encrypt("secret")
	if _, err := c2.Decrypt(sealed); err == nil {
		t.Fatal("decrypt with wrong key must fail")
	}
}

func TestCipher_NilPassthrough(t *testing.T) {
	c, err := NewCipher("")
	if err != nil {
		t.Fatalf("empty key: %v", err)
	}
	if c != nil {
		t.Fatal("empty key must yield nil cipher")
	}
	out, err := c.Encrypt("plain")
	if err != nil || out != "plain" {
		t.Fatalf("nil encrypt: %q %v", out, err)
	}
	out, err = c.Decrypt("plain")
	if err != nil || out != "plain" {
		t.Fatalf("nil decrypt: %q %v", out, err)
	}
}

func TestCipher_BadKeyLength(t *testing.T) {
	if _, err := NewCipher(encodeKey(make([]byte, 16))); err == nil {
		t.Fatal("16-byte key must be rejected")
	}
	if _, err := NewCipher("not-base64!!"); err == nil {
		t.Fatal("invalid base64 must be rejected")
	}
}
