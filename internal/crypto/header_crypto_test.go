package crypto

import "testing"

func fixedKey32() []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewHeaderCipher(fixedKey32())
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	wire, err := c.Encrypt("secret-value")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got := c.Decrypt(wire)
	if got != "secret-value" {
		t.Fatalf("got %q, want %q", got, "secret-value")
	}
}

func TestDecryptInvalidPassesThrough(t *testing.T) {
	c, err := NewHeaderCipher(fixedKey32())
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	literal := "not-encrypted-legacy-value"
	if got := c.Decrypt(literal); got != literal {
		t.Fatalf("got %q, want literal passthrough %q", got, literal)
	}
}

func TestEncryptProducesDistinctNonces(t *testing.T) {
	c, err := NewHeaderCipher(fixedKey32())
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	a, _ := c.Encrypt("x")
	b, _ := c.Encrypt("x")
	if a == b {
		t.Fatal("expected distinct ciphertexts due to random nonce")
	}
}
