package bankcrypto

import (
	"strings"
	"testing"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestNew_KeyLength(t *testing.T) {
	if _, err := New("short"); err == nil {
		t.Fatal("expected error for short key")
	}
	if _, err := New(testKey + "x"); err == nil {
		t.Fatal("expected error for long key")
	}
	if _, err := New(testKey); err != nil {
		t.Fatalf("unexpected error for 32-byte key: %v", err)
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	enc, err := New(testKey)
	if err != nil {
		t.Fatalf("build encryptor: %v", err)
	}

	cbu := "2850590940090418135201"
	sealed, err := enc.Encrypt(cbu)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if sealed == cbu || strings.Contains(sealed, cbu) {
		t.Fatal("ciphertext must not contain the plaintext")
	}

	opened, err := enc.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if opened != cbu {
		t.Fatalf("round trip: expected %q got %q", cbu, opened)
	}
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	enc, _ := New(testKey)

	a, err := enc.Encrypt("2850590940090418135201")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	b, err := enc.Encrypt("2850590940090418135201")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if a == b {
		t.Fatal("two encryptions of the same value must differ (random nonce)")
	}
}

func TestDecrypt_Garbage(t *testing.T) {
	enc, _ := New(testKey)

	if _, err := enc.Decrypt("not-base64!!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if _, err := enc.Decrypt("YWJj"); err == nil {
		t.Fatal("expected error for truncated ciphertext")
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	enc, _ := New(testKey)
	other, _ := New("ffffffffffffffffffffffffffffffff")

	sealed, err := enc.Encrypt("2850590940090418135201")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := other.Decrypt(sealed); err == nil {
		t.Fatal("expected authentication failure with wrong key")
	}
}

func TestMask(t *testing.T) {
	if got := Mask("2850590940090418135201"); got != "****5201" {
		t.Fatalf("expected ****5201, got %q", got)
	}
	if got := Mask("123"); got != "****" {
		t.Fatalf("short values must be fully masked, got %q", got)
	}
}

func TestLast4(t *testing.T) {
	if got := Last4("2850590940090418135201"); got != "5201" {
		t.Fatalf("expected 5201, got %q", got)
	}
	if got := Last4(" 2850590940090418135201 "); got != "5201" {
		t.Fatalf("expected trimmed 5201, got %q", got)
	}
}
