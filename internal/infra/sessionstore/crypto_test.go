package sessionstore

import (
	"bytes"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32) // AES-256
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey()
	plaintext := []byte("whatsapp session credential blob")

	ciphertext, err := encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("encrypt returned error: %v", err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Error("ciphertext should not contain the plaintext verbatim")
	}

	got, err := decrypt(key, ciphertext)
	if err != nil {
		t.Fatalf("decrypt returned error: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("decrypt() = %q, want %q", got, plaintext)
	}
}

func TestEncryptProducesDistinctIVs(t *testing.T) {
	key := testKey()
	plaintext := []byte("same plaintext every time")

	first, err := encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("encrypt returned error: %v", err)
	}
	second, err := encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("encrypt returned error: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Error("two encryptions of the same plaintext should differ due to random IVs")
	}
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	if _, err := decrypt(testKey(), []byte("short")); err == nil {
		t.Error("expected an error for ciphertext shorter than one AES block")
	}
}

func TestPKCS7PadUnpadRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 15, 16, 17, 31, 32} {
		data := bytes.Repeat([]byte{0xAB}, size)
		padded := pkcs7Pad(data, 16)
		if len(padded)%16 != 0 {
			t.Fatalf("padded length %d is not a multiple of the block size for input size %d", len(padded), size)
		}
		unpadded, err := pkcs7Unpad(padded)
		if err != nil {
			t.Fatalf("pkcs7Unpad returned error for input size %d: %v", size, err)
		}
		if !bytes.Equal(unpadded, data) {
			t.Errorf("round trip for size %d = %q, want %q", size, unpadded, data)
		}
	}
}
