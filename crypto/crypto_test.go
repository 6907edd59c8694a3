package crypto

import (
	"strings"
	"testing"
)

// ── Hashing ──────────────────────────────────────────────────────────────────

func TestSHA256Hex(t *testing.T) {
	// Well-known vector: sha256("") and sha256("abc").
	tests := []struct {
		in   string
		want string
	}{
		{"", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"abc", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
	}
	for _, tt := range tests {
		if got := SHA256Hex([]byte(tt.in)); got != tt.want {
			t.Errorf("SHA256Hex(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

// ── Keypairs and signatures ──────────────────────────────────────────────────

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	msg := []byte("shipment SH-1 created at origin warehouse")
	sig, err := Sign(priv, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !Verify(pub, msg, sig) {
		t.Fatal("signature did not verify under its own public key")
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	pub, priv, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	sig, err := Sign(priv, []byte("original"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if Verify(pub, []byte("tampered"), sig) {
		t.Fatal("tampered message verified")
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	_, priv, _ := GenerateKeypair()
	otherPub, _, _ := GenerateKeypair()
	sig, err := Sign(priv, []byte("msg"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if Verify(otherPub, []byte("msg"), sig) {
		t.Fatal("signature verified under unrelated public key")
	}
}

// TestVerifyMalformedInputs checks that Verify never panics or errors on
// garbage; it must simply return false.
func TestVerifyMalformedInputs(t *testing.T) {
	pub, priv, _ := GenerateKeypair()
	sig, _ := Sign(priv, []byte("msg"))

	cases := []struct {
		name string
		pub  string
		sig  string
	}{
		{"empty public key", "", sig},
		{"non-base64 public key", "!!not-base64!!", sig},
		{"truncated public key", pub[:len(pub)/2], sig},
		{"empty signature", pub, ""},
		{"non-base64 signature", pub, "%%%"},
		{"truncated signature", pub, sig[:4]},
		{"base64 but not DER", strings.Repeat("A", 44), sig},
	}
	for _, tt := range cases {
		if Verify(tt.pub, []byte("msg"), tt.sig) {
			t.Errorf("%s: Verify returned true", tt.name)
		}
	}
}

func TestPublicKeyFrom(t *testing.T) {
	pub, priv, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	derived, err := PublicKeyFrom(priv)
	if err != nil {
		t.Fatalf("PublicKeyFrom: %v", err)
	}
	if derived != pub {
		t.Errorf("derived public key mismatch:\n have %s\n want %s", derived, pub)
	}
	if _, err := PublicKeyFrom("garbage"); err == nil {
		t.Error("PublicKeyFrom accepted garbage input")
	}
}

func TestSignRejectsBadPrivateKey(t *testing.T) {
	if _, err := Sign("not-a-key", []byte("msg")); err == nil {
		t.Fatal("Sign accepted malformed private key")
	}
}
