package wire

import (
	"bytes"
	"testing"
)

var testSecret = []byte("0123456789abcdef")

func TestEncodeValidate_RoundTrip(t *testing.T) {
	t.Parallel()

	pkt := Encode(7, 123456789, 0xdeadbeefcafe, testSecret)
	if got := Validate(pkt[:], testSecret); got != Accept {
		t.Fatalf("verdict=%s", got)
	}
	if Seq(pkt[:]) != 7 {
		t.Fatalf("seq=%d", Seq(pkt[:]))
	}
	if SendNs(pkt[:]) != 123456789 {
		t.Fatalf("sendNs=%d", SendNs(pkt[:]))
	}
	if Nonce(pkt[:]) != 0xdeadbeefcafe {
		t.Fatalf("nonce=%d", Nonce(pkt[:]))
	}
}

func TestValidate_RejectsBitFlips(t *testing.T) {
	t.Parallel()

	pkt := Encode(1, 2, 3, testSecret)
	for i := 4; i < PacketLen; i++ {
		mut := pkt
		mut[i] ^= 0x01
		if got := Validate(mut[:], testSecret); got != RejectTag {
			t.Fatalf("byte %d: verdict=%s", i, got)
		}
	}
}

func TestValidate_RejectsMagicAndLength(t *testing.T) {
	t.Parallel()

	pkt := Encode(1, 2, 3, testSecret)
	mut := pkt
	mut[0] = 'X'
	if got := Validate(mut[:], testSecret); got != RejectMagic {
		t.Fatalf("verdict=%s", got)
	}
	if got := Validate(pkt[:PacketLen-1], testSecret); got != RejectLength {
		t.Fatalf("verdict=%s", got)
	}
	if got := Validate(bytes.Repeat([]byte{0}, PacketLen+1), testSecret); got != RejectLength {
		t.Fatalf("verdict=%s", got)
	}
}

func TestValidate_WrongSecret(t *testing.T) {
	t.Parallel()

	pkt := Encode(1, 2, 3, testSecret)
	if got := Validate(pkt[:], []byte("another-secret-0123456")); got != RejectTag {
		t.Fatalf("verdict=%s", got)
	}
}

func TestParseSecret(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		wantLen int
		wantErr bool
	}{
		{"hex", "00112233445566778899aabbccddeeff", 16, false},
		{"raw", "sixteen-byte-key", 16, false},
		{"short", "deadbeef", 0, true},
		{"empty", "", 0, true},
		{"odd length raw", "seventeen-byte-ky", 17, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			secret, err := ParseSecret(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", secret)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSecret: %v", err)
			}
			if len(secret) != tc.wantLen {
				t.Fatalf("len=%d want %d", len(secret), tc.wantLen)
			}
		})
	}
}

func TestSecretFromEnv_PrefersHex(t *testing.T) {
	t.Setenv(EnvSecretHex, "00112233445566778899aabbccddeeff")
	t.Setenv(EnvSecret, "raw-secret-sixteen")

	secret, err := SecretFromEnv()
	if err != nil {
		t.Fatalf("SecretFromEnv: %v", err)
	}
	if secret[0] != 0x00 || secret[1] != 0x11 {
		t.Fatalf("hex source not preferred: %x", secret)
	}
}
