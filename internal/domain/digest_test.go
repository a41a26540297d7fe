package domain

import "testing"

func TestDigestFromHex(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"valid lower case", "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff", false},
		{"valid upper case", "00112233445566778899AABBCCDDEEFF00112233445566778899AABBCCDDEEFF", false},
		{"too short", "aabb", true},
		{"not hex", "zz112233445566778899aabbccddeeff00112233445566778899aabbccddeeff", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := DigestFromHex(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("DigestFromHex(%q) = nil error, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("DigestFromHex(%q) unexpected error: %v", tt.in, err)
			}
			if got := d.ToHexString(); got != normalizeHex(tt.in) {
				t.Errorf("round-trip hex = %q, want %q", got, normalizeHex(tt.in))
			}
		})
	}
}

func normalizeHex(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'F' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func TestDigestEqual(t *testing.T) {
	a, err := DigestFromHex("00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")
	if err != nil {
		t.Fatal(err)
	}
	b := a
	if !a.Equal(b) {
		t.Error("Equal(a, a) = false, want true")
	}

	var zero Digest
	if a.Equal(zero) {
		t.Error("Equal(a, zero) = true, want false")
	}
}

func TestConstantTimeEqualHex(t *testing.T) {
	want, err := DigestFromHex("00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")
	if err != nil {
		t.Fatal(err)
	}

	if !ConstantTimeEqualHex(want.ToHexString(), want) {
		t.Error("matching hex should compare equal")
	}
	if ConstantTimeEqualHex("00", want) {
		t.Error("mismatched length should never compare equal")
	}
	if ConstantTimeEqualHex("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff", want) {
		t.Error("mismatched content should not compare equal")
	}
}
