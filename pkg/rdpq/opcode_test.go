package rdpq

import "testing"

// TestEncodeDecodeFieldRoundtrip verifies that packing a value into an
// arbitrary bit range and reading it back recovers the original value.
func TestEncodeDecodeFieldRoundtrip(t *testing.T) {
	cases := []struct {
		lo, hi int
		value  uint64
	}{
		{0, 7, 0xAB},
		{8, 23, 0x1234},
		{32, 63, 0xDEADBEEF},
		{55, 55, 1},
	}
	for _, c := range cases {
		word := EncodeField(0, c.lo, c.hi, c.value)
		got := DecodeFieldUnsigned(word, c.lo, c.hi)
		if got != c.value {
			t.Fatalf("EncodeField/DecodeFieldUnsigned(%d,%d,%#x) roundtrip got %#x", c.lo, c.hi, c.value, got)
		}
	}
}

// TestDecodeFieldSigned verifies sign extension from the top bit of the
// field, not the top bit of the word.
func TestDecodeFieldSigned(t *testing.T) {
	word := EncodeField(0, 0, 13, uint64(0x3FFF)) // all 14 bits set -> -1
	got := DecodeFieldSigned(word, 0, 13)
	if got != -1 {
		t.Fatalf("DecodeFieldSigned got %d, want -1", got)
	}

	word = EncodeField(0, 0, 13, uint64(0x2000)) // sign bit only -> most negative
	got = DecodeFieldSigned(word, 0, 13)
	if got != -8192 {
		t.Fatalf("DecodeFieldSigned got %d, want -8192", got)
	}
}

// TestFloatToFixedSaturates verifies that out-of-range values clamp to the
// 32-bit extremes rather than wrapping, matching the hardware's
// float_to_sNN_MM behavior.
func TestFloatToFixedSaturates(t *testing.T) {
	if got := FloatToFixed(1e12, 16); got != 0x7FFFFFFF {
		t.Fatalf("FloatToFixed(1e12) = %#x, want 0x7FFFFFFF", got)
	}
	if got := FloatToFixed(-1e12, 16); got != -0x80000000 {
		t.Fatalf("FloatToFixed(-1e12) = %#x, want -0x80000000", got)
	}
}

// TestFloatToS16_16 checks a handful of exact conversions.
func TestFloatToS16_16(t *testing.T) {
	if got := FloatToS16_16(1.0); got != 1<<16 {
		t.Fatalf("FloatToS16_16(1.0) = %#x, want %#x", got, 1<<16)
	}
	if got := FloatToS16_16(-1.5); got != -(3 << 15) {
		t.Fatalf("FloatToS16_16(-1.5) = %d, want %d", got, -(3 << 15))
	}
}

// TestTruncateS11_2 exercises the TRUNCATE_S11_2 sign-replication quirk:
// a value whose sign bit sits above bit 13 must have that sign replicated
// down into the low 14 bits so later 32-bit arithmetic on the result
// sign-extends correctly.
func TestTruncateS11_2(t *testing.T) {
	got := truncateS11_2(-4)
	want := int32(-4) & 0x1FFF
	if got != want|((-4>>18)&^0x1FFF) {
		t.Fatalf("truncateS11_2(-4) = %#x", got)
	}
	// A positive small value passes through unchanged.
	if got := truncateS11_2(12); got != 12 {
		t.Fatalf("truncateS11_2(12) = %d, want 12", got)
	}
}

// TestOpcodeWordRoundtrip verifies the opcode sits in bits 56-61 and
// decodeOpcode recovers it regardless of the low 56 bits' content.
func TestOpcodeWordRoundtrip(t *testing.T) {
	word := opcodeWord(OpSetScissor, 0x00FFFFFFFFFFFFFF)
	if decodeOpcode(word) != OpSetScissor {
		t.Fatalf("decodeOpcode = %#x, want OpSetScissor", decodeOpcode(word))
	}
}
