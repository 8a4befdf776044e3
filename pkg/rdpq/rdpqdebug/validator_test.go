package rdpqdebug

import "testing"

func word(op uint64, payload uint64) uint64 {
	return op<<56 | payload
}

func setScissor() uint64    { return word(0x2D, 0) }
func setColorImage() uint64 { return word(0x3F, 0) }

// setOtherModes packs just the fields Validate actually reads: cycle type
// (bits 52-53), perspective (51), TLUT enable (47), Z-update (5),
// Z-compare (4), Z-source-primitive (2).
func setOtherModes(cycleType uint8, persp, tlut, zUpd, zCmp, zSrcPrim bool) uint64 {
	var w uint64 = 0x2F << 56
	w |= uint64(cycleType) << 52
	if persp {
		w |= 1 << 51
	}
	if tlut {
		w |= 1 << 47
	}
	if zUpd {
		w |= 1 << 5
	}
	if zCmp {
		w |= 1 << 4
	}
	if zSrcPrim {
		w |= 1 << 2
	}
	return w
}

// setCombine with every slot left at 0 (=COMBINED), which validateDrawCmd
// never flags regardless of useTex/useShade.
func setCombine() uint64 { return word(0x3C, 0) }

func setTile(idx uint64, format, size, palette, tmemAddrWords uint64) uint64 {
	w := word(0x35, 0)
	w |= idx << 24
	w |= format << 53
	w |= size << 51
	w |= palette << 20
	w |= tmemAddrWords << 32
	return w
}

// setTileSize packs s0/t0/s1/t1 (already in 10.2 fixed-point units) to match
// Validate's decode: s0 from bits 44-55, t0 from bits 32-43, s1 from bits
// 12-23, t1 from bits 0-11.
func setTileSize(idx uint64, s0, t0, s1, t1 uint64) uint64 {
	w := word(0x32, 0)
	w |= idx << 24
	w |= s0 << 44
	w |= t0 << 32
	w |= s1 << 12
	w |= t1 << 0
	return w
}

func triangleShadeTexZ(tileIdx uint64) uint64 {
	w := word(0x0F, 0) // shade+tex+z
	w |= tileIdx << 48
	return w
}

func triangleBare() uint64 { return word(0x08, 0) }

// TestValidatorFlagsDrawBeforeScissorAndColorImage verifies the two
// unconditional drawing prerequisites: a SET_SCISSOR and a
// SET_COLOR_IMAGE must both precede any draw command.
func TestValidatorFlagsDrawBeforeScissorAndColorImage(t *testing.T) {
	s := New()
	s.Validate(0, []uint64{triangleBare()})

	var sawScissor, sawColorImage bool
	for _, f := range s.Findings {
		if f.Severity != Error {
			continue
		}
		switch f.Message {
		case "undefined behavior: drawing command before a SET_SCISSOR was sent":
			sawScissor = true
		case "undefined behavior: drawing command before a SET_COLOR_IMAGE was sent":
			sawColorImage = true
		}
	}
	if !sawScissor || !sawColorImage {
		t.Fatalf("missing scissor/color-image findings: %+v", s.Findings)
	}
}

// TestValidatorFlagsTexturedTriangleWithoutTileExtents verifies a textured
// triangle referencing a tile that never received LOAD_TILE/SET_TILE_SIZE
// is rejected with exactly one extents-related error.
func TestValidatorFlagsTexturedTriangleWithoutTileExtents(t *testing.T) {
	s := New()
	s.Validate(0, []uint64{setScissor()})
	s.Validate(1, []uint64{setColorImage()})
	s.Validate(2, []uint64{triangleShadeTexZ(0)})

	var extentErrors int
	for _, f := range s.Findings {
		if f.Severity == Error && f.Message == "tile 0 has no extents set, missing LOAD_TILE or SET_TILE_SIZE" {
			extentErrors++
		}
	}
	if extentErrors != 1 {
		t.Fatalf("got %d extent errors, want exactly 1: %+v", extentErrors, s.Findings)
	}
}

// TestValidatorAcceptsFullyConfiguredTexturedTriangle verifies the golden
// path (scissor, color image, other-modes with TLUT off, combine, a tile
// with extents given) produces zero findings.
func TestValidatorAcceptsFullyConfiguredTexturedTriangle(t *testing.T) {
	s := New()
	s.Validate(0, []uint64{setScissor()})
	s.Validate(1, []uint64{setColorImage()})
	s.Validate(2, []uint64{setOtherModes(0, true, false, true, true, false)})
	s.Validate(3, []uint64{setCombine()})
	s.Validate(4, []uint64{setTile(0, 0, 0, 0, 0)})
	s.Validate(5, []uint64{setTileSize(0, 0, 0, 4*8, 4*8)})
	s.Validate(6, []uint64{triangleShadeTexZ(0)})

	if len(s.Findings) != 0 {
		t.Fatalf("golden-path draw produced findings: %+v", s.Findings)
	}
}

// TestValidatorFlagsCIWithoutTLUT verifies a color-index tile used while
// TLUT mode is off is an error.
func TestValidatorFlagsCIWithoutTLUT(t *testing.T) {
	s := New()
	s.Validate(0, []uint64{setScissor()})
	s.Validate(1, []uint64{setColorImage()})
	s.Validate(2, []uint64{setOtherModes(0, false, false, false, false, false)})
	s.Validate(3, []uint64{setCombine()})
	s.Validate(4, []uint64{setTile(0, 2, 1, 0, 0)}) // format=2 (CI), size=1 (8bpp)
	s.Validate(5, []uint64{setTileSize(0, 0, 0, 8, 8)})
	s.Validate(6, []uint64{triangleShadeTexZ(0)})

	var found bool
	for _, f := range s.Findings {
		if f.Severity == Error && f.Message == "tile 0 is CI (color index), but TLUT mode was not activated" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing CI/TLUT mismatch error: %+v", s.Findings)
	}
}

// TestValidatorFlagsZSourcePrimWithoutSetPrimDepth verifies drawing with
// Z-source set to "primitive" before SET_PRIM_DEPTH is an error.
func TestValidatorFlagsZSourcePrimWithoutSetPrimDepth(t *testing.T) {
	s := New()
	s.Validate(0, []uint64{setScissor()})
	s.Validate(1, []uint64{setColorImage()})
	s.Validate(2, []uint64{setOtherModes(0, false, false, false, false, true)})
	s.Validate(3, []uint64{setCombine()})
	s.Validate(4, []uint64{triangleBare()})

	var found bool
	for _, f := range s.Findings {
		if f.Severity == Error && f.Message == "Z-source is set to primitive but SET_PRIM_DEPTH was never sent" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing Z-source-primitive error: %+v", s.Findings)
	}
}

// TestValidatorWarnsOnSetOtherModesWhilePipeBusy verifies changing pipe
// state without an intervening SYNC_PIPE is a warning, and that SYNC_PIPE
// clears the flag.
func TestValidatorWarnsOnSetOtherModesWhilePipeBusy(t *testing.T) {
	s := New()
	s.Validate(0, []uint64{setScissor()})
	s.Validate(1, []uint64{setColorImage()})
	s.Validate(2, []uint64{setOtherModes(0, false, false, false, false, false)})
	s.Validate(3, []uint64{setCombine()})
	s.Validate(4, []uint64{triangleBare()}) // marks busyPipe
	s.Validate(5, []uint64{setOtherModes(0, false, false, false, false, false)})

	var found bool
	for _, f := range s.Findings {
		if f.Severity == Warning && f.Message == "pipe might be busy, SYNC_PIPE is missing" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing pipe-busy warning: %+v", s.Findings)
	}

	before := len(s.Findings)
	s.Validate(6, []uint64{word(0x27, 0)}) // SYNC_PIPE
	s.Validate(7, []uint64{setOtherModes(0, false, false, false, false, false)})
	for _, f := range s.Findings[before:] {
		if f.Severity == Warning && f.Message == "pipe might be busy, SYNC_PIPE is missing" {
			t.Fatalf("SYNC_PIPE did not clear the busy-pipe flag")
		}
	}
}

// TestValidatorFlagsCombineUsingTexSlotOnUntexturedDraw verifies a
// non-textured triangle whose active combiner references TEX0 is an
// error: the cycle-type-aware combiner slot check catches a combiner
// reading texture data a draw never supplies.
func TestValidatorFlagsCombineUsingTexSlotOnUntexturedDraw(t *testing.T) {
	s := New()
	s.Validate(0, []uint64{setScissor()})
	s.Validate(1, []uint64{setColorImage()})
	s.Validate(2, []uint64{setOtherModes(0, false, false, false, false, false)})

	// validateDrawCmd consults s.cc[i^1] for cycle i, so 1-cycle mode (i=0)
	// reads cc[1], decoded from bits 37-40 by decodeCC.
	var combine uint64 = 0x3C << 56
	combine |= 1 << 37 // cc[1].rgbSubA = TEX0 (slot value 1)
	s.Validate(3, []uint64{combine})

	s.Validate(4, []uint64{triangleBare()}) // no tex attr bit

	var found bool
	for _, f := range s.Findings {
		if f.Severity == Error && f.Message == "cannot draw a non-textured primitive with a color combiner using the TEX0 slot" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing TEX0-on-untextured-draw error: %+v", s.Findings)
	}
}
