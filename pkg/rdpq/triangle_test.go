package rdpq

import "testing"

// TestCommandWordsMatchesTriangleOutputLength verifies CommandWords agrees
// with the actual number of words Queue.Triangle hands to the writer for
// every combination of shade/tex/Z attributes.
func TestCommandWordsMatchesTriangleOutputLength(t *testing.T) {
	v1 := Vertex{X: 0, Y: 0, Z: 0.5, R: 1, G: 0, B: 0, A: 1, S: 0, T: 0, W: 1}
	v2 := Vertex{X: 10, Y: 0, Z: 0.5, R: 0, G: 1, B: 0, A: 1, S: 1, T: 0, W: 1}
	v3 := Vertex{X: 5, Y: 10, Z: 0.5, R: 0, G: 0, B: 1, A: 1, S: 0, T: 1, W: 1}

	for _, tc := range []struct{ shade, tex, z bool }{
		{false, false, false}, {true, false, false}, {false, true, false},
		{false, false, true}, {true, true, false}, {true, false, true},
		{false, true, true}, {true, true, true},
	} {
		cp := &fakeCP{}
		q := New(cp, newFakeAlloc(64))
		q.Triangle(0, 0, tc.shade, tc.tex, tc.z, v1, v2, v3)

		if len(cp.pushed) != 1 {
			t.Fatalf("shade=%v tex=%v z=%v: pushed %d commands, want 1", tc.shade, tc.tex, tc.z, len(cp.pushed))
		}
		var attrBits byte
		if tc.z {
			attrBits |= 1
		}
		if tc.tex {
			attrBits |= 2
		}
		if tc.shade {
			attrBits |= 4
		}
		want := CommandWords(Opcode(0x08|attrBits), attrBits)
		if got := len(cp.pushed[0]); got != want {
			t.Fatalf("shade=%v tex=%v z=%v: got %d words, want %d", tc.shade, tc.tex, tc.z, got, want)
		}
	}
}

// TestTriangleOpcodeEncodesAttrBits verifies the low 3 bits of the command
// opcode reflect exactly the Z/tex/shade flags passed in: the opcode's low
// 3 bits encode which attribute blocks follow.
func TestTriangleOpcodeEncodesAttrBits(t *testing.T) {
	v := Vertex{X: 0, Y: 0, Z: 0, W: 1}
	v2 := Vertex{X: 1, Y: 0, Z: 0, W: 1}
	v3 := Vertex{X: 0, Y: 1, Z: 0, W: 1}

	cp := &fakeCP{}
	q := New(cp, newFakeAlloc(64))
	q.Triangle(0, 0, true, true, true, v, v2, v3)

	op := decodeOpcode(cp.pushed[0][0])
	if op != OpTriangleShadeTexZ {
		t.Fatalf("opcode = %#x, want OpTriangleShadeTexZ (%#x)", op, OpTriangleShadeTexZ)
	}
}

// TestTriangleSortsVerticesByY verifies the edge header always reports y1 <=
// y2 <= y3 regardless of the caller's vertex order, by checking that
// swapping the caller's argument order doesn't change the emitted command
// at all.
func TestTriangleSortsVerticesByY(t *testing.T) {
	v1 := Vertex{X: 0, Y: 0, Z: 0.1, W: 1}
	v2 := Vertex{X: 10, Y: 5, Z: 0.2, W: 1}
	v3 := Vertex{X: 5, Y: 10, Z: 0.3, W: 1}

	run := func(a, b, c Vertex) []uint64 {
		cp := &fakeCP{}
		q := New(cp, newFakeAlloc(64))
		q.Triangle(0, 0, false, false, true, a, b, c)
		return cp.pushed[0]
	}

	base := run(v1, v2, v3)
	reordered := run(v3, v1, v2)

	if len(base) != len(reordered) {
		t.Fatalf("reordered input changed word count: %d vs %d", len(base), len(reordered))
	}
	for i := range base {
		if base[i] != reordered[i] {
			t.Fatalf("word %d differs after reordering vertices: %#x vs %#x", i, base[i], reordered[i])
		}
	}
}

// TestDegenerateTriangleDoesNotPanic verifies a zero-area (collinear)
// triangle, for which writeEdgeCoeffs leaves the attribute factor at zero,
// is still encoded and emitted as one command without panicking.
func TestDegenerateTriangleDoesNotPanic(t *testing.T) {
	v1 := Vertex{X: 0, Y: 0, Z: 0, R: 1, G: 1, B: 1, A: 1, W: 1}
	v2 := Vertex{X: 5, Y: 0, Z: 0, R: 1, G: 1, B: 1, A: 1, W: 1}
	v3 := Vertex{X: 10, Y: 0, Z: 0, R: 1, G: 1, B: 1, A: 1, W: 1} // collinear: all y=0

	cp := &fakeCP{}
	q := New(cp, newFakeAlloc(64))
	q.Triangle(0, 0, true, true, true, v1, v2, v3)

	if len(cp.pushed) != 1 {
		t.Fatalf("degenerate triangle did not emit a command")
	}
}

// TestTriangleUsesTileResourceOnlyWhenTextured verifies the resource mask
// only touches the tile bit when texturing is requested, so a non-textured
// triangle drawn after a SET_TILE never forces a spurious SYNC_TILE.
func TestTriangleUsesTileResourceOnlyWhenTextured(t *testing.T) {
	v1 := Vertex{X: 0, Y: 0, Z: 0, W: 1}
	v2 := Vertex{X: 1, Y: 0, Z: 0, W: 1}
	v3 := Vertex{X: 0, Y: 1, Z: 0, W: 1}

	cp := &fakeCP{}
	q := New(cp, newFakeAlloc(64))
	q.sync.use(ResourceTile(2))

	q.Triangle(2, 0, false, false, false, v1, v2, v3)
	if len(cp.pushed) != 1 {
		t.Fatalf("non-textured triangle with a dirty tile emitted an unexpected sync: %d pushes", len(cp.pushed))
	}

	fresh := New(&fakeCP{}, newFakeAlloc(64))
	fresh.Triangle(2, 0, false, false, false, v1, v2, v3)
	if fresh.sync.dirty&ResourceTile(2) != 0 {
		t.Fatalf("non-textured triangle marked tile 2 in use")
	}
	fresh.Triangle(2, 0, false, true, false, v1, v2, v3)
	if fresh.sync.dirty&ResourceTile(2) == 0 {
		t.Fatalf("textured triangle did not mark tile 2 in use")
	}
}
