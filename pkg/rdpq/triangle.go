package rdpq

import "math"

// Vertex is one corner of a triangle passed to Queue.Triangle. Unlike the
// original library, which walks an arbitrary vertex struct through
// caller-supplied byte offsets, Vertex fixes the attribute layout: a Go
// caller has no use for the offset indirection, since there is no shared
// C struct being reinterpreted across draw calls with different formats.
type Vertex struct {
	X, Y, Z    float32
	R, G, B, A float32
	S, T, W    float32
}

// flt32Min mirrors C's FLT_MIN: the smallest positive *normalized* float32,
// used by the coefficient computer to decide when a divisor is effectively
// zero. math.SmallestNonzeroFloat32 is the smallest denormal instead, which
// would change which near-degenerate triangles get a zero slope.
const flt32Min float32 = 1.1754943508222875e-38

func absf32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

func floorf32(x float32) float32 {
	return float32(math.Floor(float64(x)))
}

func f2s1616(x float32) int32 {
	return FloatToS16_16(float64(x))
}

// pack32 combines two 32-bit command args into one 64-bit word, high arg
// first, matching the RDP's big-endian word pairing.
func pack32(hi, lo int32) uint64 {
	return uint64(uint32(hi))<<32 | uint64(uint32(lo))
}

func carg(value, mask uint32, shift uint) uint32 {
	return (value & mask) << shift
}

// edgeData carries the per-triangle quantities the shade, texture, and
// Z coefficient passes all derive from: the two edge vectors from vertex 1,
// the face normal's reciprocal (attrFactor), the major edge's inverse
// slope (ish), and the Y subpixel fraction (fy). Grounded on
// rdpq_tri_edge_data_t.
type edgeData struct {
	hx, hy, mx, my float32
	fy, ish        float32
	attrFactor     float32
}

// writeEdgeCoeffs computes the triangle's edge-walker header: the three
// vertices' quantized Y coordinates and left/right flag, then the major,
// middle and low edge X positions and inverse slopes in s16.16. Returns the
// populated edgeData (consumed by the shade/tex/Z passes) and the header's
// 4 command words.
func writeEdgeCoeffs(tile, level uint8, v1, v2, v3 Vertex) (edgeData, [4]uint64) {
	x1, x2 := v1.X, v2.X
	y1 := floorf32(v1.Y*4) / 4
	y2 := floorf32(v2.Y*4) / 4
	y3 := floorf32(v3.Y*4) / 4

	y1f := truncateS11_2(int32(floorf32(v1.Y * 4)))
	y2f := truncateS11_2(int32(floorf32(v2.Y * 4)))
	y3f := truncateS11_2(int32(floorf32(v3.Y * 4)))

	var d edgeData
	d.hx = v3.X - x1
	d.hy = y3 - y1
	d.mx = x2 - x1
	d.my = y2 - y1
	lx := v3.X - x2
	ly := y3 - y2

	nz := d.hx*d.my - d.hy*d.mx
	if absf32(nz) > flt32Min {
		d.attrFactor = -1.0 / nz
	}
	var lft uint32
	if nz < 0 {
		lft = 1
	}

	if absf32(d.hy) > flt32Min {
		d.ish = d.hx / d.hy
	}
	var ism float32
	if absf32(d.my) > flt32Min {
		ism = d.mx / d.my
	}
	var isl float32
	if absf32(ly) > flt32Min {
		isl = lx / ly
	}
	d.fy = floorf32(y1) - y1

	xh := x1 + d.fy*d.ish
	xm := x1 + d.fy*ism
	xl := x2

	arg1 := carg(lft, 0x1, 23) | carg(uint32(level), 0x7, 19) | carg(uint32(tile), 0x7, 16) | carg(uint32(y3f), 0x3FFF, 0)
	arg2 := carg(uint32(y2f), 0x3FFF, 16) | carg(uint32(y1f), 0x3FFF, 0)

	var words [4]uint64
	words[0] = pack32(int32(arg1), int32(arg2))
	words[1] = pack32(f2s1616(xl), f2s1616(isl))
	words[2] = pack32(f2s1616(xh), f2s1616(d.ish))
	words[3] = pack32(f2s1616(xm), f2s1616(ism))
	return d, words
}

// writeShadeCoeffs computes per-channel color gradients across the
// triangle and packs them into the 8-word shade block: current RGBA
// followed by the DxDx, DxDe, and DxDy slopes for each channel, each pair
// of channels sharing a 64-bit word the way the hardware interleaves them.
//
// The corresponding C source packs the last word's low half with `&&`
// instead of `&` (a boolean-vs-bitwise typo on DaDy/DgDy); this is almost
// certainly a bug, not an intentional format, so it is not reproduced here.
func writeShadeCoeffs(d edgeData, v1, v2, v3 Vertex) [8]uint64 {
	mr, mg, mb, ma := v2.R-v1.R, v2.G-v1.G, v2.B-v1.B, v2.A-v1.A
	hr, hg, hb, ha := v3.R-v1.R, v3.G-v1.G, v3.B-v1.B, v3.A-v1.A

	nxR := d.hy*mr - d.my*hr
	nxG := d.hy*mg - d.my*hg
	nxB := d.hy*mb - d.my*hb
	nxA := d.hy*ma - d.my*ha
	nyR := d.mx*hr - d.hx*mr
	nyG := d.mx*hg - d.hx*mg
	nyB := d.mx*hb - d.hx*mb
	nyA := d.mx*ha - d.hx*ma

	DrDx, DgDx, DbDx, DaDx := nxR*d.attrFactor, nxG*d.attrFactor, nxB*d.attrFactor, nxA*d.attrFactor
	DrDy, DgDy, DbDy, DaDy := nyR*d.attrFactor, nyG*d.attrFactor, nyB*d.attrFactor, nyA*d.attrFactor

	DrDe := DrDy + DrDx*d.ish
	DgDe := DgDy + DgDx*d.ish
	DbDe := DbDy + DbDx*d.ish
	DaDe := DaDy + DaDx*d.ish

	finalR := f2s1616(v1.R + d.fy*DrDe)
	finalG := f2s1616(v1.G + d.fy*DgDe)
	finalB := f2s1616(v1.B + d.fy*DbDe)
	finalA := f2s1616(v1.A + d.fy*DaDe)

	DrDxF, DgDxF, DbDxF, DaDxF := f2s1616(DrDx), f2s1616(DgDx), f2s1616(DbDx), f2s1616(DaDx)
	DrDeF, DgDeF, DbDeF, DaDeF := f2s1616(DrDe), f2s1616(DgDe), f2s1616(DbDe), f2s1616(DaDe)
	DrDyF, DgDyF, DbDyF, DaDyF := f2s1616(DrDy), f2s1616(DgDy), f2s1616(DbDy), f2s1616(DaDy)

	hiLo := func(hi, loHigh16 int32) int32 {
		return (hi & ^0xffff) | (int32(uint32(loHigh16)>>16) & 0xffff)
	}
	loHiLo := func(hi, lo int32) int32 {
		return (hi << 16) | (lo & 0xffff)
	}

	var w [8]uint64
	w[0] = pack32(hiLo(finalR, finalG), hiLo(finalB, finalA))
	w[1] = pack32(hiLo(DrDxF, DgDxF), hiLo(DbDxF, DaDxF))
	w[2] = pack32(loHiLo(finalR, finalG), loHiLo(finalB, finalA))
	w[3] = pack32(loHiLo(DrDxF, DgDxF), loHiLo(DbDxF, DaDxF))
	w[4] = pack32(hiLo(DrDeF, DgDeF), hiLo(DbDeF, DaDeF))
	w[5] = pack32(hiLo(DrDyF, DgDyF), hiLo(DbDyF, DaDyF))
	w[6] = pack32(loHiLo(DrDeF, DgDeF), loHiLo(DbDeF, DaDeF))
	w[7] = pack32(loHiLo(DrDyF, DgDyF), loHiLo(DbDyF, DaDyF))
	return w
}

// writeTexCoeffs computes perspective-corrected texture coordinate
// gradients. W is normalized against the triangle's largest W before the
// divide so that 1/w stays in a well-conditioned range, then rescaled by
// 0x7FFF to match the hardware's fixed-point perspective divider.
func writeTexCoeffs(d edgeData, v1, v2, v3 Vertex) [8]uint64 {
	s1, t1, w1 := v1.S, v1.T, v1.W
	s2, t2, w2 := v2.S, v2.T, v2.W
	s3, t3, w3 := v3.S, v3.T, v3.W

	wFactor := float32(1.0) / maxf32(maxf32(w1, w2), w3)
	w1 *= wFactor
	w2 *= wFactor
	w3 *= wFactor

	s1 *= w1
	t1 *= w1
	s2 *= w2
	t2 *= w2
	s3 *= w3
	t3 *= w3

	w1 *= 0x7FFF
	w2 *= 0x7FFF
	w3 *= 0x7FFF

	ms, mt, mw := s2-s1, t2-t1, w2-w1
	hs, ht, hw := s3-s1, t3-t1, w3-w1

	nxS := d.hy*ms - d.my*hs
	nxT := d.hy*mt - d.my*ht
	nxW := d.hy*mw - d.my*hw
	nyS := d.mx*hs - d.hx*ms
	nyT := d.mx*ht - d.hx*mt
	nyW := d.mx*hw - d.hx*mw

	DsDx, DtDx, DwDx := nxS*d.attrFactor, nxT*d.attrFactor, nxW*d.attrFactor
	DsDy, DtDy, DwDy := nyS*d.attrFactor, nyT*d.attrFactor, nyW*d.attrFactor

	DsDe := DsDy + DsDx*d.ish
	DtDe := DtDy + DtDx*d.ish
	DwDe := DwDy + DwDx*d.ish

	finalS := f2s1616(s1 + d.fy*DsDe)
	finalT := f2s1616(t1 + d.fy*DtDe)
	finalW := f2s1616(w1 + d.fy*DwDe)

	DsDxF, DtDxF, DwDxF := f2s1616(DsDx), f2s1616(DtDx), f2s1616(DwDx)
	DsDeF, DtDeF, DwDeF := f2s1616(DsDe), f2s1616(DtDe), f2s1616(DwDe)
	DsDyF, DtDyF, DwDyF := f2s1616(DsDy), f2s1616(DtDy), f2s1616(DwDy)

	hiLo := func(hi, loHigh16 int32) int32 {
		return (hi & ^0xffff) | (int32(uint32(loHigh16)>>16) & 0xffff)
	}
	hiOnly := func(hi int32) int32 { return hi & ^0xffff }
	loHiLo := func(hi, lo int32) int32 { return (hi << 16) | (lo & 0xffff) }
	loOnly := func(hi int32) int32 { return hi << 16 }

	var w [8]uint64
	w[0] = pack32(hiLo(finalS, finalT), hiOnly(finalW))
	w[1] = pack32(hiLo(DsDxF, DtDxF), hiOnly(DwDxF))
	w[2] = pack32(loHiLo(finalS, finalT), loOnly(finalW))
	w[3] = pack32(loHiLo(DsDxF, DtDxF), loOnly(DwDxF))
	w[4] = pack32(hiLo(DsDeF, DtDeF), hiOnly(DwDeF))
	w[5] = pack32(hiLo(DsDyF, DtDyF), hiOnly(DwDyF))
	w[6] = pack32(loHiLo(DsDeF, DtDeF), loOnly(DwDeF))
	w[7] = pack32(loHiLo(DsDyF, DtDyF), loOnly(DwDyF))
	return w
}

// writeZCoeffs computes the Z interpolation coefficients: current value
// plus its X, edge, and Y slopes, packed into 2 words.
func writeZCoeffs(d edgeData, v1, v2, v3 Vertex) [2]uint64 {
	mz := v2.Z - v1.Z
	hz := v3.Z - v1.Z

	nxz := d.hy*mz - d.my*hz
	nyz := d.mx*hz - d.hx*mz

	DzDx := nxz * d.attrFactor
	DzDy := nyz * d.attrFactor
	DzDe := DzDy + DzDx*d.ish

	finalZ := f2s1616(v1.Z + d.fy*DzDe)
	DzDxF := f2s1616(DzDx)
	DzDeF := f2s1616(DzDe)
	DzDyF := f2s1616(DzDy)

	return [2]uint64{pack32(finalZ, DzDxF), pack32(DzDeF, DzDyF)}
}

func maxf32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

// Triangle draws a filled triangle, optionally Gouraud-shaded,
// perspective-textured, and/or Z-buffered, selected independently by the
// useShade/useTex/useZ flags. Vertices are sorted internally by their Y
// quantized to 11.2 fixed point (QuantizeY), the value the edge header
// stores; callers may pass them in any winding order.
func (q *Queue) Triangle(tile, level uint8, useShade, useTex, useZ bool, v1, v2, v3 Vertex) {
	if QuantizeY(float64(v1.Y)) > QuantizeY(float64(v2.Y)) {
		v1, v2 = v2, v1
	}
	if QuantizeY(float64(v2.Y)) > QuantizeY(float64(v3.Y)) {
		v2, v3 = v3, v2
	}
	if QuantizeY(float64(v1.Y)) > QuantizeY(float64(v2.Y)) {
		v1, v2 = v2, v1
	}

	var attrBits byte
	if useZ {
		attrBits |= 0x1
	}
	if useTex {
		attrBits |= 0x2
	}
	if useShade {
		attrBits |= 0x4
	}
	op := Opcode(0x08 | attrBits)

	edge, header := writeEdgeCoeffs(tile, level, v1, v2, v3)
	words := make([]uint64, 0, CommandWords(op, attrBits))
	words = append(words, header[:]...)

	if useShade {
		shade := writeShadeCoeffs(edge, v1, v2, v3)
		words = append(words, shade[:]...)
	}
	if useTex {
		tex := writeTexCoeffs(edge, v1, v2, v3)
		words = append(words, tex[:]...)
	}
	if useZ {
		z := writeZCoeffs(edge, v1, v2, v3)
		words = append(words, z[:]...)
	}
	words[0] = opcodeWord(op, words[0])

	useMask := ResourcePipe
	if useTex {
		useMask |= ResourceTile(int(tile))
	}
	q.write(words, useMask, 0)
}
