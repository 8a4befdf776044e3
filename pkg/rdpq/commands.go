package rdpq

// Color is a packed RGBA32 color, one byte per channel, matching the RDP's
// SET_FILL_COLOR/FOG_COLOR/BLEND_COLOR/PRIM_COLOR/ENV_COLOR argument layout.
type Color struct {
	R, G, B, A uint8
}

func (c Color) pack32() uint32 {
	return uint32(c.R)<<24 | uint32(c.G)<<16 | uint32(c.B)<<8 | uint32(c.A)
}

// Rect is a rectangle in screen coordinates, used by SetScissor,
// FillRectangle and TexRect. X1/Y1 are exclusive, matching the hardware's
// convention of a half-open span.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

// SetScissor restricts all subsequent drawing to rect, in 10.2 fixed point.
// The scissor rectangle is pipe state, so SetScissor changes ResourcePipe:
// if an earlier draw left the pipe dirty, a SYNC_PIPE is emitted first.
func (q *Queue) SetScissor(rect Rect) {
	word := opcodeWord(OpSetScissor, 0)
	word = EncodeField(word, 32, 43, uint64(FloatToFixed(rect.X0, 2)))
	word = EncodeField(word, 44, 55, uint64(FloatToFixed(rect.Y0, 2)))
	word = EncodeField(word, 12, 23, uint64(FloatToFixed(rect.X1, 2)))
	word = EncodeField(word, 0, 11, uint64(FloatToFixed(rect.Y1, 2)))
	q.write([]uint64{word}, 0, ResourcePipe)
}

// SetFillColor sets the constant color FILL_RECTANGLE draws with in fill
// mode. It only changes pipe state; a draw that reads the old color first
// is what forces the sync, not this command itself.
func (q *Queue) SetFillColor(c Color) {
	word := opcodeWord(OpSetFillColor, uint64(c.pack32()))
	q.write([]uint64{word}, 0, ResourcePipe)
}

func (q *Queue) setConstColor(op Opcode, c Color) {
	word := opcodeWord(op, uint64(c.pack32()))
	q.write([]uint64{word}, 0, ResourcePipe)
}

func (q *Queue) SetFogColor(c Color)   { q.setConstColor(OpSetFogColor, c) }
func (q *Queue) SetBlendColor(c Color) { q.setConstColor(OpSetBlendColor, c) }
func (q *Queue) SetPrimColor(c Color)  { q.setConstColor(OpSetPrimColor, c) }
func (q *Queue) SetEnvColor(c Color)   { q.setConstColor(OpSetEnvColor, c) }

// SetPrimDepth sets the constant Z/deltaZ pair used when the SOM's
// z.prim flag selects the primitive depth over the interpolated one.
func (q *Queue) SetPrimDepth(z uint16, deltaZ int16) {
	word := opcodeWord(OpSetPrimDepth, 0)
	word = EncodeField(word, 16, 31, uint64(z))
	word = EncodeField(word, 0, 15, uint64(uint16(deltaZ)))
	q.write([]uint64{word}, 0, ResourcePipe)
}

// FillRectangle draws a solid rectangle in the current fill color (SOM
// cycle type FILL) or blend/combiner output (other cycle types).
func (q *Queue) FillRectangle(rect Rect) {
	word := opcodeWord(OpFillRectangle, 0)
	word = EncodeField(word, 12, 23, uint64(FloatToFixed(rect.X1, 2)))
	word = EncodeField(word, 0, 11, uint64(FloatToFixed(rect.Y1, 2)))
	word = EncodeField(word, 44, 55, uint64(FloatToFixed(rect.X0, 2)))
	word = EncodeField(word, 32, 43, uint64(FloatToFixed(rect.Y0, 2)))
	q.write([]uint64{word}, ResourcePipe, 0)
}

// TexRect draws a textured rectangle sampled from tile, with the given
// texture-space origin and per-pixel S/T increment. flip transposes the
// increments between X and Y, matching TEX_RECT_FLIP.
func (q *Queue) TexRect(tile uint8, rect Rect, s, t, dsdx, dtdy float64, flip bool) {
	op := OpTexRect
	if flip {
		op = OpTexRectFlip
	}
	w0 := opcodeWord(op, 0)
	w0 = EncodeField(w0, 24, 26, uint64(tile))
	w0 = EncodeField(w0, 12, 23, uint64(FloatToFixed(rect.X1, 2)))
	w0 = EncodeField(w0, 0, 11, uint64(FloatToFixed(rect.Y1, 2)))
	w0 = EncodeField(w0, 44, 55, uint64(FloatToFixed(rect.X0, 2)))
	w0 = EncodeField(w0, 32, 43, uint64(FloatToFixed(rect.Y0, 2)))

	var w1 uint64
	w1 = EncodeField(w1, 48, 63, uint64(uint16(FloatToFixed(s, 5))))
	w1 = EncodeField(w1, 32, 47, uint64(uint16(FloatToFixed(t, 5))))
	w1 = EncodeField(w1, 16, 31, uint64(uint16(FloatToFixed(dsdx, 10))))
	w1 = EncodeField(w1, 0, 15, uint64(uint16(FloatToFixed(dtdy, 10))))

	q.write([]uint64{w0, w1}, ResourcePipe|ResourceTile(int(tile))|ResourceTMEM(0), 0)
}

// ImageFormat is the RDP's 3-bit pixel format selector.
type ImageFormat uint8

const (
	FormatRGBA ImageFormat = 0
	FormatYUV  ImageFormat = 1
	FormatCI   ImageFormat = 2
	FormatIA   ImageFormat = 3
	FormatI    ImageFormat = 4
)

// PixelSize is the RDP's 2-bit per-pixel bit depth selector.
type PixelSize uint8

const (
	Size4Bit  PixelSize = 0
	Size8Bit  PixelSize = 1
	Size16Bit PixelSize = 2
	Size32Bit PixelSize = 3
)

// SetColorImage points the RDP's render target at a framebuffer in DRAM.
// widthPx is the image's width in pixels; stride is implied by width and
// size on real hardware, so the two must agree with what the caller
// allocated.
func (q *Queue) SetColorImage(dram PhysAddr, fmt ImageFormat, size PixelSize, widthPx int) {
	word := opcodeWord(OpSetColorImage, 0)
	word = EncodeField(word, 0, 25, uint64(dram))
	word = EncodeField(word, 32, 41, uint64(widthPx-1))
	word = EncodeField(word, 51, 52, uint64(size))
	word = EncodeField(word, 53, 55, uint64(fmt))
	q.write([]uint64{word}, 0, ResourcePipe)
}

// SetZImage points the RDP's Z buffer at a 16-bit depth surface in DRAM.
func (q *Queue) SetZImage(dram PhysAddr) {
	word := opcodeWord(OpSetZImage, 0)
	word = EncodeField(word, 0, 25, uint64(dram))
	q.write([]uint64{word}, 0, ResourcePipe)
}

// SetTexImage points the sampler's source image at a texture in DRAM, to be
// loaded into TMEM with LoadTile/LoadBlock/LoadTLUT.
func (q *Queue) SetTexImage(dram PhysAddr, fmt ImageFormat, size PixelSize, widthPx int) {
	word := opcodeWord(OpSetTexImage, 0)
	word = EncodeField(word, 0, 25, uint64(dram))
	word = EncodeField(word, 32, 41, uint64(widthPx-1))
	word = EncodeField(word, 51, 52, uint64(size))
	word = EncodeField(word, 53, 55, uint64(fmt))
	q.write([]uint64{word}, 0, ResourcePipe)
}

// TileWrap selects how a tile samples outside its extents: clamp, or
// mirror/wrap with the given power-of-two mask.
type TileWrap struct {
	Mirror bool
	Mask   uint8 // 0 disables wrapping for this axis
	Shift  uint8
}

// Tile describes one of the RDP's 8 tile descriptors (SET_TILE).
type Tile struct {
	Format    ImageFormat
	Size      PixelSize
	LineBytes int // TMEM pitch in bytes, must be a multiple of 8
	TMEMAddr  int // TMEM byte offset, must be a multiple of 8
	Palette   uint8
	WrapS     TileWrap
	WrapT     TileWrap
}

// SetTile installs a tile descriptor. Tile indices 0-7 are addressable;
// RDPQ_TILE_INTERNAL (7) is reserved by convention for rectangle draws.
func (q *Queue) SetTile(idx uint8, t Tile) {
	word := opcodeWord(OpSetTile, 0)
	word = EncodeField(word, 53, 55, uint64(t.Format))
	word = EncodeField(word, 51, 52, uint64(t.Size))
	word = EncodeField(word, 41, 49, uint64(t.LineBytes/8))
	word = EncodeField(word, 32, 40, uint64(t.TMEMAddr/8))
	word = EncodeField(word, 24, 26, uint64(idx))
	word = EncodeField(word, 20, 23, uint64(t.Palette))
	word = EncodeField(word, 10, 13, uint64(t.WrapT.Shift))
	word = EncodeField(word, 14, 17, uint64(t.WrapT.Mask))
	word = EncodeField(word, 19, 19, boolBit(t.WrapT.Mirror))
	word = EncodeField(word, 0, 3, uint64(t.WrapS.Shift))
	word = EncodeField(word, 4, 7, uint64(t.WrapS.Mask))
	word = EncodeField(word, 8, 8, boolBit(t.WrapS.Mirror))
	q.write([]uint64{word}, ResourceTile(int(idx)), ResourceTile(int(idx)))
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// SetTileSize sets a tile's addressable extents in texel coordinates
// (10.2 fixed point), without touching TMEM.
func (q *Queue) SetTileSize(idx uint8, s0, t0, s1, t1 float64) {
	word := opcodeWord(OpSetTileSize, 0)
	word = EncodeField(word, 24, 26, uint64(idx))
	word = EncodeField(word, 44, 55, uint64(FloatToFixed(s0, 2)))
	word = EncodeField(word, 32, 43, uint64(FloatToFixed(t0, 2)))
	word = EncodeField(word, 12, 23, uint64(FloatToFixed(s1, 2)))
	word = EncodeField(word, 0, 11, uint64(FloatToFixed(t1, 2)))
	q.write([]uint64{word}, ResourceTile(int(idx)), ResourceTile(int(idx)))
}

// LoadTile DMAs a rectangular region of the current SET_TEX_IMAGE source
// into the tile's TMEM address, and sets the tile's extents to match.
func (q *Queue) LoadTile(idx uint8, s0, t0, s1, t1 float64) {
	word := opcodeWord(OpLoadTile, 0)
	word = EncodeField(word, 24, 26, uint64(idx))
	word = EncodeField(word, 44, 55, uint64(FloatToFixed(s0, 2)))
	word = EncodeField(word, 32, 43, uint64(FloatToFixed(t0, 2)))
	word = EncodeField(word, 12, 23, uint64(FloatToFixed(s1, 2)))
	word = EncodeField(word, 0, 11, uint64(FloatToFixed(t1, 2)))
	q.write([]uint64{word}, ResourceTile(int(idx))|ResourceTMEM(0)|ResourceTMEM(1), ResourceTMEM(0)|ResourceTMEM(1))
}

// LoadBlock DMAs texelCount texels as a single contiguous TMEM block
// starting at (s,t) in the current source image, using dxt (the 1.11
// fixed-point per-row TMEM pointer increment) to step between rows without
// a second dimension.
func (q *Queue) LoadBlock(idx uint8, s, t float64, texelCount int, dxt float64) {
	word := opcodeWord(OpLoadBlock, 0)
	word = EncodeField(word, 24, 26, uint64(idx))
	word = EncodeField(word, 44, 55, uint64(FloatToFixed(s, 2)))
	word = EncodeField(word, 32, 43, uint64(FloatToFixed(t, 2)))
	word = EncodeField(word, 12, 23, uint64(texelCount-1))
	word = EncodeField(word, 0, 11, uint64(FloatToFixed(dxt, 11)))
	q.write([]uint64{word}, ResourceTile(int(idx))|ResourceTMEM(0)|ResourceTMEM(1), ResourceTMEM(0)|ResourceTMEM(1))
}

// LoadTLUT loads palIdxLow..palIdxHigh (each a multiple of 4) of a 256-entry
// palette from the tile's TMEM address. The source image must be RGBA16.
func (q *Queue) LoadTLUT(idx uint8, palIdxLow, palIdxHigh int) {
	word := opcodeWord(OpLoadTLUT, 0)
	word = EncodeField(word, 24, 26, uint64(idx))
	word = EncodeField(word, 44, 55, uint64(palIdxLow))
	word = EncodeField(word, 12, 23, uint64(palIdxHigh))
	q.write([]uint64{word}, ResourceTMEM(1), ResourceTMEM(1))
}

// CycleType selects the RDP's pixel pipeline mode.
type CycleType uint8

const (
	Cycle1 CycleType = 0
	Cycle2 CycleType = 1
	CycleCopy CycleType = 2
	CycleFill CycleType = 3
)

// OtherModes mirrors setothermodes_t: the subset of SET_OTHER_MODES fields
// a command-queue client actually toggles. Bit layout follows decode_som.
type OtherModes struct {
	CycleType CycleType
	Persp     bool
	BilinearTex bool
	ZUpdate   bool
	ZCompare  bool
	ZSourcePrim bool
	AlphaCompare bool
	Blend     bool
	ReadMem   bool
	AntiAlias bool
}

// SetOtherModes replaces the render-mode state wholesale. The original
// library threads an extra RSP-side scissor recompute through this command
// when recording inside a block (SET_OTHER_MODES_FIX); that trick depends
// on the CP's ucode actually running at replay time; since the CP is an
// external collaborator here (CPLink), Queue emits the plain static
// command in both modes and leaves scissor re-validation to the caller.
func (q *Queue) SetOtherModes(m OtherModes) {
	var word uint64
	word = EncodeField(word, 52, 53, uint64(m.CycleType))
	if m.Persp {
		word = EncodeField(word, 51, 51, 1)
	}
	if m.BilinearTex {
		word = EncodeField(word, 44, 45, 2)
	}
	if m.ZUpdate {
		word = EncodeField(word, 5, 5, 1)
	}
	if m.ZCompare {
		word = EncodeField(word, 4, 4, 1)
	}
	if m.ZSourcePrim {
		word = EncodeField(word, 2, 2, 1)
	}
	if m.AlphaCompare {
		word = EncodeField(word, 0, 0, 1)
	}
	if m.Blend {
		word = EncodeField(word, 14, 14, 1)
	}
	if m.ReadMem {
		word = EncodeField(word, 6, 6, 1)
	}
	if m.AntiAlias {
		word = EncodeField(word, 3, 3, 1)
	}
	q.writeFixup([]uint64{opcodeWord(OpSetOtherModes, word)}, 0, ResourcePipe)
}

// CombineCycle is one cycle of the color combiner: RGB = (A-B)*C+D,
// Alpha = (a-b)*c+d, each slot an index into the hardware's fixed selector
// tables (decode_cc's rgb_suba/subb/mul/add).
type CombineCycle struct {
	RGBA, RGBB, RGBC, RGBD         uint8
	AlphaA, AlphaB, AlphaC, AlphaD uint8
}

// SetCombine installs the two-cycle color combiner configuration.
func (q *Queue) SetCombine(cyc0, cyc1 CombineCycle) {
	var word uint64
	word = EncodeField(word, 52, 55, uint64(cyc0.RGBA))
	word = EncodeField(word, 47, 51, uint64(cyc0.RGBC))
	word = EncodeField(word, 44, 46, uint64(cyc0.AlphaA))
	word = EncodeField(word, 41, 43, uint64(cyc0.AlphaC))
	word = EncodeField(word, 37, 40, uint64(cyc1.RGBA))
	word = EncodeField(word, 32, 36, uint64(cyc1.RGBC))
	word = EncodeField(word, 28, 31, uint64(cyc0.RGBB))
	word = EncodeField(word, 24, 27, uint64(cyc1.RGBB))
	word = EncodeField(word, 21, 23, uint64(cyc1.AlphaA))
	word = EncodeField(word, 18, 20, uint64(cyc1.AlphaC))
	word = EncodeField(word, 15, 17, uint64(cyc0.RGBD))
	word = EncodeField(word, 12, 14, uint64(cyc0.AlphaB))
	word = EncodeField(word, 9, 11, uint64(cyc0.AlphaD))
	word = EncodeField(word, 6, 8, uint64(cyc1.RGBD))
	word = EncodeField(word, 3, 5, uint64(cyc1.AlphaB))
	word = EncodeField(word, 0, 2, uint64(cyc1.AlphaD))
	q.write([]uint64{opcodeWord(OpSetCombine, word)}, 0, ResourcePipe)
}

// debugSubOp distinguishes the two DEBUG sub-commands in bits 48-55 of the
// opcode word, matching RDPQ_CMD_DEBUG_SHOWLOG/RDPQ_CMD_DEBUG_MESSAGE.
const (
	debugSubShowLog uint64 = 0x01
	debugSubMessage uint64 = 0x02
)

// ShowLog toggles whether the RDP-side debug interpreter echoes every
// command it executes to its log, the DEBUG/RDPQ_SHOWLOG passthrough
// opcode. It touches no tracked resource, so it never needs a sync.
func (q *Queue) ShowLog(enable bool) {
	word := EncodeField(0, 48, 55, debugSubShowLog)
	word = EncodeField(word, 0, 0, boolBit(enable))
	q.write([]uint64{opcodeWord(OpDebug, word)}, 0, 0)
}

// Message emits a DEBUG/RDPQ_MESSAGE passthrough: addr must point to a
// NUL-terminated string already resident in the memory the CP and RDP
// share, since this core never owns or DMAs arbitrary string data itself
// — that's the allocator's job, same as any other block buffer.
func (q *Queue) Message(addr PhysAddr) {
	word := EncodeField(0, 48, 55, debugSubMessage)
	word = EncodeField(word, 0, 24, uint64(addr))
	q.write([]uint64{opcodeWord(OpDebug, word)}, 0, 0)
}
