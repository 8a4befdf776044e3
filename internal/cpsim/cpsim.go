// Package cpsim is a software model of the CP and RDP: just enough of a
// machine for the rdpq core's end-to-end tests and the preview tools to
// drive real RDP_SUBMIT/RDP_WAIT_IDLE/interrupt primitives against: an
// MMIO-style dispatch (switch on opcode, in place of a switch on address
// range) feeding a software rasterizer (scissor-clipped flat fill,
// copy-mode texture rectangles, and a flat-shaded scanline triangle fill
// driven by the edge-walker header). The depth buffer is allocated but no
// Z test or Z write is performed.
package cpsim

import (
	"math"
	"sync"

	"github.com/polypoyo/rdpq/pkg/rdpq"
)

// Machine is a single-threaded software RDP: the CP forwards every command
// straight through to the RDP model synchronously (there is no pipelining
// to simulate here; the point is observable, correct end state, not cycle
// timing), and implements every external-collaborator interface the core
// needs (CPLink, Allocator, InterruptController, StateView).
type Machine struct {
	mu sync.Mutex

	dram     []uint64 // the shared physical address space, in 8-byte words
	dramNext int       // bump allocator offset, in words
	ownsDRAM bool      // false when dram is shared with another Machine (block-replay tests)

	width, height int
	color         []uint32 // RGBA8888 framebuffer, row-major
	depth         []uint16
	tmem          [4096]byte // the RDP's texture cache, byte-addressed

	scissor  struct{ x0, y0, x1, y1 float64 }
	fill     rdpq.Color
	tiles    [8]rdpq.Tile
	modes    rdpq.OtherModes
	lastFull uint64

	syncHandler func()
}

// New creates a Machine with a dram pool of the given word capacity and a
// framebuffer of width x height pixels.
func New(dramWords int, width, height int) *Machine {
	return newMachine(make([]uint64, dramWords), true, width, height)
}

// NewSharingDRAM creates a Machine whose command memory is dram itself
// rather than a freshly allocated pool, with its own independent
// framebuffer. Two Machines built this way can replay the same recorded
// Block — built and allocated through one of them — and are expected to
// produce identical framebuffers, the block/dynamic and block-replay
// equivalence laws a correct implementation must satisfy. The sharing
// Machine must never itself be used as the block's Allocator once another
// Machine has claimed offsets in the pool.
func NewSharingDRAM(dram []uint64, width, height int) *Machine {
	return newMachine(dram, false, width, height)
}

func newMachine(dram []uint64, ownsDRAM bool, width, height int) *Machine {
	m := &Machine{
		dram:     dram,
		ownsDRAM: ownsDRAM,
		width:    width,
		height:   height,
		color:    make([]uint32, width*height),
		depth:    make([]uint16, width*height),
	}
	m.scissor.x1 = float64(width)
	m.scissor.y1 = float64(height)
	return m
}

// LoadTextureToTMEM copies data into the Machine's TMEM at byte offset addr,
// standing in for the DMA a real LOAD_TILE/LOAD_BLOCK command would perform
// — tests preload fixture textures this way rather than building a source
// image in dram and encoding a load command for it.
func (m *Machine) LoadTextureToTMEM(addr int, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.tmem[addr:], data)
}

// --- rdpq.Allocator ---

func (m *Machine) Alloc(words int) (rdpq.PhysAddr, []uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	base := m.dramNext
	if base+words > len(m.dram) {
		panic("cpsim: dram pool exhausted")
	}
	m.dramNext += words
	return rdpq.PhysAddr(base * 8), m.dram[base : base : base+words]
}

func (m *Machine) Free(base rdpq.PhysAddr, words []uint64) {
	// The bump allocator never reclaims; blocks in these tests are
	// short-lived and the pool is sized generously for the run.
}

// --- rdpq.CPLink ---

// QueuePush executes each command immediately against the RDP model,
// standing in for "the CP DMAs this to the RDP and it executes it".
func (m *Machine) QueuePush(words []uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execute(words)
}

// SubmitRDP re-executes the command words already resident in dram at
// [start, end), i.e. a block replay.
func (m *Machine) SubmitRDP(start, end uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lo, hi := start/8, end/8
	if int(hi) > len(m.dram) {
		hi = uint32(len(m.dram))
	}
	m.execute(m.dram[lo:hi])
}

// WaitRDPIdle is a no-op: execution above is already synchronous, so by the
// time QueuePush/SubmitRDP return the RDP is idle.
func (m *Machine) WaitRDPIdle() {}

// --- rdpq.InterruptController / rdpq.StateView ---

func (m *Machine) RegisterSyncFullHandler(handler func()) {
	m.syncHandler = handler
}

func (m *Machine) LastSyncFull() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastFull
}

// ColorAt returns the packed RGBA8888 pixel at (x, y), for test assertions.
func (m *Machine) ColorAt(x, y int) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.color[y*m.width+x]
}

func bits(word uint64, lo, hi int) uint64 {
	width := uint(hi - lo + 1)
	mask := uint64(1)<<width - 1
	return (word >> uint(lo)) & mask
}

func sbits(word uint64, lo, hi int) int64 {
	width := uint(hi - lo + 1)
	v := bits(word, lo, hi)
	sign := uint64(1) << (width - 1)
	if v&sign != 0 {
		v |= ^uint64(0) << width
	}
	return int64(v)
}

// execute interprets one command stream, advancing by each command's own
// word length exactly as rdpqdebug.Disassemble does.
func (m *Machine) execute(words []uint64) {
	for i := 0; i < len(words); {
		w0 := words[i]
		op := bits(w0, 56, 61)
		n := commandLength(op)
		end := i + n
		if end > len(words) {
			end = len(words)
		}
		m.execOne(op, words[i:end])
		i = end
	}
}

func commandLength(op uint64) int {
	switch {
	case op >= 0x08 && op <= 0x0F:
		extra := [8]int{0, 2, 8, 10, 8, 10, 16, 18}
		return 4 + extra[op-0x08]
	case op == 0x24 || op == 0x25:
		return 2
	default:
		return 1
	}
}

func (m *Machine) execOne(op uint64, words []uint64) {
	w0 := words[0]
	switch op {
	case 0x2D: // SET_SCISSOR
		m.scissor.x0 = float64(bits(w0, 32, 43)) / 4
		m.scissor.y0 = float64(bits(w0, 44, 55)) / 4
		m.scissor.x1 = float64(bits(w0, 12, 23)) / 4
		m.scissor.y1 = float64(bits(w0, 0, 11)) / 4
	case 0x37: // SET_FILL_COLOR
		m.fill = rdpq.Color{
			R: uint8(bits(w0, 24, 31)), G: uint8(bits(w0, 16, 23)),
			B: uint8(bits(w0, 8, 15)), A: uint8(bits(w0, 0, 7)),
		}
	case 0x2F: // SET_OTHER_MODES
		m.modes.CycleType = rdpq.CycleType(bits(w0, 52, 53))
		m.modes.ZUpdate = bits(w0, 5, 5) != 0
		m.modes.ZCompare = bits(w0, 4, 4) != 0
	case 0x36: // FILL_RECTANGLE
		x0 := float64(bits(w0, 44, 55)) / 4
		y0 := float64(bits(w0, 32, 43)) / 4
		x1 := float64(bits(w0, 12, 23)) / 4
		y1 := float64(bits(w0, 0, 11)) / 4
		m.fillRect(x0, y0, x1, y1, m.fill)
	case 0x35: // SET_TILE
		idx := bits(w0, 24, 26)
		m.tiles[idx] = rdpq.Tile{
			Format:    rdpq.ImageFormat(bits(w0, 53, 55)),
			Size:      rdpq.PixelSize(bits(w0, 51, 52)),
			LineBytes: int(bits(w0, 41, 49)) * 8,
			TMEMAddr:  int(bits(w0, 32, 40)) * 8,
			Palette:   uint8(bits(w0, 20, 23)),
		}
	case 0x24, 0x25: // TEX_RECT, TEX_RECT_FLIP
		m.texRect(words)
	case 0x29: // SYNC_FULL
		m.lastFull = w0
		if m.syncHandler != nil {
			m.syncHandler()
		}
	case 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F:
		m.rasterizeTriangle(op, words)
	}
}

func (m *Machine) clampScissor(x0, y0, x1, y1 float64) (int, int, int, int) {
	cx0 := math.Max(x0, m.scissor.x0)
	cy0 := math.Max(y0, m.scissor.y0)
	cx1 := math.Min(x1, m.scissor.x1)
	cy1 := math.Min(y1, m.scissor.y1)
	return int(math.Ceil(cx0)), int(math.Ceil(cy0)), int(math.Ceil(cx1)), int(math.Ceil(cy1))
}

func (m *Machine) fillRect(x0, y0, x1, y1 float64, c rdpq.Color) {
	ix0, iy0, ix1, iy1 := m.clampScissor(x0, y0, x1, y1)
	packed := uint32(c.R)<<24 | uint32(c.G)<<16 | uint32(c.B)<<8 | uint32(c.A)
	for y := iy0; y < iy1 && y < m.height; y++ {
		if y < 0 {
			continue
		}
		for x := ix0; x < ix1 && x < m.width; x++ {
			if x < 0 {
				continue
			}
			m.color[y*m.width+x] = packed
		}
	}
}

// readTexel16 fetches one RGBA16 (5551) texel from TMEM, reproducing the
// documented odd-row dword-swap quirk: on odd texel rows, the two 4-byte
// halves of each 8-byte TMEM word are swapped, because odd rows live in
// the other physical TMEM bank and the RDP's copy-mode fetch path reads
// both banks through the same 64-bit port. This is hardware behavior, not
// a bug to correct.
func (m *Machine) readTexel16(tile rdpq.Tile, tx, ty int) uint16 {
	byteOff := tile.TMEMAddr + ty*tile.LineBytes + tx*2
	if ty%2 == 1 {
		word := byteOff &^ 7
		local := byteOff & 7
		byteOff = word | (local ^ 4)
	}
	if byteOff < 0 || byteOff+1 >= len(m.tmem) {
		return 0
	}
	return uint16(m.tmem[byteOff])<<8 | uint16(m.tmem[byteOff+1])
}

// rgba16to32 expands a 5551 texel to RGBA8888, matching the RDP's texel
// unpack for 16-bit formats.
func rgba16to32(texel uint16) uint32 {
	r := uint8(texel>>11) & 0x1F
	g := uint8(texel>>6) & 0x1F
	b := uint8(texel>>1) & 0x1F
	a := uint8(texel) & 0x1
	expand5 := func(v uint8) uint8 { return v<<3 | v>>2 }
	aFull := uint8(0)
	if a != 0 {
		aFull = 0xFF
	}
	return uint32(expand5(r))<<24 | uint32(expand5(g))<<16 | uint32(expand5(b))<<8 | uint32(aFull)
}

// texRect draws TEX_RECT/TEX_RECT_FLIP. In CYCLE_COPY mode (the only mode
// this model samples texels for — 1cycle/2cycle shading is covered by the
// triangle coefficient computer's own unit tests, not pixel output here)
// every output pixel is a direct unfiltered texel fetch through
// readTexel16's dword-swap path.
func (m *Machine) texRect(words []uint64) {
	w0, w1 := words[0], words[1]
	tileIdx := bits(w0, 24, 26)
	x0 := float64(bits(w0, 44, 55)) / 4
	y0 := float64(bits(w0, 32, 43)) / 4
	x1 := float64(bits(w0, 12, 23)) / 4
	y1 := float64(bits(w0, 0, 11)) / 4
	s0 := float64(sbits(w1, 48, 63)) / 32
	t0 := float64(sbits(w1, 32, 47)) / 32
	// dsdx/dtdy are decoded for completeness with the real command layout;
	// this model only ever drives CYCLE_COPY fixtures at a 1:1 texel step,
	// so the per-pixel increment itself isn't walked here.
	_ = sbits(w1, 16, 31)
	_ = sbits(w1, 0, 15)

	if m.modes.CycleType != rdpq.CycleCopy {
		return
	}
	tile := m.tiles[tileIdx]
	ix0, iy0, ix1, iy1 := m.clampScissor(x0, y0, x1, y1)
	for y := iy0; y < iy1 && y < m.height; y++ {
		if y < 0 {
			continue
		}
		ty := int(t0) + (y - iy0)
		for x := ix0; x < ix1 && x < m.width; x++ {
			if x < 0 {
				continue
			}
			tx := int(s0) + (x - ix0)
			texel := m.readTexel16(tile, tx, ty)
			m.color[y*m.width+x] = rgba16to32(texel)
		}
	}
}

// rasterizeTriangle decodes the edge header (the same fields
// pkg/rdpq/triangle.go packs) and scanline-fills using the hardware's
// left/right edge slopes, flat-shading with the fill color since this
// model doesn't carry the shade/tex coefficient words through to pixel
// color — those are exercised and verified by the triangle coefficient
// computer's own unit tests instead.
func (m *Machine) rasterizeTriangle(op uint64, words []uint64) {
	w0 := words[0]
	lft := bits(w0, 55, 55) != 0
	y3 := float64(sbits(w0, 32, 45)) / 4
	y2 := float64(sbits(w0, 16, 29)) / 4
	y1 := float64(sbits(w0, 0, 13)) / 4

	xl := float64(sbits(words[1], 32, 63)) / 65536
	isl := float64(sbits(words[1], 0, 31)) / 65536
	xh := float64(sbits(words[2], 32, 63)) / 65536
	ish := float64(sbits(words[2], 0, 31)) / 65536
	xm := float64(sbits(words[3], 32, 63)) / 65536
	ism := float64(sbits(words[3], 0, 31)) / 65536

	iy0, iy1 := int(math.Ceil(y1)), int(math.Ceil(y3))
	iy0 = max(iy0, int(math.Ceil(m.scissor.y0)))
	iy1 = min(iy1, int(math.Ceil(m.scissor.y1)))

	packed := uint32(m.fill.R)<<24 | uint32(m.fill.G)<<16 | uint32(m.fill.B)<<8 | uint32(m.fill.A)
	for y := iy0; y < iy1 && y < m.height; y++ {
		if y < 0 {
			continue
		}
		// xh/ish is the major edge spanning the whole triangle; xm/xl
		// switch at the middle vertex's scanline, matching the hardware
		// edge walker's two-segment minor edge.
		major := xh + ish*(float64(y)-y1)
		var minor float64
		if y < int(math.Ceil(y2)) {
			minor = xm + ism*(float64(y)-y1)
		} else {
			minor = xl + isl*(float64(y)-y2)
		}
		left, right := minor, major
		if lft {
			left, right = major, minor
		}
		ix0 := int(math.Ceil(math.Max(left, m.scissor.x0)))
		ix1 := int(math.Ceil(math.Min(right, m.scissor.x1)))
		for x := ix0; x < ix1 && x < m.width; x++ {
			if x < 0 {
				continue
			}
			m.color[y*m.width+x] = packed
		}
	}
	_ = op
}
