// Package rdpqdebug shadows the RDP's hardware state as a command stream
// flows past, flagging the same class of undefined-behavior mistakes the
// original library's validator catches: drawing before SET_SCISSOR, missing
// SYNC_* commands, tiles used without extents, color-combiner slots that
// don't match the primitive being drawn. It also disassembles a stream back
// to readable text.
package rdpqdebug

import "fmt"

// Severity distinguishes a definite protocol violation from a suspicious
// but not-necessarily-wrong pattern (the original's VALIDATE_ERR vs
// VALIDATE_WARN).
type Severity int

const (
	Warning Severity = iota
	Error
)

func (s Severity) String() string {
	if s == Error {
		return "error"
	}
	return "warning"
}

// Finding is one validator complaint, tied to the command word offset that
// triggered it.
type Finding struct {
	Severity Severity
	Offset   int // index into the command stream, in 64-bit words
	Message  string
}

func (f Finding) String() string {
	return fmt.Sprintf("[%d] %s: %s", f.Offset, f.Severity, f.Message)
}

// tileState mirrors struct tile_s: the shadow copy of one SET_TILE
// descriptor plus whatever LOAD_TILE/SET_TILE_SIZE has told the validator
// about its extents.
type tileState struct {
	format       uint8
	size         uint8
	palette      uint8
	tmemAddr     int
	tmemPitch    int
	hasExtents   bool
	s0, t0, s1, t1 float64
}

// som mirrors setothermodes_t: the fields the validator actually consults.
type som struct {
	cycleType   uint8
	persp       bool
	tlutEnable  bool
	zCmp, zUpd  bool
	zSourcePrim bool
}

// ccCycle mirrors cc_cycle_s: one cycle's eight combiner selector slots.
type ccCycle struct {
	rgbSubA, rgbSubB, rgbMul, rgbAdd         uint8
	alphaSubA, alphaSubB, alphaMul, alphaAdd uint8
}

// State is the validator's running shadow of RDP hardware state. Feed it
// command words in order with Validate; it accumulates Findings and never
// needs rewinding, matching the original's single forward pass.
type State struct {
	busyPipe bool
	busyTile [8]bool
	busyTMEM [512]bool // one bit per 8-byte TMEM word, 4KB/8=512

	sentScissor    bool
	sentColorImage bool
	sentZPrim      bool

	som      som
	haveSOM  bool
	cc       [2]ccCycle
	haveCC   bool
	modeDirty bool

	tile [8]tileState

	Findings []Finding
}

// New returns a State with every shadow flag cleared, as if fresh off a
// SYNC_FULL.
func New() *State {
	return &State{}
}

func (s *State) errf(offset int, format string, args ...any) {
	s.Findings = append(s.Findings, Finding{Error, offset, fmt.Sprintf(format, args...)})
}

func (s *State) warnf(offset int, format string, args ...any) {
	s.Findings = append(s.Findings, Finding{Warning, offset, fmt.Sprintf(format, args...)})
}

func bits(word uint64, lo, hi int) uint64 {
	width := uint(hi - lo + 1)
	mask := uint64(1)<<width - 1
	return (word >> uint(lo)) & mask
}

func sbits(word uint64, lo, hi int) int64 {
	v := bits(word, lo, hi)
	width := uint(hi - lo + 1)
	sign := uint64(1) << (width - 1)
	if v&sign != 0 {
		v |= ^uint64(0) << width
	}
	return int64(v)
}

func bit(word uint64, b int) bool { return bits(word, b, b) != 0 }

func decodeSOM(w uint64) som {
	return som{
		cycleType:   uint8(bits(w, 52, 53)),
		persp:       bit(w, 51),
		tlutEnable:  bit(w, 47),
		zUpd:        bit(w, 5),
		zCmp:        bit(w, 4),
		zSourcePrim: bit(w, 2),
	}
}

func decodeCC(w uint64) [2]ccCycle {
	return [2]ccCycle{
		{
			rgbSubA: uint8(bits(w, 52, 55)), rgbSubB: uint8(bits(w, 28, 31)),
			rgbMul: uint8(bits(w, 47, 51)), rgbAdd: uint8(bits(w, 15, 17)),
			alphaSubA: uint8(bits(w, 44, 46)), alphaSubB: uint8(bits(w, 12, 14)),
			alphaMul: uint8(bits(w, 41, 43)), alphaAdd: uint8(bits(w, 9, 11)),
		},
		{
			rgbSubA: uint8(bits(w, 37, 40)), rgbSubB: uint8(bits(w, 24, 27)),
			rgbMul: uint8(bits(w, 32, 36)), rgbAdd: uint8(bits(w, 6, 8)),
			alphaSubA: uint8(bits(w, 21, 23)), alphaSubB: uint8(bits(w, 3, 5)),
			alphaMul: uint8(bits(w, 18, 20)), alphaAdd: uint8(bits(w, 0, 2)),
		},
	}
}

func (s *State) markBusyTMEM(addr, size int) {
	x0, x1 := addr/8, (addr+size)/8
	if x1 > len(s.busyTMEM) {
		x1 = len(s.busyTMEM)
	}
	for x := x0; x < x1; x++ {
		s.busyTMEM[x] = true
	}
}

func (s *State) isBusyTMEM(addr, size int) bool {
	x0, x1 := addr/8, (addr+size)/8
	if x1 > len(s.busyTMEM) {
		x1 = len(s.busyTMEM)
	}
	for x := x0; x < x1; x++ {
		if s.busyTMEM[x] {
			return true
		}
	}
	return false
}

// Validate feeds one command (its opcode word plus however many trailing
// words CommandLength reports) through the shadow state machine at the
// given stream offset, appending any Findings it raises.
func (s *State) Validate(offset int, words []uint64) {
	if len(words) == 0 {
		return
	}
	w0 := words[0]
	op := bits(w0, 56, 61)

	switch op {
	case 0x2D: // SET_SCISSOR
		s.sentScissor = true
	case 0x3F: // SET_COLOR_IMAGE
		s.sentColorImage = true
	case 0x2E: // SET_PRIM_DEPTH
		s.sentZPrim = true
	case 0x2F: // SET_OTHER_MODES
		if s.busyPipe {
			s.warnf(offset, "pipe might be busy, SYNC_PIPE is missing")
		}
		s.busyPipe = false
		s.som = decodeSOM(w0)
		s.haveSOM = true
		s.modeDirty = true
	case 0x3C: // SET_COMBINE
		if s.busyPipe {
			s.warnf(offset, "pipe might be busy, SYNC_PIPE is missing")
		}
		s.busyPipe = false
		s.cc = decodeCC(w0)
		s.haveCC = true
		s.modeDirty = true
	case 0x35: // SET_TILE
		tidx := bits(w0, 24, 26)
		if s.busyTile[tidx] {
			s.warnf(offset, "tile %d might be busy, SYNC_TILE is missing", tidx)
		}
		s.busyTile[tidx] = false
		t := tileState{
			format:    uint8(bits(w0, 53, 55)),
			size:      uint8(bits(w0, 51, 52)),
			palette:   uint8(bits(w0, 20, 23)),
			tmemAddr:  int(bits(w0, 32, 40)) * 8,
			tmemPitch: int(bits(w0, 41, 49)) * 8,
		}
		if t.format == 2 && t.size == 1 && t.palette != 0 {
			s.warnf(offset, "invalid non-zero palette for CI8 tile")
		}
		if (t.format == 1 || (t.format == 0 && t.size == 3)) && t.tmemAddr >= 0x800 {
			s.errf(offset, "tile format requires address in low TMEM (< 0x800)")
		}
		s.tile[tidx] = t
	case 0x32, 0x34: // SET_TILE_SIZE, LOAD_TILE
		tidx := bits(w0, 24, 26)
		if s.busyTile[tidx] {
			s.warnf(offset, "tile %d might be busy, SYNC_TILE is missing", tidx)
		}
		s.busyTile[tidx] = false
		t := &s.tile[tidx]
		t.hasExtents = true
		t.s0, t.t0 = float64(bits(w0, 44, 55))/4, float64(bits(w0, 32, 43))/4
		t.s1, t.t1 = float64(bits(w0, 12, 23))/4, float64(bits(w0, 0, 11))/4
		if op == 0x34 {
			if t.size == 0 {
				s.errf(offset, "LOAD_TILE does not support 4-bit textures")
			}
			s.markBusyTMEM(t.tmemAddr, int(t.t1-t.t0+1)*t.tmemPitch)
		}
	case 0x30: // LOAD_TLUT
		low, high := bits(w0, 44, 55), bits(w0, 12, 23)
		if low&3 != 0 || high&3 != 0 {
			s.warnf(offset, "lowest 2 bits of palette start/stop must be 0")
		}
		if low>>2 >= 256 {
			s.errf(offset, "palette start index must be < 256")
		}
		if high>>2 >= 256 {
			s.errf(offset, "palette stop index must be < 256")
		}
	case 0x24, 0x25: // TEX_RECT, TEX_RECT_FLIP
		s.validateDrawCmd(offset, false, true, false)
		s.useTile(offset, int(bits(w0, 24, 26)))
		s.busyPipe = true
	case 0x36: // FILL_RECTANGLE
		s.validateDrawCmd(offset, false, false, false)
		s.busyPipe = true
	case 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F: // triangles
		cmd := op - 0x08
		s.validateDrawCmd(offset, cmd&4 != 0, cmd&2 != 0, cmd&1 != 0)
		if cmd&2 != 0 {
			s.useTile(offset, int(bits(w0, 48, 50)))
		}
		s.busyPipe = true
	case 0x27: // SYNC_PIPE
		s.busyPipe = false
	case 0x28: // SYNC_TILE
		for i := range s.busyTile {
			s.busyTile[i] = false
		}
	case 0x26: // SYNC_LOAD
		for i := range s.busyTMEM {
			s.busyTMEM[i] = false
		}
	case 0x29: // SYNC_FULL
		s.busyPipe = false
		for i := range s.busyTile {
			s.busyTile[i] = false
		}
		for i := range s.busyTMEM {
			s.busyTMEM[i] = false
		}
	}
}

// useTile validates and marks a tile descriptor as busy for a draw
// command, mirroring use_tile.
func (s *State) useTile(offset, tidx int) {
	t := &s.tile[tidx]
	if !t.hasExtents {
		s.errf(offset, "tile %d has no extents set, missing LOAD_TILE or SET_TILE_SIZE", tidx)
		return
	}
	s.busyTile[tidx] = true
	if t.format == 2 && s.haveSOM && !s.som.tlutEnable {
		s.errf(offset, "tile %d is CI (color index), but TLUT mode was not activated", tidx)
	}
	if t.format != 2 && s.haveSOM && s.som.tlutEnable {
		s.errf(offset, "tile %d is not CI (color index), but TLUT mode is active", tidx)
	}
}

// validateDrawCmd mirrors validate_draw_cmd: the checks every drawing
// primitive (rectangle or triangle) must satisfy regardless of shape.
func (s *State) validateDrawCmd(offset int, useShade, useTex, useZ bool) {
	if !s.sentScissor {
		s.errf(offset, "undefined behavior: drawing command before a SET_SCISSOR was sent")
	}
	if !s.sentColorImage {
		s.errf(offset, "undefined behavior: drawing command before a SET_COLOR_IMAGE was sent")
	}
	if !s.haveSOM {
		return
	}
	if s.som.zSourcePrim {
		if useZ {
			s.warnf(offset, "per-vertex Z value will be ignored because Z-source is set to primitive")
		}
		if !s.sentZPrim {
			s.errf(offset, "Z-source is set to primitive but SET_PRIM_DEPTH was never sent")
		}
		useZ = true
	}
	if s.som.cycleType >= 2 {
		return // fill/copy mode: combiner not consulted
	}
	if useTex && !useZ && s.som.persp {
		s.warnf(offset, "perspective correction is enabled but the primitive carries no W coordinate (no Z/W channel); texture lookups will use unperspected S/T")
	}
	if !s.haveCC {
		s.errf(offset, "SET_COMBINE not called before drawing primitive")
		return
	}
	for i := 0; i <= int(s.som.cycleType); i++ {
		c := s.cc[i^1]
		slots := [8]uint8{c.rgbSubA, c.rgbSubB, c.rgbMul, c.rgbAdd, c.alphaSubA, c.alphaSubB, c.alphaMul, c.alphaAdd}
		if !useTex {
			for _, v := range slots {
				if v == 1 {
					s.errf(offset, "cannot draw a non-textured primitive with a color combiner using the TEX0 slot")
					break
				}
			}
		}
		if !useShade {
			for _, v := range slots {
				if v == 4 {
					s.errf(offset, "cannot draw a non-shaded primitive with a color combiner using the SHADE slot")
					break
				}
			}
		}
	}
	if !useZ && (s.som.zCmp || s.som.zUpd) {
		s.errf(offset, "cannot draw a primitive without Z coordinate if Z buffer access is activated")
	}
}
