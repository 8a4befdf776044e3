package rdpqdebug

import "fmt"

// DisassembledLine is one decoded RDP command, in the same shape the
// teacher's CPU disassemblers return: address, raw hex, and a formatted
// mnemonic, sized in 64-bit command words rather than bytes.
type DisassembledLine struct {
	Offset   int // command word index
	Words    []uint64
	Mnemonic string
}

var opcodeNames = map[uint64]string{
	0x08: "TRI", 0x09: "TRI_Z", 0x0A: "TRI_TEX", 0x0B: "TRI_TEX_Z",
	0x0C: "TRI_SHADE", 0x0D: "TRI_SHADE_Z", 0x0E: "TRI_TEX_SHADE", 0x0F: "TRI_TEX_SHADE_Z",
	0x24: "TEX_RECT", 0x25: "TEX_RECT_FLIP",
	0x26: "SYNC_LOAD", 0x27: "SYNC_PIPE", 0x28: "SYNC_TILE", 0x29: "SYNC_FULL",
	0x2A: "SET_KEY_GB", 0x2B: "SET_KEY_R", 0x2C: "SET_CONVERT",
	0x2D: "SET_SCISSOR", 0x2E: "SET_PRIM_DEPTH", 0x2F: "SET_OTHER_MODES",
	0x30: "LOAD_TLUT", 0x31: "DEBUG", 0x32: "SET_TILE_SIZE", 0x33: "LOAD_BLOCK",
	0x34: "LOAD_TILE", 0x35: "SET_TILE", 0x36: "FILL_RECTANGLE",
	0x37: "SET_FILL_COLOR", 0x38: "SET_FOG_COLOR", 0x39: "SET_BLEND_COLOR",
	0x3A: "SET_PRIM_COLOR", 0x3B: "SET_ENV_COLOR", 0x3C: "SET_COMBINE",
	0x3D: "SET_TEX_IMAGE", 0x3E: "SET_Z_IMAGE", 0x3F: "SET_COLOR_IMAGE",
}

// CommandLength returns how many 64-bit words, including the opcode word,
// the command starting at word belongs to.
func CommandLength(word uint64) int {
	op := bits(word, 56, 61)
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

const fx2 = 1.0 / 4
const fx5 = 1.0 / 32
const fx10 = 1.0 / 1024
const fx11 = 1.0 / 2048
const fx16 = 1.0 / 65536

// Disassemble decodes a full command stream into one DisassembledLine per
// command, advancing by each command's own length.
func Disassemble(words []uint64) []DisassembledLine {
	var lines []DisassembledLine
	for i := 0; i < len(words); {
		n := CommandLength(words[i])
		end := i + n
		if end > len(words) {
			end = len(words)
		}
		lines = append(lines, DisassembledLine{
			Offset:   i,
			Words:    words[i:end],
			Mnemonic: disassembleOne(words[i:end]),
		})
		i = end
	}
	return lines
}

func disassembleOne(words []uint64) string {
	w0 := words[0]
	op := bits(w0, 56, 61)
	name, ok := opcodeNames[op]
	if !ok {
		return fmt.Sprintf("??? (0x%02x)", op)
	}

	switch op {
	case 0x2D: // SET_SCISSOR
		return fmt.Sprintf("%-16s xy=(%.2f,%.2f)-(%.2f,%.2f)", name,
			float64(bits(w0, 32, 43))*fx2, float64(bits(w0, 44, 55))*fx2,
			float64(bits(w0, 12, 23))*fx2, float64(bits(w0, 0, 11))*fx2)
	case 0x36: // FILL_RECTANGLE
		return fmt.Sprintf("%-16s xy=(%.2f,%.2f)-(%.2f,%.2f)", name,
			float64(bits(w0, 12, 23))*fx2, float64(bits(w0, 0, 11))*fx2,
			float64(bits(w0, 44, 55))*fx2, float64(bits(w0, 32, 43))*fx2)
	case 0x24, 0x25: // TEX_RECT(_FLIP)
		s := fmt.Sprintf("%-16s tile=%d xy=(%.2f,%.2f)-(%.2f,%.2f)", name, bits(w0, 24, 26),
			float64(bits(w0, 12, 23))*fx2, float64(bits(w0, 0, 11))*fx2,
			float64(bits(w0, 44, 55))*fx2, float64(bits(w0, 32, 43))*fx2)
		if len(words) > 1 {
			w1 := words[1]
			s += fmt.Sprintf(" st=(%.2f,%.2f) dst=(%.5f,%.5f)",
				float64(sbits(w1, 48, 63))*fx5, float64(sbits(w1, 32, 47))*fx5,
				float64(sbits(w1, 16, 31))*fx10, float64(sbits(w1, 0, 15))*fx10)
		}
		return s
	case 0x35: // SET_TILE
		return fmt.Sprintf("%-16s tile=%d fmt=%d size=%d tmem[0x%x,line=%d] pal=%d", name,
			bits(w0, 24, 26), bits(w0, 53, 55), bits(w0, 51, 52),
			bits(w0, 32, 40)*8, bits(w0, 41, 49)*8, bits(w0, 20, 23))
	case 0x32, 0x34: // SET_TILE_SIZE, LOAD_TILE
		return fmt.Sprintf("%-16s tile=%d st=(%.2f,%.2f)-(%.2f,%.2f)", name, bits(w0, 24, 26),
			float64(bits(w0, 44, 55))*fx2, float64(bits(w0, 32, 43))*fx2,
			float64(bits(w0, 12, 23))*fx2, float64(bits(w0, 0, 11))*fx2)
	case 0x30: // LOAD_TLUT
		return fmt.Sprintf("%-16s tile=%d palidx=(%d-%d)", name, bits(w0, 24, 26), bits(w0, 46, 55), bits(w0, 14, 23))
	case 0x33: // LOAD_BLOCK
		return fmt.Sprintf("%-16s tile=%d st=(%d,%d) n=%d dxt=%.5f", name, bits(w0, 24, 26),
			bits(w0, 44, 55), bits(w0, 32, 43), bits(w0, 12, 23)+1, float64(bits(w0, 0, 11))*fx11)
	case 0x37: // SET_FILL_COLOR
		return fmt.Sprintf("%-16s rgba32=(%d,%d,%d,%d)", name, bits(w0, 24, 31), bits(w0, 16, 23), bits(w0, 8, 15), bits(w0, 0, 7))
	case 0x38, 0x39, 0x3A, 0x3B: // constant colors
		return fmt.Sprintf("%-16s rgba32=(%d,%d,%d,%d)", name, bits(w0, 24, 31), bits(w0, 16, 23), bits(w0, 8, 15), bits(w0, 0, 7))
	case 0x3D, 0x3F, 0x3E: // SET_TEX/COLOR/Z_IMAGE
		if op == 0x3E {
			return fmt.Sprintf("%-16s dram=%08x", name, bits(w0, 0, 25))
		}
		return fmt.Sprintf("%-16s dram=%08x w=%d fmt=%d size=%d", name, bits(w0, 0, 25), bits(w0, 32, 41)+1, bits(w0, 53, 55), bits(w0, 51, 52))
	case 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F: // triangles
		return fmt.Sprintf("%-16s %s tile=%d lvl=%d y=(%.2f,%.2f,%.2f)", name,
			map[bool]string{true: "left", false: "right"}[bit(w0, 55)],
			bits(w0, 48, 50), bits(w0, 51, 53)+1,
			float64(sbits(w0, 32, 45))*fx2, float64(sbits(w0, 16, 29))*fx2, float64(sbits(w0, 0, 13))*fx2)
	case 0x26, 0x27, 0x28, 0x29:
		return name
	default:
		return name
	}
}
