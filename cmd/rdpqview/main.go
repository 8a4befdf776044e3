// Command rdpqview replays a captured RDP command stream in a window,
// stepping one command at a time and redrawing the accumulated picture
// through internal/previewgpu. It is not a cycle-accurate RDP: fill
// rectangles are drawn from their exact encoded corners, TEX_RECT and
// TEX_RECT_FLIP commands are not drawn, and triangle vertices are
// reconstructed from the edge-walker header words rather than the
// original Vertex values, so triangle previews are an approximation.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/polypoyo/rdpq/internal/previewgpu"
	"github.com/polypoyo/rdpq/pkg/rdpq"
)

func main() {
	var (
		path  = flag.String("file", "", "path to a captured command stream (required)")
		width = flag.Int("width", 320, "preview surface width in pixels")
		height = flag.Int("height", 240, "preview surface height in pixels")
		scale = flag.Int("scale", 2, "window scale factor")
	)
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "rdpqview: -file is required")
		os.Exit(2)
	}

	words, err := readCommandWords(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rdpqview: %v\n", err)
		os.Exit(1)
	}

	renderer, err := previewgpu.New(*width, *height)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rdpqview: offscreen renderer unavailable: %v\n", err)
		os.Exit(1)
	}
	defer renderer.Close()

	v := &viewer{
		renderer: renderer,
		words:    words,
		width:    *width,
		height:   *height,
		scissor:  rdpq.Rect{X0: 0, Y0: 0, X1: float64(*width), Y1: float64(*height)},
	}

	ebiten.SetWindowSize(*width**scale, *height**scale)
	ebiten.SetWindowTitle("rdpqview")
	ebiten.SetWindowResizable(true)
	if err := ebiten.RunGame(v); err != nil {
		fmt.Fprintf(os.Stderr, "rdpqview: %v\n", err)
		os.Exit(1)
	}
}

func readCommandWords(path string) ([]uint64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("%s: length %d is not a multiple of 8 bytes", path, len(raw))
	}
	words := make([]uint64, len(raw)/8)
	for i := range words {
		words[i] = binary.BigEndian.Uint64(raw[i*8:])
	}
	return words, nil
}

// viewer is an ebiten.Game that steps through a captured command stream one
// command at a time (space/right arrow to advance, left arrow to restart)
// and redraws the accumulated picture each time the cursor moves: a
// "redraw on input, otherwise hold the last frame" loop.
type viewer struct {
	renderer *previewgpu.Renderer
	words    []uint64
	width    int
	height   int

	offset  int
	modes   rdpq.OtherModes
	fill    rdpq.Color
	scissor rdpq.Rect

	screen   *ebiten.Image
	stepOnce bool
}

func (v *viewer) Update() error {
	if ebiten.IsWindowBeingClosed() {
		return ebiten.Termination
	}
	advance := inpututil.IsKeyJustPressed(ebiten.KeySpace) ||
		inpututil.IsKeyJustPressed(ebiten.KeyArrowRight)
	restart := inpututil.IsKeyJustPressed(ebiten.KeyArrowLeft)
	if restart {
		v.offset = 0
		v.modes = rdpq.OtherModes{}
		v.fill = rdpq.Color{}
		v.stepOnce = true
	}
	if advance && v.offset < len(v.words) {
		v.step()
		v.stepOnce = true
	}
	return nil
}

// step interprets exactly one command at the current offset, updating
// tracked render state or issuing a draw against the preview renderer.
func (v *viewer) step() {
	n := commandLength(v.words[v.offset])
	end := v.offset + n
	if end > len(v.words) {
		end = len(v.words)
	}
	cmd := v.words[v.offset:end]
	v.offset = end

	op := (cmd[0] >> 56) & 0x3F
	switch {
	case op == 0x2D: // SET_SCISSOR
		v.scissor = decodeScissor(cmd[0])
		v.renderer.SetScissor(v.scissor)
	case op == 0x2F: // SET_OTHER_MODES
		v.modes = decodeOtherModes(cmd[0])
	case op == 0x37: // SET_FILL_COLOR
		v.fill = decodeFillColor(cmd[0])
	case op == 0x36: // FILL_RECTANGLE
		v.drawFillRectangle(rdpq.Rect{
			X0: float64(bits(cmd[0], 44, 55)) / 4,
			Y0: float64(bits(cmd[0], 32, 43)) / 4,
			X1: float64(bits(cmd[0], 12, 23)) / 4,
			Y1: float64(bits(cmd[0], 0, 11)) / 4,
		})
	case op >= 0x08 && op <= 0x0F: // triangle family
		v.drawApproximateTriangle(cmd)
	}
}

func (v *viewer) drawFillRectangle(rect rdpq.Rect) {
	z := float32(0)
	a := rdpq.Vertex{X: float32(rect.X0), Y: float32(rect.Y0), Z: z, R: v.fillR(), G: v.fillG(), B: v.fillB(), A: v.fillA()}
	b := rdpq.Vertex{X: float32(rect.X1), Y: float32(rect.Y0), Z: z, R: v.fillR(), G: v.fillG(), B: v.fillB(), A: v.fillA()}
	c := rdpq.Vertex{X: float32(rect.X1), Y: float32(rect.Y1), Z: z, R: v.fillR(), G: v.fillG(), B: v.fillB(), A: v.fillA()}
	d := rdpq.Vertex{X: float32(rect.X0), Y: float32(rect.Y1), Z: z, R: v.fillR(), G: v.fillG(), B: v.fillB(), A: v.fillA()}
	if err := v.renderer.FlushTriangle(v.modes, a, b, c); err != nil {
		fmt.Fprintf(os.Stderr, "rdpqview: flush triangle: %v\n", err)
	}
	if err := v.renderer.FlushTriangle(v.modes, a, c, d); err != nil {
		fmt.Fprintf(os.Stderr, "rdpqview: flush triangle: %v\n", err)
	}
}

func (v *viewer) fillR() float32 { return float32(v.fill.R) / 255 }
func (v *viewer) fillG() float32 { return float32(v.fill.G) / 255 }
func (v *viewer) fillB() float32 { return float32(v.fill.B) / 255 }
func (v *viewer) fillA() float32 { return float32(v.fill.A) / 255 }

// drawApproximateTriangle rebuilds the three screen-space corners from the
// edge-walker header's y1/y2/y3 and xh/xm/xl fields (the reverse of
// writeEdgeCoeffs) and shades the whole triangle with the current fill
// color, since recovering the original per-vertex Gouraud values from the
// packed DxDx/DxDy slopes is not worth the complexity for a preview tool.
func (v *viewer) drawApproximateTriangle(cmd []uint64) {
	if len(cmd) < 4 {
		return
	}
	w0, w1, w2 := cmd[0], cmd[1], cmd[2]

	y1 := s14(bits(w0, 0, 13)) / 4
	y2 := s14(bits(w0, 16, 29)) / 4
	y3 := s14(bits(w0, 32, 45)) / 4

	// xh/ish is the major edge from the top vertex; xl is the middle
	// vertex's X. The bottom vertex lies on the major edge at y3.
	xl := s1616(uint32(w1 >> 32))
	xh := s1616(uint32(w2 >> 32))
	ish := s1616(uint32(w2))

	z := float32(0)
	col := [4]float32{v.fillR(), v.fillG(), v.fillB(), v.fillA()}
	a := rdpq.Vertex{X: float32(xh), Y: float32(y1), Z: z, R: col[0], G: col[1], B: col[2], A: col[3]}
	b := rdpq.Vertex{X: float32(xl), Y: float32(y2), Z: z, R: col[0], G: col[1], B: col[2], A: col[3]}
	c := rdpq.Vertex{X: float32(xh + ish*(y3-y1)), Y: float32(y3), Z: z, R: col[0], G: col[1], B: col[2], A: col[3]}
	if err := v.renderer.FlushTriangle(v.modes, a, b, c); err != nil {
		fmt.Fprintf(os.Stderr, "rdpqview: flush triangle: %v\n", err)
	}
}

func (v *viewer) Draw(screen *ebiten.Image) {
	if v.screen == nil {
		v.screen = ebiten.NewImage(v.width, v.height)
	}
	v.screen.WritePixels(v.renderer.Frame())
	screen.DrawImage(v.screen, nil)
}

func (v *viewer) Layout(_, _ int) (int, int) {
	return v.width, v.height
}

func commandLength(word uint64) int {
	op := bits(word, 56, 61)
	if op >= 0x08 && op <= 0x0F {
		extra := [8]int{0, 2, 8, 10, 8, 10, 16, 18}
		return 4 + extra[op-0x08]
	}
	if op == 0x24 || op == 0x25 {
		return 2
	}
	return 1
}

func decodeScissor(w uint64) rdpq.Rect {
	return rdpq.Rect{
		X0: float64(bits(w, 32, 43)) / 4,
		Y0: float64(bits(w, 44, 55)) / 4,
		X1: float64(bits(w, 12, 23)) / 4,
		Y1: float64(bits(w, 0, 11)) / 4,
	}
}

func decodeOtherModes(w uint64) rdpq.OtherModes {
	return rdpq.OtherModes{
		CycleType: rdpq.CycleType(bits(w, 52, 53)),
		Persp:     bits(w, 51, 51) != 0,
		ZUpdate:   bits(w, 5, 5) != 0,
		ZCompare:  bits(w, 4, 4) != 0,
		ZSourcePrim: bits(w, 2, 2) != 0,
		Blend:     bits(w, 14, 14) != 0,
		ReadMem:   bits(w, 6, 6) != 0,
		AntiAlias: bits(w, 3, 3) != 0,
	}
}

func decodeFillColor(w uint64) rdpq.Color {
	return rdpq.Color{
		R: uint8(bits(w, 24, 31)),
		G: uint8(bits(w, 16, 23)),
		B: uint8(bits(w, 8, 15)),
		A: uint8(bits(w, 0, 7)),
	}
}

func bits(word uint64, lo, hi int) uint64 {
	mask := uint64(1)<<(hi-lo+1) - 1
	return (word >> lo) & mask
}

// s14 sign-extends a 14-bit field holding a value in 11.2 fixed point.
func s14(v uint64) float64 {
	const bit = 1 << 13
	signed := int32(v)
	if v&bit != 0 {
		signed = int32(v) - (1 << 14)
	}
	return float64(signed)
}

func s1616(v uint32) float64 {
	return float64(int32(v)) / 65536
}
