package rdpq

// Resource identifies a class of hardware state the auto-sync engine
// tracks. Resource masks combine the pipe bit, one bit per tile (0-7), and
// one bit per TMEM half (low/high) into a single 32-bit dirty-resource
// bitmask.
type Resource uint32

const (
	// ResourcePipe covers all pipeline-wide state: other-modes, combine
	// mode, scissor, and the constant colors.
	ResourcePipe Resource = 1 << 0

	resourceTileBase = 1
	resourceTMEMBase = 9
)

// ResourceTile returns the dirty bit for tile descriptor t (0-7).
func ResourceTile(t int) Resource {
	return 1 << (resourceTileBase + uint(t))
}

// ResourceTMEM returns the dirty bit for TMEM half h (0=low, 1=high).
func ResourceTMEM(h int) Resource {
	return 1 << (resourceTMEMBase + uint(h))
}

// ResourceTiles is the union of all 8 tile bits.
const ResourceTiles = Resource(0xFF << resourceTileBase)

// ResourceTMEMs is the union of both TMEM-half bits.
const ResourceTMEMs = Resource(0x3 << resourceTMEMBase)

// ResourceAll marks every resource dirty. A block being recorded replaces
// the dirty mask with this value, since a recorded block may be replayed
// in any context and must conservatively sync everything it might
// conflict with.
const ResourceAll Resource = 0xFFFFFFFF
