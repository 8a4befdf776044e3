package rdpq

// fakeCP is a minimal CPLink recording every word pushed or submitted, for
// tests that only need to observe what the Queue asked the CP to do rather
// than a full software RDP (internal/cpsim covers that end-to-end).
type fakeCP struct {
	pushed  [][]uint64
	submits [][2]uint32
	waited  int
}

func (f *fakeCP) QueuePush(words []uint64)    { f.pushed = append(f.pushed, append([]uint64(nil), words...)) }
func (f *fakeCP) SubmitRDP(start, end uint32) { f.submits = append(f.submits, [2]uint32{start, end}) }
func (f *fakeCP) WaitRDPIdle()                { f.waited++ }

// fakeAlloc is a bump allocator over a fixed backing array, enough for
// block-recorder tests that need real, distinct physical addresses.
type fakeAlloc struct {
	backing    []uint64
	next       int
	freed      []PhysAddr
	allocSizes []int
}

func newFakeAlloc(words int) *fakeAlloc {
	return &fakeAlloc{backing: make([]uint64, words)}
}

func (a *fakeAlloc) Alloc(words int) (PhysAddr, []uint64) {
	base := a.next
	a.next += words
	a.allocSizes = append(a.allocSizes, words)
	return PhysAddr(base * 8), a.backing[base:base : base+words]
}

func (a *fakeAlloc) Free(base PhysAddr, words []uint64) {
	a.freed = append(a.freed, base)
}
