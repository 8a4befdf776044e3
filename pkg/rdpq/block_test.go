package rdpq

import "testing"

// TestBlockBufferDoublingPolicy verifies the buffer chain starts at
// BlockMinWords and doubles on each overflow, capped at BlockMaxWords.
func TestBlockBufferDoublingPolicy(t *testing.T) {
	cp := &fakeCP{}
	alloc := newFakeAlloc(BlockMinWords*4 + BlockMaxWords*2)
	q := New(cp, alloc)

	q.BeginBlock()
	// Force enough writes to overflow buffer 0 (64 words) into buffer 1
	// (128 words): each write is 1 word, headroom check is
	// len+MaxCommandWords > cap.
	for i := 0; i < BlockMinWords; i++ {
		q.emit([]uint64{uint64(i)})
	}
	q.EndBlock()

	if len(alloc.allocSizes) < 2 {
		t.Fatalf("expected at least 2 buffer allocations from overflow, got %d", len(alloc.allocSizes))
	}
	if alloc.allocSizes[0] != BlockMinWords {
		t.Fatalf("first buffer size = %d, want %d", alloc.allocSizes[0], BlockMinWords)
	}
	if alloc.allocSizes[1] != BlockMinWords*2 {
		t.Fatalf("second buffer size = %d, want %d (doubled)", alloc.allocSizes[1], BlockMinWords*2)
	}
}

// TestBlockDoublingCapsAtMax verifies the buffer size never exceeds
// BlockMaxWords regardless of how many times it would otherwise double.
func TestBlockDoublingCapsAtMax(t *testing.T) {
	cp := &fakeCP{}
	// Enough backing to allocate many buffers up past the cap.
	alloc := newFakeAlloc(BlockMaxWords * 20)
	q := New(cp, alloc)

	q.BeginBlock()
	for i := 0; i < BlockMaxWords*3; i++ {
		q.emit([]uint64{uint64(i)})
	}
	q.EndBlock()

	max := 0
	for _, s := range alloc.allocSizes {
		if s > max {
			max = s
		}
	}
	if max != BlockMaxWords {
		t.Fatalf("largest allocated buffer = %d, want cap of %d", max, BlockMaxWords)
	}
}

// TestBlockFlushCoalescesContiguousRanges verifies that consecutive
// block-path writes into the same buffer patch the last submit's end
// pointer instead of emitting a new submit instruction.
func TestBlockFlushCoalescesContiguousRanges(t *testing.T) {
	cp := &fakeCP{}
	q := New(cp, newFakeAlloc(256))

	q.BeginBlock()
	q.emit([]uint64{1})
	q.emit([]uint64{2})
	q.emit([]uint64{3})
	q.EndBlock()

	// blockNextBuffer's own zero-length flush plus the three writes: since
	// all three land in the same buffer, they coalesce into the
	// buffer-open submit, so the last submit issued covers all three words
	// from the start of the buffer.
	last := cp.submits[len(cp.submits)-1]
	if last[1]-last[0] != 3*8 {
		t.Fatalf("final coalesced submit range = %d bytes, want 24", last[1]-last[0])
	}
}

// TestBlockRunReplaysEachBuffer verifies RunBlock submits every linked
// buffer's populated range and loads the block's saved dirty mask.
func TestBlockRunReplaysEachBuffer(t *testing.T) {
	cp := &fakeCP{}
	alloc := newFakeAlloc(512)
	q := New(cp, alloc)

	q.BeginBlock()
	for i := 0; i < BlockMinWords+4; i++ { // force at least one overflow
		q.emit([]uint64{uint64(i)})
	}
	b := q.EndBlock()

	cp.submits = nil
	q.RunBlock(b)
	if len(cp.submits) == 0 {
		t.Fatalf("RunBlock issued no submits")
	}
	if q.sync.dirty != b.finalMask {
		t.Fatalf("RunBlock did not load the block's saved dirty mask")
	}
}

// TestBlockFreeReleasesEveryBuffer verifies FreeBlock walks the whole
// chain, not just the head.
func TestBlockFreeReleasesEveryBuffer(t *testing.T) {
	cp := &fakeCP{}
	alloc := newFakeAlloc(512)
	q := New(cp, alloc)

	q.BeginBlock()
	for i := 0; i < BlockMinWords+4; i++ {
		q.emit([]uint64{uint64(i)})
	}
	b := q.EndBlock()

	wantChainLen := 0
	for buf := b.first; buf != nil; buf = buf.next {
		wantChainLen++
	}
	if wantChainLen < 2 {
		t.Fatalf("test setup didn't overflow into a second buffer")
	}

	q.FreeBlock(b)
	if len(alloc.freed) != wantChainLen {
		t.Fatalf("FreeBlock released %d buffers, want %d", len(alloc.freed), wantChainLen)
	}
}

// TestBeginBlockTwicePanics verifies BeginBlock rejects re-entrant
// recording: BEGUN state has no self-transition.
func TestBeginBlockTwicePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("BeginBlock while already recording did not panic")
		}
	}()
	q := New(&fakeCP{}, newFakeAlloc(256))
	q.BeginBlock()
	q.BeginBlock()
}

// TestEndBlockWithoutBeginPanics verifies EndBlock from INACTIVE is
// rejected rather than silently doing nothing: ending from INACTIVE is
// undefined behavior, modeled here as a loud panic.
func TestEndBlockWithoutBeginPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("EndBlock with no active recording did not panic")
		}
	}()
	q := New(&fakeCP{}, newFakeAlloc(256))
	q.EndBlock()
}

// TestEnterLeaveBlockRestoresDirtyMask verifies that entering a block
// recording conservatively marks every resource dirty and leaving it
// restores the pre-recording mask, independent of what happened inside.
func TestEnterLeaveBlockRestoresDirtyMask(t *testing.T) {
	cp := &fakeCP{}
	q := New(cp, newFakeAlloc(256))

	q.write([]uint64{1}, ResourcePipe, 0) // dirty the pipe bit outside the block
	before := q.sync.dirty

	q.BeginBlock()
	if q.sync.dirty != ResourceAll {
		t.Fatalf("dirty mask entering block = %#x, want ResourceAll", q.sync.dirty)
	}
	q.write([]uint64{2}, ResourceTile(3), 0)
	q.EndBlock()

	if q.sync.dirty != before {
		t.Fatalf("dirty mask after EndBlock = %#x, want restored %#x", q.sync.dirty, before)
	}
}
