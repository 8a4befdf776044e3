package rdpq

import "fmt"

// MaxCommandWords is the size, in 64-bit command words, of the largest
// single RDP command (a fully-attributed shade+tex+Z triangle). The block
// recorder always keeps at least this much headroom in the active buffer
// before a write: either the current buffer has room for one maximum-size
// command, or a new buffer is chained first.
const MaxCommandWords = 22

// BlockMinWords and BlockMaxWords bound the block buffer doubling policy:
// buffers start small to keep common recording cheap and double up to a
// cap to amortize allocation for large blocks.
const (
	BlockMinWords = 64
	BlockMaxWords = 4192
)

// blockBuffer is one link in a block's chain, matching rdpq_block_t: an
// ownership pointer to the next buffer and a growable payload of command
// words.
type blockBuffer struct {
	next  *blockBuffer
	base  PhysAddr
	words []uint64
}

// Block is a recorded, replayable sequence of RDP commands. It is
// returned by Queue.EndBlock and owned by the caller until passed to
// Queue.FreeBlock.
type Block struct {
	first     *blockBuffer
	finalMask Resource
}

// blockState tracks whether the Queue is recording a block: INACTIVE or
// BEGUN. Writes outside BEGUN go dynamic.
type blockState int

const (
	blockInactive blockState = iota
	blockBegun
)

// recorder holds the block-recording fields that would be file-scope
// globals in the C original (rdpq_block, rdpq_block_first, rdpq_block_size,
// last_rdp_cmd); here they live on a value type instead.
type recorder struct {
	state      blockState
	cur        *blockBuffer
	first      *blockBuffer
	nextSize   int
	lastSubmit *submitInstr // the most recent CP-level submit, for coalescing
}

// submitInstr is the "CP-level instruction" that tells the CP to DMA a
// physical byte range into the RDP. The writer remembers the last one it
// emitted so that contiguous writes can patch its end pointer instead of
// emitting a new submit (submission coalescing).
type submitInstr struct {
	start, end PhysAddr
}

// BeginBlock starts recording a new block. No buffer is allocated yet; the
// first command written into the block (blockWrite) lazily allocates it.
func (q *Queue) BeginBlock() {
	if q.rec.state == blockBegun {
		panic("rdpq: BeginBlock called while a block is already active")
	}
	q.rec.state = blockBegun
	q.rec.cur = nil
	q.rec.first = nil
	q.rec.nextSize = BlockMinWords
	q.rec.lastSubmit = nil
	q.sync.enterBlock()
}

// EndBlock finalizes the current recording, saves the dirty-resource mask
// onto the block, restores the mask that was active before BeginBlock, and
// returns the (possibly nil, if nothing was written) owning handle.
func (q *Queue) EndBlock() *Block {
	if q.rec.state != blockBegun {
		panic("rdpq: EndBlock called with no block active")
	}
	var b *Block
	if q.rec.first != nil {
		b = &Block{first: q.rec.first, finalMask: q.sync.dirty}
	}
	q.rec.state = blockInactive
	q.rec.cur = nil
	q.rec.first = nil
	q.rec.lastSubmit = nil
	q.sync.leaveBlock()
	return b
}

// RunBlock instructs the CP to execute a previously recorded block: the
// block's saved dirty mask becomes the engine's current mask, and the CP is
// told to submit each linked buffer's populated range.
func (q *Queue) RunBlock(b *Block) {
	if b == nil {
		return
	}
	q.sync.loadBlockMask(b.finalMask)
	for buf := b.first; buf != nil; buf = buf.next {
		if len(buf.words) == 0 {
			continue
		}
		start := buf.base
		end := buf.base + PhysAddr(len(buf.words))*8
		q.cp.SubmitRDP(uint32(start), uint32(end))
	}
}

// FreeBlock walks a block's buffer chain and releases each buffer back to
// the allocator. The block must not be running on the CP when this is
// called — enforcing that is the caller's responsibility, same as the C
// original.
func (q *Queue) FreeBlock(b *Block) {
	if b == nil {
		return
	}
	for buf := b.first; buf != nil; {
		next := buf.next
		q.alloc.Free(buf.base, buf.words[:cap(buf.words)])
		buf = next
	}
}

// blockWrite appends words to the tail of the active block buffer,
// allocating or chaining a new buffer first if there isn't room for a
// maximum-size command, then flushes/coalesces a CP-level submit for the
// bytes just written.
func (q *Queue) blockWrite(words []uint64) {
	if q.rec.cur == nil || len(q.rec.cur.words)+MaxCommandWords > cap(q.rec.cur.words) {
		q.blockNextBuffer()
	}
	buf := q.rec.cur
	startOff := len(buf.words)
	buf.words = append(buf.words, words...)

	start := buf.base + PhysAddr(startOff)*8
	end := buf.base + PhysAddr(len(buf.words))*8
	q.blockFlush(start, end)
}

// blockNextBuffer allocates the next buffer in the chain at double the
// previous size (capped at BlockMaxWords), links it, and repoints the
// writer, exactly as __rdpq_block_next_buffer does.
func (q *Queue) blockNextBuffer() {
	size := q.rec.nextSize
	base, words := q.alloc.Alloc(size)
	buf := &blockBuffer{base: base, words: words[:0]}

	if q.rec.cur != nil {
		q.rec.cur.next = buf
	}
	q.rec.cur = buf
	if q.rec.first == nil {
		q.rec.first = buf
	}

	// Point the CP at the start of the new buffer so static fixup commands
	// land at the right offset when the block replays.
	q.blockFlush(buf.base, buf.base)

	if q.rec.nextSize < BlockMaxWords {
		q.rec.nextSize *= 2
		if q.rec.nextSize > BlockMaxWords {
			q.rec.nextSize = BlockMaxWords
		}
	}
}

// blockFlush is __rdpq_block_flush: coalesce into the last submit
// instruction if the new range starts exactly where it ended, else emit a
// fresh submit.
func (q *Queue) blockFlush(start, end PhysAddr) {
	if start%8 != 0 || end%8 != 0 {
		panic(fmt.Sprintf("rdpq: unaligned block flush range [%#x,%#x)", start, end))
	}
	if q.rec.lastSubmit != nil && q.rec.lastSubmit.end == start {
		q.rec.lastSubmit.end = end
		q.cp.SubmitRDP(uint32(q.rec.lastSubmit.start), uint32(end))
		return
	}
	instr := &submitInstr{start: start, end: end}
	q.rec.lastSubmit = instr
	q.cp.SubmitRDP(uint32(start), uint32(end))
}
