package rdpq

// Queue is the command-queue instance: a value type holding every piece of
// state that would be file-scope globals in the original C library
// (rdpq_block*, rdpq_autosync_state, rdpq_config, last_rdp_cmd). Queue is
// not safe for concurrent use from multiple goroutines — the core runs
// single-threaded cooperative on the host CPU; callers that want
// independent command streams should use independent Queues.
type Queue struct {
	cp    CPLink
	alloc Allocator

	sync *autosync
	rec  recorder

	callbacks callbackTable
}

// New creates a Queue bound to the given CP and buffer allocator, with
// auto-sync enabled for all three classes (rdpq_init's default config).
func New(cp CPLink, alloc Allocator) *Queue {
	return &Queue{
		cp:    cp,
		alloc: alloc,
		sync:  newAutosync(DefaultConfig()),
		rec:   recorder{state: blockInactive},
	}
}

// Config returns the current auto-sync configuration.
func (q *Queue) Config() Config { return q.sync.cfg }

// SetConfig replaces the auto-sync configuration wholesale.
func (q *Queue) SetConfig(cfg Config) { q.sync.cfg = cfg }

// ChangeConfig applies on/off deltas to the current configuration and
// returns the configuration that was in effect beforehand, mirroring
// rdpq_change_config's "turn_on, turn_off -> previous" contract.
func (q *Queue) ChangeConfig(on, off Config) Config {
	prev := q.sync.cfg
	merge := func(cur, on, off bool) bool {
		if on {
			return true
		}
		if off {
			return false
		}
		return cur
	}
	q.sync.cfg = Config{
		AutosyncPipe: merge(prev.AutosyncPipe, on.AutosyncPipe, off.AutosyncPipe),
		AutosyncLoad: merge(prev.AutosyncLoad, on.AutosyncLoad, off.AutosyncLoad),
		AutosyncTile: merge(prev.AutosyncTile, on.AutosyncTile, off.AutosyncTile),
	}
	return prev
}

// InBlock reports whether a block is currently being recorded.
func (q *Queue) InBlock() bool { return q.rec.state == blockBegun }

// write is the single entry point every command helper in commands.go
// funnels through — the Go equivalent of the C library's variadic macros
// collapsing to one generic write function. useMask/changeMask drive the
// auto-sync engine; words is the fully-encoded command (opcode word
// first).
func (q *Queue) write(words []uint64, useMask, changeMask Resource) {
	for _, sync := range q.sync.change(changeMask) {
		q.emitSync(sync)
	}
	q.sync.use(useMask)
	q.emit(words)
}

// emit routes already-encoded command words to whichever destination is
// active: the CP's dynamic ring buffer, or the tail of the current block.
func (q *Queue) emit(words []uint64) {
	if q.rec.state == blockBegun {
		q.blockWrite(words)
		return
	}
	q.cp.QueuePush(words)
}

// emitSync writes a single bare SYNC_* opcode word through the same path a
// regular command would take, clearing the matching dirty bits as a side
// effect of the opcode itself executing on real hardware (the shadow-side
// bit clearing already happened in autosync.change).
func (q *Queue) emitSync(op Opcode) {
	q.emit([]uint64{opcodeWord(op, 0)})
}

// writeFixup is the third writer form: a command that needs CPU-side
// pre-processing. In dynamic mode it is pushed exactly like
// any other command (the CP will call the specialised fixup opcode handler
// when it executes the stream). In block mode the pre-computed words are
// recorded directly into the block, since by the time the block is built
// the CPU-side computation has already happened — there is nothing left for
// the CP to fix up at replay time.
func (q *Queue) writeFixup(words []uint64, useMask, changeMask Resource) {
	q.write(words, useMask, changeMask)
}

// Fence pushes SYNC_FULL and then asks the CP to block until the RDP
// reports idle — the core's only suspension point.
func (q *Queue) Fence() {
	q.SyncFull(nil, 0)
	q.cp.WaitRDPIdle()
}
