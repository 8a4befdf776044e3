package rdpq

// callbackTable is the Go-native replacement for the C library's "encode a
// function pointer into 24 bits of a command word" trick: a small
// registered-callback table indexed by a 24-bit slot, which is all a
// rebuilt-from-scratch core needs — there is no pre-built-block binary
// compatibility to preserve here, so the index form is strictly simpler and
// just as bit-faithful to "callback smuggled through a command word".
type callbackTable struct {
	entries []func(arg uint32)
}

// register appends cb and returns a 1-based slot (0 is reserved to mean "no
// callback", matching the physical-address-of-NULL sentinel in the C
// original).
func (t *callbackTable) register(cb func(arg uint32)) uint32 {
	t.entries = append(t.entries, cb)
	return uint32(len(t.entries))
}

func (t *callbackTable) get(slot uint32) func(arg uint32) {
	if slot == 0 || int(slot) > len(t.entries) {
		return nil
	}
	return t.entries[slot-1]
}

// SyncFull pushes SYNC_FULL, the end-of-frame barrier. If cb is non-nil, it
// is registered and its slot plus arg are packed into the command word
// (slot in bits 32-55, arg in bits 0-31) exactly where the hardware's
// interrupt bridge expects to find them. SYNC_FULL also clears every dirty
// resource bit: once it completes, the RDP is fully idle.
func (q *Queue) SyncFull(cb func(arg uint32), arg uint32) {
	var slot uint32
	if cb != nil {
		slot = q.callbacks.register(cb)
	}
	word := opcodeWord(OpSyncFull, (uint64(slot)&0xFFFFFF)<<32|uint64(arg))
	q.emit([]uint64{word})
	q.sync.syncFull()
}

// InterruptBridge demultiplexes the RDP's SYNC_FULL interrupt into the
// user-supplied callback registered via Queue.SyncFull. It is a separate
// type from Queue because the interrupt fires asynchronously on the
// host's interrupt path, never from writer code.
type InterruptBridge struct {
	queue  *Queue
	state  StateView
	ic     InterruptController
	onIRQ  func() // clears the hardware's "full complete" status
}

// NewInterruptBridge wires a Queue's callback table to an interrupt
// controller. onClearStatus must clear the RDP's "full complete" status bit
// before the callback runs, so that a subsequent SYNC_FULL can be
// scheduled while the callback executes.
func NewInterruptBridge(q *Queue, state StateView, ic InterruptController, onClearStatus func()) *InterruptBridge {
	b := &InterruptBridge{queue: q, state: state, ic: ic, onIRQ: onClearStatus}
	ic.RegisterSyncFullHandler(b.handle)
	return b
}

// handle is invoked by the InterruptController once per SYNC_FULL
// completion. It reads the shadow copy of the last-executed SYNC_FULL
// command, reconstructs the callback slot and argument, clears the
// hardware interrupt status, and only then invokes the callback — in that
// order, so the callback is free to queue more work without racing a
// not-yet-cleared status bit.
func (b *InterruptBridge) handle() {
	word := b.state.LastSyncFull()
	slot := uint32((word >> 32) & 0xFFFFFF)
	arg := uint32(word & 0xFFFFFFFF)
	cb := b.queue.callbacks.get(slot)

	if b.onIRQ != nil {
		b.onIRQ()
	}
	if cb != nil {
		cb(arg)
	}
}
