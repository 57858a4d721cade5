package bufferpool

import (
	"fmt"
	"log/slog"
	"time"
)

// Pool is the buffer pool core: a fixed-size array of frames, a page-id to
// slot lookup, a pluggable replacement policy, and the pin/unpin protocol
// that mediates all access to frame bytes.
//
// Pool is single-threaded cooperative: every exported method runs to
// completion from the caller's perspective, and the caller is responsible
// for serializing calls on a single Pool. Nothing here is safe for
// concurrent mutators.
type Pool struct {
	store    BlockStore
	policy   Policy
	replacer Replacer
	metrics  *Metrics
	logger   *slog.Logger

	frames  []*frame
	byPage  map[PageID]int
	pinned  int
	readIO  uint64
	writeIO uint64

	refusePinnedShutdown bool
	shutdown             bool
}

// Open constructs and initializes a Pool of the given capacity against
// store, which must already be opened by the caller. policy selects the
// replacement discipline.
func Open(store BlockStore, capacity int, policy Policy, logger *slog.Logger) (*Pool, error) {
	if capacity <= 0 {
		return nil, errInputError("Open", "capacity must be greater than 0")
	}
	if store == nil {
		return nil, errInputError("Open", "store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	frames := make([]*frame, capacity)
	for i := range frames {
		frames[i] = newFrame(i, store.PageSize())
	}

	p := &Pool{
		store:                store,
		policy:               policy,
		replacer:             NewReplacer(policy, capacity),
		metrics:              NewMetrics(),
		logger:               logger,
		frames:               frames,
		byPage:               make(map[PageID]int, capacity),
		refusePinnedShutdown: true,
	}
	p.logger.Debug("buffer pool initialized", "op", "Open", "capacity", capacity, "policy", policy)
	return p, nil
}

// OpenWithConfig is a convenience constructor that opens a FileBlockStore,
// or a direct I/O store when cfg.UseDirectIO is set (optionally compressed),
// per cfg and initializes a Pool over it.
func OpenWithConfig(cfg *Config, logger *slog.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errInputError("OpenWithConfig", err.Error())
	}

	var store BlockStore
	if cfg.UseDirectIO {
		store = newDirectIOStore(int(cfg.PageSize))
	} else {
		store = NewFileBlockStore(int(cfg.PageSize))
	}
	if err := store.Open(cfg.PageFile); err != nil {
		return nil, err
	}
	if cfg.WriteCompression != CompressionNone {
		store = NewCompressedBlockStore(store, cfg.WriteCompression)
	}

	p, err := Open(store, int(cfg.Capacity), cfg.Policy, logger)
	if err != nil {
		return nil, err
	}
	p.refusePinnedShutdown = cfg.RefusePinnedShutdown
	return p, nil
}

// lookup returns the slot currently holding pageID, or -1 if not resident.
func (p *Pool) lookup(pageID PageID) int {
	if slot, ok := p.byPage[pageID]; ok {
		return slot
	}
	return -1
}

func (p *Pool) firstFreeSlot() int {
	for _, f := range p.frames {
		if f.empty() {
			return f.slotIndex
		}
	}
	return -1
}

func (p *Pool) occupied() int {
	return len(p.byPage)
}

// Pin implements the hit/miss/eviction protocol. It returns a Handle whose
// Bytes alias the frame's buffer until the matching Unpin.
func (p *Pool) Pin(pageID PageID) (*Handle, error) {
	start := time.Now()
	defer func() { p.metrics.RecordPinLatency(time.Since(start)) }()

	if s := p.lookup(pageID); s >= 0 {
		f := p.frames[s]
		f.fixCount++
		p.pinned++
		p.replacer.Pin(s)
		p.replacer.OnHit(s)
		p.metrics.RecordCacheHit()
		p.logger.Debug("pin hit", "op", "Pin", "page_id", pageID, "slot", s, "fix_count", f.fixCount)
		return &Handle{PageID: pageID, Bytes: f.bytes}, nil
	}

	p.metrics.RecordCacheMiss()

	if p.occupied() < len(p.frames) {
		slot := p.firstFreeSlot()
		if err := p.admit(slot, pageID); err != nil {
			return nil, err
		}
		return &Handle{PageID: pageID, Bytes: p.frames[slot].bytes}, nil
	}

	slot, ok := p.replacer.SelectVictim()
	if !ok {
		return nil, errPoolExhausted("Pin")
	}

	victim := p.frames[slot]
	if victim.dirty {
		if err := p.writeBack(victim); err != nil {
			return nil, err
		}
	}

	evictedPage := victim.pageID
	delete(p.byPage, evictedPage)
	p.replacer.Remove(slot)
	victim.reset()
	p.metrics.RecordPageEviction()

	if err := p.admit(slot, pageID); err != nil {
		return nil, err
	}
	p.logger.Debug("pin replaced", "op", "Pin", "page_id", pageID, "slot", slot, "evicted_page_id", evictedPage)
	return &Handle{PageID: pageID, Bytes: p.frames[slot].bytes}, nil
}

// admit reads pageID from storage into the empty slot and updates
// bookkeeping. slot must currently be empty.
func (p *Pool) admit(slot int, pageID PageID) error {
	if err := p.store.EnsureCapacity(int(pageID) + 1); err != nil {
		return errWriteFailed("Pin", pageID, err)
	}

	f := p.frames[slot]
	if err := p.store.ReadBlock(pageID, f.bytes); err != nil {
		return errReadNonExistingPage("Pin", pageID, err)
	}
	p.readIO++

	f.pageID = pageID
	f.dirty = false
	f.fixCount = 1
	f.referenceBit = true
	p.byPage[pageID] = slot
	p.pinned++
	p.replacer.OnAdmit(slot)
	return nil
}

func (p *Pool) writeBack(f *frame) error {
	if err := p.store.WriteBlock(f.pageID, f.bytes); err != nil {
		return errWriteFailed("Pin", f.pageID, err)
	}
	p.writeIO++
	f.dirty = false
	p.metrics.RecordDirtyPageFlush()
	return nil
}

// Unpin decrements the handle's frame's fix_count. When it reaches zero the
// slot is handed back to the replacement policy as an eviction candidate;
// for LRU this is also where recency is recorded, so LRU order follows the
// time of each slot's last unpin, not of its last pin.
func (p *Pool) Unpin(handle *Handle) error {
	slot := p.lookup(handle.PageID)
	if slot < 0 {
		return nil
	}
	f := p.frames[slot]
	if f.fixCount > 0 {
		f.fixCount--
		p.pinned--
	}
	if f.fixCount == 0 {
		p.replacer.Unpin(slot)
	}
	return nil
}

// MarkDirty flags handle's frame dirty. No-op if the page is not resident.
func (p *Pool) MarkDirty(handle *Handle) error {
	slot := p.lookup(handle.PageID)
	if slot < 0 {
		return nil
	}
	p.frames[slot].dirty = true
	return nil
}

// ForcePage writes handle's frame back to storage immediately if dirty.
func (p *Pool) ForcePage(handle *Handle) error {
	slot := p.lookup(handle.PageID)
	if slot < 0 {
		return nil
	}
	f := p.frames[slot]
	if !f.dirty {
		return nil
	}
	return p.writeBack(f)
}

// ForceFlush writes every dirty unpinned frame back to storage. Pinned
// dirty frames are left untouched.
func (p *Pool) ForceFlush() error {
	start := time.Now()
	defer func() { p.metrics.RecordFlushLatency(time.Since(start)) }()

	for _, f := range p.frames {
		if f.empty() || !f.dirty || f.fixCount > 0 {
			continue
		}
		if err := p.writeBack(f); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown force-flushes the pool, then releases its frames and policy
// state. If RefusePinnedShutdown is set and any frame is still pinned,
// Shutdown refuses with PinnedOnShutdown and leaves the pool usable.
func (p *Pool) Shutdown() error {
	if p.shutdown {
		return nil
	}
	if p.refusePinnedShutdown && p.pinned > 0 {
		pinnedFrames := 0
		for _, f := range p.frames {
			if f.fixCount > 0 {
				pinnedFrames++
			}
		}
		return errPinnedOnShutdown("Shutdown", pinnedFrames)
	}

	if err := p.ForceFlush(); err != nil {
		return err
	}

	p.frames = nil
	p.byPage = nil
	p.replacer = nil
	p.shutdown = true
	p.logger.Debug("buffer pool shut down", "op", "Shutdown")
	return nil
}

// Close releases the Pool's underlying storage handle. Callers that want
// force-flush-then-close semantics should call Shutdown first.
func (p *Pool) Close() error {
	return p.store.Close()
}

// FrameContents returns a fresh snapshot of each slot's resident page id
// (or NoPage), in slot_index order.
func (p *Pool) FrameContents() []PageID {
	out := make([]PageID, len(p.frames))
	for i, f := range p.frames {
		out[i] = f.pageID
	}
	return out
}

// DirtyFlags returns a fresh snapshot of each slot's dirty bit.
func (p *Pool) DirtyFlags() []bool {
	out := make([]bool, len(p.frames))
	for i, f := range p.frames {
		out[i] = f.dirty
	}
	return out
}

// FixCounts returns a fresh snapshot of each slot's fix_count.
func (p *Pool) FixCounts() []int {
	out := make([]int, len(p.frames))
	for i, f := range p.frames {
		out[i] = f.fixCount
	}
	return out
}

func (p *Pool) NumReadIO() uint64  { return p.readIO }
func (p *Pool) NumWriteIO() uint64 { return p.writeIO }

// Metrics exposes the pool's ambient performance counters, separate from
// the required statistics accessors above.
func (p *Pool) Metrics() *Metrics { return p.metrics }

func (p *Pool) String() string {
	return fmt.Sprintf("Pool{capacity=%d occupied=%d policy=%s}", len(p.frames), p.occupied(), p.policy)
}
