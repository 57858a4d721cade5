package bufferpool

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPool(t *testing.T, capacity int, policy Policy) *Pool {
	t.Helper()
	store := NewFileBlockStore(DefaultPageSize)
	name := t.TempDir() + "/pool.db"
	if err := store.Open(name); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	pool, err := Open(store, capacity, policy, discardLogger())
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	return pool
}

func mustPin(t *testing.T, p *Pool, pageID PageID) *Handle {
	t.Helper()
	h, err := p.Pin(pageID)
	if err != nil {
		t.Fatalf("pin %d: %v", pageID, err)
	}
	return h
}

// FIFO eviction order.
func TestFIFOEvictionOrder(t *testing.T) {
	p := newTestPool(t, 3, PolicyFIFO)

	h1 := mustPin(t, p, 1)
	h2 := mustPin(t, p, 2)
	h3 := mustPin(t, p, 3)
	p.Unpin(h1)
	p.Unpin(h2)
	p.Unpin(h3)

	if _, err := p.Pin(4); err != nil {
		t.Fatalf("pin 4: %v", err)
	}

	want := []PageID{4, 2, 3}
	got := p.FrameContents()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame_contents[%d] = %d, want %d (full: %v)", i, got[i], want[i], got)
		}
	}
	if p.NumReadIO() != 4 {
		t.Errorf("read_io = %d, want 4", p.NumReadIO())
	}
	if p.NumWriteIO() != 0 {
		t.Errorf("write_io = %d, want 0", p.NumWriteIO())
	}
}

// LRU preserves recently used pages.
func TestLRUPreservesRecentUse(t *testing.T) {
	p := newTestPool(t, 3, PolicyLRU)

	h1 := mustPin(t, p, 1)
	h2 := mustPin(t, p, 2)
	h3 := mustPin(t, p, 3)
	p.Unpin(h1)
	p.Unpin(h2)
	p.Unpin(h3)

	// Re-pin page 1: a hit, makes it most recently used.
	h1b := mustPin(t, p, 1)
	p.Unpin(h1b)

	if _, err := p.Pin(4); err != nil {
		t.Fatalf("pin 4: %v", err)
	}

	contents := p.FrameContents()
	present := map[PageID]bool{}
	for _, id := range contents {
		present[id] = true
	}
	for _, want := range []PageID{1, 4, 3} {
		if !present[want] {
			t.Errorf("expected page %d present in frame_contents %v", want, contents)
		}
	}
	if present[2] {
		t.Errorf("page 2 should have been evicted, got %v", contents)
	}
	if p.NumReadIO() != 4 {
		t.Errorf("read_io = %d, want 4", p.NumReadIO())
	}
	if p.NumWriteIO() != 0 {
		t.Errorf("write_io = %d, want 0", p.NumWriteIO())
	}
}

// CLOCK gives a referenced page a second chance.
func TestClockSecondChance(t *testing.T) {
	p := newTestPool(t, 3, PolicyCLOCK)

	h1 := mustPin(t, p, 1)
	h2 := mustPin(t, p, 2)
	h3 := mustPin(t, p, 3)
	p.Unpin(h1)
	p.Unpin(h2)
	p.Unpin(h3)

	h1b := mustPin(t, p, 1) // hit, sets reference_bit
	p.Unpin(h1b)

	if _, err := p.Pin(4); err != nil {
		t.Fatalf("pin 4: %v", err)
	}

	contents := p.FrameContents()
	present := map[PageID]bool{}
	for _, id := range contents {
		present[id] = true
	}
	if !present[1] || !present[3] || !present[4] {
		t.Errorf("expected pages {1,3,4} present, got %v", contents)
	}
	if present[2] {
		t.Errorf("page 2 should have been evicted, got %v", contents)
	}
	if p.NumReadIO() != 4 {
		t.Errorf("read_io = %d, want 4", p.NumReadIO())
	}
	if p.NumWriteIO() != 0 {
		t.Errorf("write_io = %d, want 0", p.NumWriteIO())
	}
}

// Dirty write-back on eviction.
func TestDirtyWriteBackOnEviction(t *testing.T) {
	p := newTestPool(t, 1, PolicyLRU)

	h0 := mustPin(t, p, 0)
	if err := p.MarkDirty(h0); err != nil {
		t.Fatalf("mark dirty: %v", err)
	}
	if err := p.Unpin(h0); err != nil {
		t.Fatalf("unpin: %v", err)
	}

	if _, err := p.Pin(1); err != nil {
		t.Fatalf("pin 1: %v", err)
	}

	if p.NumWriteIO() != 1 {
		t.Errorf("write_io = %d, want 1", p.NumWriteIO())
	}
	if p.NumReadIO() != 2 {
		t.Errorf("read_io = %d, want 2", p.NumReadIO())
	}
}

// A fully pinned pool reports PoolExhausted.
func TestPinnedFrameIsNotEvicted(t *testing.T) {
	p := newTestPool(t, 2, PolicyLRU)

	mustPin(t, p, 0)
	mustPin(t, p, 1)

	_, err := p.Pin(2)
	if !IsErrorCode(err, ErrCodePoolExhausted) {
		t.Fatalf("expected PoolExhausted, got %v", err)
	}
	if p.NumReadIO() != 2 {
		t.Errorf("read_io = %d, want 2", p.NumReadIO())
	}
	if p.NumWriteIO() != 0 {
		t.Errorf("write_io = %d, want 0", p.NumWriteIO())
	}
}

// Force-flush writes all dirty unpinned frames, skipping pinned ones.
func TestForceFlushWritesAllDirtyUnpinned(t *testing.T) {
	p := newTestPool(t, 3, PolicyLRU)

	h0 := mustPin(t, p, 0)
	h1 := mustPin(t, p, 1)
	h2 := mustPin(t, p, 2)

	p.MarkDirty(h0)
	p.MarkDirty(h1)
	p.MarkDirty(h2)

	p.Unpin(h0)
	p.Unpin(h1)
	// h2 stays pinned

	if err := p.ForceFlush(); err != nil {
		t.Fatalf("force flush: %v", err)
	}

	if p.NumWriteIO() != 2 {
		t.Errorf("write_io = %d, want 2", p.NumWriteIO())
	}
	want := []bool{false, false, true}
	got := p.DirtyFlags()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dirty_flags[%d] = %v, want %v (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestNoDuplicatePageIDsAcrossSlots(t *testing.T) {
	p := newTestPool(t, 3, PolicyLRU)
	mustPin(t, p, 1)
	mustPin(t, p, 2)
	mustPin(t, p, 3)

	contents := p.FrameContents()
	seen := map[PageID]bool{}
	for _, id := range contents {
		if id == NoPage {
			continue
		}
		if seen[id] {
			t.Fatalf("page %d appears in more than one slot: %v", id, contents)
		}
		seen[id] = true
	}
}

func TestSnapshotLengthsMatchCapacity(t *testing.T) {
	p := newTestPool(t, 5, PolicyLRU)
	mustPin(t, p, 1)

	if len(p.FrameContents()) != 5 {
		t.Errorf("frame_contents length = %d, want 5", len(p.FrameContents()))
	}
	if len(p.DirtyFlags()) != 5 {
		t.Errorf("dirty_flags length = %d, want 5", len(p.DirtyFlags()))
	}
	if len(p.FixCounts()) != 5 {
		t.Errorf("fix_counts length = %d, want 5", len(p.FixCounts()))
	}
}

func TestPinUnpinBalanceLeavesZeroFixCounts(t *testing.T) {
	p := newTestPool(t, 3, PolicyLRU)

	for i := 0; i < 3; i++ {
		h, err := p.Pin(PageID(i))
		if err != nil {
			t.Fatalf("pin %d: %v", i, err)
		}
		if err := p.Unpin(h); err != nil {
			t.Fatalf("unpin %d: %v", i, err)
		}
	}

	for i, fc := range p.FixCounts() {
		if fc != 0 {
			t.Errorf("fix_counts[%d] = %d, want 0", i, fc)
		}
	}
}

func TestForceFlushTwiceInARowSecondDoesZeroWrites(t *testing.T) {
	p := newTestPool(t, 2, PolicyLRU)

	h := mustPin(t, p, 0)
	p.MarkDirty(h)
	p.Unpin(h)

	if err := p.ForceFlush(); err != nil {
		t.Fatalf("first force flush: %v", err)
	}
	firstWriteIO := p.NumWriteIO()

	if err := p.ForceFlush(); err != nil {
		t.Fatalf("second force flush: %v", err)
	}
	if p.NumWriteIO() != firstWriteIO {
		t.Errorf("second force_flush performed writes: write_io went from %d to %d", firstWriteIO, p.NumWriteIO())
	}
}

func TestMarkDirtyIsIdempotent(t *testing.T) {
	p := newTestPool(t, 2, PolicyLRU)
	h := mustPin(t, p, 0)

	if err := p.MarkDirty(h); err != nil {
		t.Fatalf("mark dirty: %v", err)
	}
	if err := p.MarkDirty(h); err != nil {
		t.Fatalf("mark dirty again: %v", err)
	}

	flags := p.DirtyFlags()
	if !flags[0] {
		t.Error("expected slot 0 dirty")
	}
}

func TestRepinAfterUnpinYieldsSameBytesWithoutIO(t *testing.T) {
	p := newTestPool(t, 2, PolicyLRU)

	h1, err := p.Pin(0)
	if err != nil {
		t.Fatalf("pin: %v", err)
	}
	h1.Bytes[0] = 0x42
	p.MarkDirty(h1)
	if err := p.Unpin(h1); err != nil {
		t.Fatalf("unpin: %v", err)
	}
	readIOBefore := p.NumReadIO()

	h2, err := p.Pin(0)
	if err != nil {
		t.Fatalf("re-pin: %v", err)
	}
	if h2.Bytes[0] != 0x42 {
		t.Errorf("expected byte 0x42 preserved, got 0x%x", h2.Bytes[0])
	}
	if p.NumReadIO() != readIOBefore {
		t.Errorf("re-pinning a still-resident page should not perform I/O: read_io went from %d to %d", readIOBefore, p.NumReadIO())
	}
}

func TestMarkDirtyAndUnpinOnNonResidentPageIsSilent(t *testing.T) {
	p := newTestPool(t, 2, PolicyLRU)
	ghost := &Handle{PageID: 99, Bytes: make([]byte, DefaultPageSize)}

	if err := p.MarkDirty(ghost); err != nil {
		t.Errorf("mark_dirty on a non-resident page should succeed silently, got %v", err)
	}
	if err := p.Unpin(ghost); err != nil {
		t.Errorf("unpin on a non-resident page should succeed silently, got %v", err)
	}
	if err := p.ForcePage(ghost); err != nil {
		t.Errorf("force_page on a non-resident page should succeed silently, got %v", err)
	}
}

func TestShutdownRefusesWithOutstandingPins(t *testing.T) {
	p := newTestPool(t, 2, PolicyLRU)
	mustPin(t, p, 0)

	err := p.Shutdown()
	if !IsErrorCode(err, ErrCodePinnedOnShutdown) {
		t.Fatalf("expected PinnedOnShutdown, got %v", err)
	}
}

func TestShutdownProceedsWithOutstandingPinsWhenRefusalDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PageFile = t.TempDir() + "/pool.db"
	cfg.Capacity = 2
	cfg.RefusePinnedShutdown = false

	p, err := OpenWithConfig(cfg, discardLogger())
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	mustPin(t, p, 0)

	if err := p.Shutdown(); err != nil {
		t.Fatalf("expected shutdown to proceed with outstanding pins, got %v", err)
	}
}

func TestShutdownSucceedsOnceUnpinned(t *testing.T) {
	p := newTestPool(t, 2, PolicyLRU)
	h := mustPin(t, p, 0)
	if err := p.Unpin(h); err != nil {
		t.Fatalf("unpin: %v", err)
	}

	if err := p.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestPoolExhaustedLeavesStateUnchanged(t *testing.T) {
	p := newTestPool(t, 1, PolicyLRU)
	mustPin(t, p, 0)

	before := p.FrameContents()
	_, err := p.Pin(1)
	if !IsErrorCode(err, ErrCodePoolExhausted) {
		t.Fatalf("expected PoolExhausted, got %v", err)
	}
	after := p.FrameContents()
	if before[0] != after[0] {
		t.Errorf("frame contents changed after failed pin: before=%v after=%v", before, after)
	}
}

// faultyBlockStore wraps a MemBlockStore and can be told to fail the next
// WriteBlock call, to exercise the write-failed-during-eviction path.
type faultyBlockStore struct {
	inner         *MemBlockStore
	failNextWrite bool
	writeCount    int
}

func newFaultyBlockStore(pageSize int) *faultyBlockStore {
	return &faultyBlockStore{inner: NewMemBlockStore(pageSize)}
}

func (fs *faultyBlockStore) Open(name string) error { return fs.inner.Open(name) }
func (fs *faultyBlockStore) Close() error           { return fs.inner.Close() }
func (fs *faultyBlockStore) PageSize() int          { return fs.inner.PageSize() }
func (fs *faultyBlockStore) ReadBlock(pageID PageID, buf []byte) error {
	return fs.inner.ReadBlock(pageID, buf)
}

func (fs *faultyBlockStore) WriteBlock(pageID PageID, buf []byte) error {
	if fs.failNextWrite {
		fs.failNextWrite = false
		return errWriteFailed("faultyBlockStore.WriteBlock", pageID, errors.New("injected write failure"))
	}
	fs.writeCount++
	return fs.inner.WriteBlock(pageID, buf)
}

func (fs *faultyBlockStore) EnsureCapacity(minPageCount int) error {
	return fs.inner.EnsureCapacity(minPageCount)
}

// A failed write-back during eviction must leave the victim frame's
// page_id and dirty bit untouched, so a retried Pin can re-attempt the
// write-back rather than losing track of the dirty page.
func TestFailedWriteBackDuringEvictionPreservesVictimFrame(t *testing.T) {
	store := newFaultyBlockStore(DefaultPageSize)
	if err := store.EnsureCapacity(2); err != nil {
		t.Fatalf("ensure capacity: %v", err)
	}

	p, err := Open(store, 1, PolicyLRU, discardLogger())
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	h := mustPin(t, p, 0)
	if err := p.MarkDirty(h); err != nil {
		t.Fatalf("mark dirty: %v", err)
	}
	if err := p.Unpin(h); err != nil {
		t.Fatalf("unpin: %v", err)
	}

	store.failNextWrite = true
	if _, err := p.Pin(1); !IsErrorCode(err, ErrCodeWriteFailed) {
		t.Fatalf("expected WriteFailed evicting dirty victim, got %v", err)
	}

	if got := p.FrameContents()[0]; got != 0 {
		t.Errorf("victim frame page_id changed after failed write-back: got %d, want 0", got)
	}
	if !p.DirtyFlags()[0] {
		t.Error("victim frame lost its dirty bit after failed write-back")
	}
	if store.writeCount != 0 {
		t.Errorf("expected no successful writes yet, got %d", store.writeCount)
	}

	h2, err := p.Pin(1)
	if err != nil {
		t.Fatalf("retried pin: %v", err)
	}
	if err := p.Unpin(h2); err != nil {
		t.Fatalf("unpin: %v", err)
	}

	if store.writeCount != 1 {
		t.Errorf("expected exactly one successful write-back on retry, got %d", store.writeCount)
	}
	if got := p.FrameContents()[0]; got != 1 {
		t.Errorf("frame should now hold page 1, got %d", got)
	}
}
