//go:build !linux

package bufferpool

// newDirectIOStore falls back to the buffered store on platforms without
// O_DIRECT support; Config.UseDirectIO is treated as a hint, not a
// guarantee.
func newDirectIOStore(pageSize int) BlockStore {
	return NewFileBlockStore(pageSize)
}
