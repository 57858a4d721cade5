//go:build linux

package bufferpool

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ncw/directio"
	"golang.org/x/sys/unix"
)

// DirectIOBlockStore is a BlockStore backed by a single file opened with
// O_DIRECT, bypassing the kernel page cache. Reads and writes go straight
// between the frame's bytes and the disk controller, giving the pool (not
// the OS) control over when pages actually hit disk. Selected via
// Config.UseDirectIO.
type DirectIOBlockStore struct {
	file     *os.File
	pageSize int
}

// NewDirectIOBlockStore constructs an unopened direct I/O store for the
// given page size, which must be a multiple of directio.BlockSize.
func NewDirectIOBlockStore(pageSize int) *DirectIOBlockStore {
	return &DirectIOBlockStore{pageSize: pageSize}
}

func (ds *DirectIOBlockStore) Open(name string) error {
	if ds.pageSize%directio.BlockSize != 0 {
		return errInputError("DirectIOBlockStore.Open",
			fmt.Sprintf("page size %d must be a multiple of directio.BlockSize (%d)", ds.pageSize, directio.BlockSize))
	}

	file, err := directio.OpenFile(name, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return errFileNotFound("DirectIOBlockStore.Open", name, err)
	}
	ds.file = file
	slog.Debug("opened page file in direct I/O mode", "op", "DirectIOBlockStore.Open", "file", name)
	return nil
}

func (ds *DirectIOBlockStore) Close() error {
	if ds.file == nil {
		return nil
	}
	err := ds.file.Close()
	ds.file = nil
	return err
}

func (ds *DirectIOBlockStore) PageSize() int {
	return ds.pageSize
}

// ReadBlock reads pageID into buf via an aligned bounce buffer, since
// O_DIRECT requires the destination to be block-aligned.
func (ds *DirectIOBlockStore) ReadBlock(pageID PageID, buf []byte) error {
	aligned := directio.AlignedBlock(ds.pageSize)
	offset := int64(pageID) * int64(ds.pageSize)

	n, err := ds.file.ReadAt(aligned, offset)
	if err != nil {
		return errReadNonExistingPage("DirectIOBlockStore.ReadBlock", pageID, err)
	}
	if n != ds.pageSize {
		return errReadNonExistingPage("DirectIOBlockStore.ReadBlock", pageID,
			fmt.Errorf("short read: got %d bytes, want %d", n, ds.pageSize))
	}
	copy(buf, aligned)
	return nil
}

func (ds *DirectIOBlockStore) WriteBlock(pageID PageID, buf []byte) error {
	if len(buf) != ds.pageSize {
		return errWriteFailed("DirectIOBlockStore.WriteBlock", pageID,
			fmt.Errorf("buffer is %d bytes, want %d", len(buf), ds.pageSize))
	}

	aligned := directio.AlignedBlock(ds.pageSize)
	copy(aligned, buf)

	offset := int64(pageID) * int64(ds.pageSize)
	n, err := ds.file.WriteAt(aligned, offset)
	if err != nil {
		return errWriteFailed("DirectIOBlockStore.WriteBlock", pageID, err)
	}
	if n != ds.pageSize {
		return errWriteFailed("DirectIOBlockStore.WriteBlock", pageID,
			fmt.Errorf("short write: wrote %d bytes, want %d", n, ds.pageSize))
	}
	if err := unix.Fdatasync(int(ds.file.Fd())); err != nil {
		return errWriteFailed("DirectIOBlockStore.WriteBlock", pageID, err)
	}
	return nil
}

func (ds *DirectIOBlockStore) EnsureCapacity(minPageCount int) error {
	info, err := ds.file.Stat()
	if err != nil {
		return errWriteFailed("DirectIOBlockStore.EnsureCapacity", NoPage, err)
	}

	wantSize := int64(minPageCount) * int64(ds.pageSize)
	if info.Size() >= wantSize {
		return nil
	}

	zero := directio.AlignedBlock(ds.pageSize)
	for offset := info.Size(); offset < wantSize; offset += int64(ds.pageSize) {
		if _, err := ds.file.WriteAt(zero, offset); err != nil {
			return errWriteFailed("DirectIOBlockStore.EnsureCapacity", NoPage, err)
		}
	}
	return nil
}
