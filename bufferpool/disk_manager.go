package bufferpool

import (
	"fmt"
	"log/slog"
	"os"
)

// FileBlockStore is the default BlockStore: a single os.File, opened once
// and kept open for the store's lifetime, with fixed-size pages addressed
// by byte offset pageID*pageSize.
type FileBlockStore struct {
	file     *os.File
	pageSize int
}

// NewFileBlockStore constructs an unopened store for the given page size.
// Call Open before use.
func NewFileBlockStore(pageSize int) *FileBlockStore {
	return &FileBlockStore{pageSize: pageSize}
}

func (fs *FileBlockStore) Open(name string) error {
	file, err := os.OpenFile(name, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return errFileNotFound("FileBlockStore.Open", name, err)
	}
	fs.file = file
	slog.Debug("opened page file", "op", "FileBlockStore.Open", "file", name)
	return nil
}

func (fs *FileBlockStore) Close() error {
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}

func (fs *FileBlockStore) PageSize() int {
	return fs.pageSize
}

// ReadBlock reads exactly PageSize() bytes for pageID into buf.
func (fs *FileBlockStore) ReadBlock(pageID PageID, buf []byte) error {
	offset := int64(pageID) * int64(fs.pageSize)
	if _, err := fs.file.ReadAt(buf, offset); err != nil {
		return errReadNonExistingPage("FileBlockStore.ReadBlock", pageID, err)
	}
	return nil
}

func (fs *FileBlockStore) WriteBlock(pageID PageID, buf []byte) error {
	if len(buf) != fs.pageSize {
		return errWriteFailed("FileBlockStore.WriteBlock", pageID,
			fmt.Errorf("buffer is %d bytes, want %d", len(buf), fs.pageSize))
	}
	offset := int64(pageID) * int64(fs.pageSize)
	if _, err := fs.file.WriteAt(buf, offset); err != nil {
		return errWriteFailed("FileBlockStore.WriteBlock", pageID, err)
	}
	return fs.file.Sync()
}

// EnsureCapacity extends the file with zero-filled pages, if necessary, so
// it holds at least minPageCount pages.
func (fs *FileBlockStore) EnsureCapacity(minPageCount int) error {
	info, err := fs.file.Stat()
	if err != nil {
		return errWriteFailed("FileBlockStore.EnsureCapacity", NoPage, err)
	}

	wantSize := int64(minPageCount) * int64(fs.pageSize)
	if info.Size() >= wantSize {
		return nil
	}

	if err := fs.file.Truncate(wantSize); err != nil {
		return errWriteFailed("FileBlockStore.EnsureCapacity", NoPage, err)
	}
	return nil
}
