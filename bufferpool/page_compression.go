package bufferpool

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// compressedPageMagic marks a page that a CompressedBlockStore wrote with a
// header, so ReadBlock can tell it from a page stored raw (one never written
// through this store, or one written uncompressed because it did not fit).
const compressedPageMagic = 0xC0DE

// compressedHeaderSize is the fixed on-disk prefix before the payload:
// magic(2) + algo(1) + reserved(1) + compressedLen(4) + checksum(4).
const compressedHeaderSize = 12

// CompressedBlockStore wraps another BlockStore and transparently
// compresses dirty frames before WriteBlock and decompresses after
// ReadBlock. The pin/unpin protocol above it only ever sees decompressed
// PageSize-byte buffers — compression is invisible above this layer.
type CompressedBlockStore struct {
	inner BlockStore
	algo  CompressionAlg
}

// NewCompressedBlockStore wraps inner with write-back compression using algo
// (CompressionSnappy or CompressionLZ4).
func NewCompressedBlockStore(inner BlockStore, algo CompressionAlg) *CompressedBlockStore {
	return &CompressedBlockStore{inner: inner, algo: algo}
}

func (cs *CompressedBlockStore) Open(name string) error  { return cs.inner.Open(name) }
func (cs *CompressedBlockStore) Close() error             { return cs.inner.Close() }
func (cs *CompressedBlockStore) PageSize() int            { return cs.inner.PageSize() }
func (cs *CompressedBlockStore) EnsureCapacity(n int) error {
	return cs.inner.EnsureCapacity(n)
}

func (cs *CompressedBlockStore) WriteBlock(pageID PageID, buf []byte) error {
	encoded, err := cs.encode(buf)
	if err != nil {
		return errWriteFailed("CompressedBlockStore.WriteBlock", pageID, err)
	}
	return cs.inner.WriteBlock(pageID, encoded)
}

func (cs *CompressedBlockStore) ReadBlock(pageID PageID, buf []byte) error {
	raw := make([]byte, cs.PageSize())
	if err := cs.inner.ReadBlock(pageID, raw); err != nil {
		return err
	}
	decoded, err := cs.decode(raw)
	if err != nil {
		return errReadNonExistingPage("CompressedBlockStore.ReadBlock", pageID, err)
	}
	copy(buf, decoded)
	return nil
}

func (cs *CompressedBlockStore) encode(page []byte) ([]byte, error) {
	pageSize := cs.PageSize()
	if len(page) != pageSize {
		return nil, fmt.Errorf("page data must be exactly %d bytes, got %d", pageSize, len(page))
	}

	var compressed []byte
	switch cs.algo {
	case CompressionSnappy:
		compressed = snappy.Encode(nil, page)
	case CompressionLZ4:
		compressed = make([]byte, lz4.CompressBlockBound(len(page)))
		n, err := lz4.CompressBlock(page, compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compression failed: %w", err)
		}
		compressed = compressed[:n]
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", cs.algo)
	}

	if compressedHeaderSize+len(compressed) > pageSize {
		// Compressed form (plus header) doesn't fit; store the page raw,
		// without a header, rather than fail the write.
		return page, nil
	}

	out := make([]byte, pageSize)
	binary.LittleEndian.PutUint16(out[0:2], compressedPageMagic)
	if len(compressed) == len(page) {
		out[2] = uint8(compressionTagNone)
	} else {
		out[2] = uint8(compressionTag(cs.algo))
	}
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(compressed)))
	binary.LittleEndian.PutUint32(out[8:12], crc32.ChecksumIEEE(page))
	copy(out[compressedHeaderSize:], compressed)
	return out, nil
}

func (cs *CompressedBlockStore) decode(raw []byte) ([]byte, error) {
	pageSize := cs.PageSize()
	if len(raw) < compressedHeaderSize || binary.LittleEndian.Uint16(raw[0:2]) != compressedPageMagic {
		// No header: a page this store never wrote (e.g. first read of a
		// freshly extended, all-zero page) or one it stored raw because it
		// did not compress — treat as raw bytes. A raw page whose first two
		// bytes equal the magic is read as a header.
		return raw, nil
	}

	algo := tagCompression(raw[2])
	compressedLen := binary.LittleEndian.Uint32(raw[4:8])
	checksum := binary.LittleEndian.Uint32(raw[8:12])

	if compressedHeaderSize+int(compressedLen) > len(raw) {
		return nil, fmt.Errorf("compressed page header claims %d bytes, only %d available", compressedLen, len(raw)-compressedHeaderSize)
	}
	payload := raw[compressedHeaderSize : compressedHeaderSize+int(compressedLen)]

	var decoded []byte
	var err error
	switch algo {
	case CompressionNone:
		decoded = payload
	case CompressionSnappy:
		decoded, err = snappy.Decode(nil, payload)
	case CompressionLZ4:
		decoded = make([]byte, pageSize)
		var n int
		n, err = lz4.UncompressBlock(payload, decoded)
		if err == nil {
			decoded = decoded[:n]
		}
	default:
		return nil, fmt.Errorf("unknown compression tag in page header: %s", algo)
	}
	if err != nil {
		return nil, fmt.Errorf("%s decompression failed: %w", algo, err)
	}

	if crc32.ChecksumIEEE(decoded) != checksum {
		return nil, fmt.Errorf("checksum mismatch decompressing page")
	}

	padded := make([]byte, pageSize)
	copy(padded, decoded)
	return padded, nil
}

type compressionTagT uint8

const (
	compressionTagNone   compressionTagT = 0
	compressionTagLZ4    compressionTagT = 1
	compressionTagSnappy compressionTagT = 2
)

func compressionTag(algo CompressionAlg) compressionTagT {
	switch algo {
	case CompressionLZ4:
		return compressionTagLZ4
	case CompressionSnappy:
		return compressionTagSnappy
	default:
		return compressionTagNone
	}
}

func tagCompression(tag uint8) CompressionAlg {
	switch compressionTagT(tag) {
	case compressionTagLZ4:
		return CompressionLZ4
	case compressionTagSnappy:
		return CompressionSnappy
	default:
		return CompressionNone
	}
}
