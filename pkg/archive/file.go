package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"
)

// FileArchive is an on-disk Archive over *os.File, modeled on the teacher's
// filesystem-backed block store: a base path, explicit open flags/modes,
// and plain os.File positional I/O rather than anything exotic.
type FileArchive struct {
	attachSet

	file      *os.File
	path      string
	pos       int64
	loading   bool
	cooked    bool
	byteOrder binary.ByteOrder
	byteSwap  bool
}

// FileConfig mirrors the teacher's Config{BasePath, FileMode} shape, scoped
// down to a single archive file rather than a directory of block keys.
type FileConfig struct {
	Path string

	// FileMode is the permission mode for a newly created archive.
	// Default: 0644
	FileMode os.FileMode
}

// OpenForSave creates (or truncates) the archive file for writing.
func OpenForSave(cfg FileConfig) (*FileArchive, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("archive: path is required")
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, cfg.FileMode)
	if err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", cfg.Path, err)
	}

	return &FileArchive{file: f, path: cfg.Path, loading: false, byteOrder: binary.LittleEndian}, nil
}

// OpenForLoad opens an existing archive file for reading. silentOnMissing
// mirrors the engine's File Manager contract (§6): when true, a missing
// file is not an error but returns (nil, nil), matching the filesystem
// store's "silent read" open mode used for background prefetch.
func OpenForLoad(path string, silentOnMissing bool) (*FileArchive, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && silentOnMissing {
			return nil, nil
		}
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}

	return &FileArchive{file: f, path: path, loading: true, byteOrder: binary.LittleEndian}, nil
}

func (a *FileArchive) SetCooked(cooked bool)    { a.cooked = cooked }
func (a *FileArchive) SetByteSwap(swap bool)    { a.byteSwap = swap }
func (a *FileArchive) IsTransacting() bool      { return false }
func (a *FileArchive) IsCooked() bool           { return a.cooked }
func (a *FileArchive) IsLoading() bool          { return a.loading }
func (a *FileArchive) IsSaving() bool           { return !a.loading }
func (a *FileArchive) ShouldByteSwap() bool     { return a.byteSwap }
func (a *FileArchive) Filename() string         { return a.path }

func (a *FileArchive) Tell() (int64, error) { return a.pos, nil }

func (a *FileArchive) Seek(offset int64) error {
	if offset < 0 {
		return fmt.Errorf("archive: negative seek offset %d", offset)
	}
	a.pos = offset
	return nil
}

func (a *FileArchive) SerializeRaw(buf []byte) error {
	n := len(buf)
	if n == 0 {
		return nil
	}

	if a.loading {
		if _, err := a.file.ReadAt(buf, a.pos); err != nil {
			return fmt.Errorf("archive: read %d bytes at %d: %w", n, a.pos, err)
		}
	} else {
		if _, err := a.file.WriteAt(buf, a.pos); err != nil {
			return fmt.Errorf("archive: write %d bytes at %d: %w", n, a.pos, err)
		}
	}
	a.pos += int64(n)
	return nil
}

func (a *FileArchive) SerializeUint32(v *uint32) error {
	var tmp [4]byte
	if a.loading {
		if err := a.SerializeRaw(tmp[:]); err != nil {
			return err
		}
		*v = a.byteOrder.Uint32(tmp[:])
		return nil
	}
	a.byteOrder.PutUint32(tmp[:], *v)
	return a.SerializeRaw(tmp[:])
}

func (a *FileArchive) SerializeInt32(v *int32) error {
	u := uint32(*v)
	if err := a.SerializeUint32(&u); err != nil {
		return err
	}
	*v = int32(u)
	return nil
}

func (a *FileArchive) SerializeInt64(v *int64) error {
	var tmp [8]byte
	if a.loading {
		if err := a.SerializeRaw(tmp[:]); err != nil {
			return err
		}
		*v = int64(a.byteOrder.Uint64(tmp[:]))
		return nil
	}
	a.byteOrder.PutUint64(tmp[:], uint64(*v))
	return a.SerializeRaw(tmp[:])
}

func (a *FileArchive) SerializeCompressedSave(payload []byte, scheme CompressionScheme) (int64, error) {
	if scheme != CompressionZLIB {
		return 0, fmt.Errorf("archive: unsupported compression scheme %d", scheme)
	}

	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("archive: zlib compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("archive: zlib compress close: %w", err)
	}

	if err := a.SerializeRaw(compressed.Bytes()); err != nil {
		return 0, err
	}
	return int64(compressed.Len()), nil
}

func (a *FileArchive) SerializeCompressedLoad(dest []byte, sizeOnDisk int64, scheme CompressionScheme) error {
	if scheme != CompressionZLIB {
		return fmt.Errorf("archive: unsupported compression scheme %d", scheme)
	}

	compressed := make([]byte, sizeOnDisk)
	if err := a.SerializeRaw(compressed); err != nil {
		return err
	}

	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("archive: zlib reader: %w", err)
	}
	defer r.Close()

	if _, err := io.ReadFull(r, dest); err != nil {
		return fmt.Errorf("archive: zlib decompress: %w", err)
	}
	return nil
}

// Close closes the backing file after notifying attached instances, so a
// read-write lock that raced the close still observes detachment before
// the file handle disappears underneath it.
func (a *FileArchive) Close() error {
	a.closeAll()
	return a.file.Close()
}
