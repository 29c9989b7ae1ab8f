package archive

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// archives returns one fresh save-mode Archive of each concrete
// implementation, paired with a loader that reopens the same bytes for
// reading back. Every contract test below runs against both.
func archives(t *testing.T) map[string]struct {
	save Archive
	load func() Archive
} {
	t.Helper()

	dir := t.TempDir()

	mem := NewMemory()
	file, err := OpenForSave(FileConfig{Path: filepath.Join(dir, "payload.bulk")})
	require.NoError(t, err)

	return map[string]struct {
		save Archive
		load func() Archive
	}{
		"Memory": {
			save: mem,
			load: func() Archive { return NewMemoryFrom(mem.Bytes()) },
		},
		"FileArchive": {
			save: file,
			load: func() Archive {
				require.NoError(t, file.Close())
				loaded, err := OpenForLoad(file.path, false)
				require.NoError(t, err)
				return loaded
			},
		},
	}
}

func TestSerializeRawRoundTrip(t *testing.T) {
	for name, set := range archives(t) {
		t.Run(name, func(t *testing.T) {
			want := []byte("the quick brown fox")
			require.NoError(t, set.save.SerializeRaw(want))

			loaded := set.load()
			got := make([]byte, len(want))
			require.NoError(t, loaded.SerializeRaw(got))
			assert.Equal(t, want, got)
			assert.True(t, loaded.IsLoading())
			assert.False(t, loaded.IsSaving())
		})
	}
}

func TestSerializeUint32RoundTrip(t *testing.T) {
	for name, set := range archives(t) {
		t.Run(name, func(t *testing.T) {
			want := uint32(0xDEADBEEF)
			require.NoError(t, set.save.SerializeUint32(&want))

			loaded := set.load()
			var got uint32
			require.NoError(t, loaded.SerializeUint32(&got))
			assert.Equal(t, want, got)
		})
	}
}

func TestSerializeInt64RoundTrip(t *testing.T) {
	for name, set := range archives(t) {
		t.Run(name, func(t *testing.T) {
			want := int64(-12345)
			require.NoError(t, set.save.SerializeInt64(&want))

			loaded := set.load()
			var got int64
			require.NoError(t, loaded.SerializeInt64(&got))
			assert.Equal(t, want, got)
		})
	}
}

func TestSerializeCompressedRoundTrip(t *testing.T) {
	for name, set := range archives(t) {
		t.Run(name, func(t *testing.T) {
			payload := make([]byte, 4096)
			for i := range payload {
				payload[i] = byte(i % 251)
			}

			sizeOnDisk, err := set.save.SerializeCompressedSave(payload, CompressionZLIB)
			require.NoError(t, err)
			assert.Less(t, sizeOnDisk, int64(len(payload)))

			loaded := set.load()
			dest := make([]byte, len(payload))
			require.NoError(t, loaded.SerializeCompressedLoad(dest, sizeOnDisk, CompressionZLIB))
			assert.Equal(t, payload, dest)
		})
	}
}

func TestMemoryReadPastEndFails(t *testing.T) {
	m := NewMemoryFrom([]byte{1, 2, 3})
	buf := make([]byte, 8)
	err := m.SerializeRaw(buf)
	require.Error(t, err)
}

func TestSeekTell(t *testing.T) {
	for name, set := range archives(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, set.save.SerializeRaw([]byte("0123456789")))

			require.NoError(t, set.save.Seek(3))
			pos, err := set.save.Tell()
			require.NoError(t, err)
			assert.EqualValues(t, 3, pos)
		})
	}
}

type recordingAttachable struct {
	detached bool
}

func (r *recordingAttachable) OnArchiveDetaching() { r.detached = true }

func TestCloseNotifiesAttached(t *testing.T) {
	for name, set := range archives(t) {
		t.Run(name, func(t *testing.T) {
			a := &recordingAttachable{}
			set.save.Attach(a)
			require.NoError(t, set.save.Close())
			assert.True(t, a.detached)
		})
	}
}

func TestDetachSuppressesNotification(t *testing.T) {
	for name, set := range archives(t) {
		t.Run(name, func(t *testing.T) {
			a := &recordingAttachable{}
			set.save.Attach(a)
			set.save.Detach(a)
			require.NoError(t, set.save.Close())
			assert.False(t, a.detached)
		})
	}
}

func TestOpenForLoadSilentOnMissing(t *testing.T) {
	dir := t.TempDir()
	a, err := OpenForLoad(filepath.Join(dir, "missing.bulk"), true)
	require.NoError(t, err)
	assert.Nil(t, a)

	_, err = OpenForLoad(filepath.Join(dir, "missing.bulk"), false)
	require.Error(t, err)
}
