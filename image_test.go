package plthook

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeImageFile stores a module built by ti in a file, laid out for bias 0.
func writeImageFile(t *testing.T, ti testImage, mangle func(data []byte)) string {
	t.Helper()
	data := make([]byte, imgSize)
	ti.write(t, data, 0)
	if mangle != nil {
		mangle(data)
	}
	path := filepath.Join(t.TempDir(), "libfake.so.1")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadImage_Synthetic(t *testing.T) {
	assert := assert.New(t)
	symbols := []string{"puts", "atoi", "free"}
	path := writeImageFile(t, testImage{symbols: symbols}, nil)

	img, err := LoadImage(path)
	require.NoError(t, err)
	assert.Zero(img.Region.Base)
	assert.Equal(uint64(imgDynamic), img.Dynamic)

	info, err := img.Open(WithLogger(nil))
	require.NoError(t, err)
	assert.Equal(path, info.Module)

	slots, err := info.Slots()
	require.NoError(t, err)
	require.Len(t, slots, len(symbols))
	for i, slot := range slots {
		assert.Equal(symbols[i], slot.Symbol)
		assert.Equal(gotCell(0, i), slot.Cell)
		assert.Equal(originalTarget(i), slot.Target)
	}

	// Only the in-memory copy changes.
	require.NoError(t, info.Replace("atoi", hookAddr))
	assert.Equal(uint64(hookAddr), cellValue(img.Region, gotCell(0, 1)))
	again, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(originalTarget(1), cellValue(again.Region, gotCell(0, 1)))
}

func TestLoadImage_Errors(t *testing.T) {
	loadMemsz := elfHeaderSize + 40

	tests := []struct {
		name   string
		mangle func(data []byte)
		want   Status
	}{
		{"not ELF", func(data []byte) { copy(data, "#!/bin/sh\n") }, OpenError},
		{"huge segment", func(data []byte) { byteOrder.PutUint64(data[loadMemsz:], 1<<40) }, IntrospectionError},
		{"wrapping segment", func(data []byte) { byteOrder.PutUint64(data[loadMemsz:], ^uint64(0)) }, IntrospectionError},
		{"no PT_DYNAMIC", func(data []byte) { byteOrder.PutUint16(data[56:], 1) }, IntrospectionError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeImageFile(t, testImage{symbols: []string{"atoi"}}, tt.mangle)
			var err error
			require.NotPanics(t, func() {
				_, err = LoadImage(path)
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := LoadImage(filepath.Join(t.TempDir(), "missing.so"))
	assert.ErrorIs(t, err, OpenError)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
