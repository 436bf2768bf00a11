package mfc

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileReturnZeroProducesValidPE(t *testing.T) {
	image, diags, err := Compile("main.mf", []byte(`
fn main() -> i32 {
  return 0;
}
`), DefaultConfig())
	require.NoError(t, err)
	require.False(t, diags.HasErrors())
	require.NotEmpty(t, image)

	assert.Equal(t, byte('M'), image[0])
	assert.Equal(t, byte('Z'), image[1])

	lfanew := binary.LittleEndian.Uint32(image[0x3C:0x40])
	assert.Equal(t, []byte{'P', 'E', 0, 0}, image[lfanew:lfanew+4])

	optStart := lfanew + 4 + 20
	entryRVAGot := binary.LittleEndian.Uint32(image[optStart+16 : optStart+20])
	assert.Equal(t, uint32(entryRVA), entryRVAGot)

	textRawOff := align(uint32(dosStubSize+peHeaderSize(1)), fileAlign)
	assert.Equal(t, []byte{0x55, 0x48, 0x89, 0xE5}, image[textRawOff:textRawOff+4],
		".text must open with the synthetic entry stub's prologue, not main's own")
}

func TestCompileHelloWorldPopulatesImportDirectory(t *testing.T) {
	image, diags, err := Compile("main.mf", []byte(`
fn main() -> i32 {
  printf("hello");
  return 0;
}
`), DefaultConfig())
	require.NoError(t, err)
	require.False(t, diags.HasErrors())

	lfanew := binary.LittleEndian.Uint32(image[0x3C:0x40])
	optStart := lfanew + 4 + 20
	importDirRVA := binary.LittleEndian.Uint32(image[optStart+120 : optStart+124])
	importDirSize := binary.LittleEndian.Uint32(image[optStart+124 : optStart+128])
	assert.NotZero(t, importDirRVA, "a call to printf must populate the import data directory")
	assert.NotZero(t, importDirSize)
}

func TestCompileEmptySourceFailsWithNoEntryPoint(t *testing.T) {
	_, _, err := Compile("empty.mf", []byte(""), DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E-PARSE-001")
}

func TestCompileMissingMainFailsWithNoEntryPoint(t *testing.T) {
	_, _, err := Compile("main.mf", []byte(`
fn helper() -> i32 { return 1; }
`), DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E-IR-004")
}

func TestCompileZeroOptimizeSkipsOptimizer(t *testing.T) {
	image, _, err := Compile("main.mf", []byte(`
fn main() -> i32 {
  return 2 + 3;
}
`), CompilerConfig{Optimize: 0})
	require.NoError(t, err)
	assert.NotEmpty(t, image)
}
