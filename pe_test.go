package mfc

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPEHelloWorldReturnZero(t *testing.T) {
	text := []byte{0x55, 0x48, 0x89, 0xE5, 0xB8, 0, 0, 0, 0, 0x5D, 0xC3}
	img, err := BuildPE(text, nil, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, byte('M'), img[0])
	assert.Equal(t, byte('Z'), img[1])

	lfanew := binary.LittleEndian.Uint32(img[0x3C:0x40])
	assert.Equal(t, []byte{'P', 'E', 0, 0}, img[lfanew:lfanew+4])

	optStart := lfanew + 4 + 20
	entryRVAGot := binary.LittleEndian.Uint32(img[optStart+16 : optStart+20])
	assert.Equal(t, uint32(0x1000), entryRVAGot)

	textRawOff := align(uint32(dosStubSize+peHeaderSize(1)), fileAlign)
	assert.Equal(t, text[:4], img[textRawOff:textRawOff+4])
}

func TestBuildPEImportDirectory(t *testing.T) {
	text := make([]byte, 8)
	text[0], text[1] = 0xFF, 0x15 // call [rip+disp32] at offset 0
	imports := &ImportTable{
		DLLs:    []string{"kernel32.dll", "msvcrt.dll"},
		Symbols: map[string][]string{"kernel32.dll": {"ExitProcess"}, "msvcrt.dll": {"printf"}},
	}
	fixups := []TextImportFixup{{Offset: 2, Symbol: "ExitProcess"}}

	img, err := BuildPE(text, nil, imports, fixups)
	require.NoError(t, err)

	lfanew := binary.LittleEndian.Uint32(img[0x3C:0x40])
	optStart := lfanew + 4 + 20
	importDirRVA := binary.LittleEndian.Uint32(img[optStart+120 : optStart+124])
	importDirSize := binary.LittleEndian.Uint32(img[optStart+124 : optStart+128])
	assert.NotZero(t, importDirRVA)
	assert.NotZero(t, importDirSize)

	// No .data section, so .idata (and the import directory) starts
	// at the RVA right after .text.
	idataRVA := DataSectionRVA(len(text))
	assert.Equal(t, idataRVA, importDirRVA)
}

func TestBuildPEUnresolvedImportFails(t *testing.T) {
	text := make([]byte, 8)
	imports := &ImportTable{DLLs: []string{"kernel32.dll"}, Symbols: map[string][]string{"kernel32.dll": {"ExitProcess"}}}
	_, err := BuildPE(text, nil, imports, []TextImportFixup{{Offset: 0, Symbol: "printf"}})
	assert.Error(t, err)
}
