package decoder

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

// subbank builds a data bank of 32-bit words.
func subbank(bank uint32, data ...uint32) []uint32 {
	words := []uint32{uint32(len(data) + 1), bank<<16 | 0x01<<8}
	return append(words, data...)
}

// rocBank wraps sub-banks in a ROC container bank.
func rocBank(roc uint32, subbanks ...[]uint32) []uint32 {
	words := []uint32{0, roc<<16 | containerBankType<<8}
	for _, sb := range subbanks {
		words = append(words, sb...)
	}
	words[0] = uint32(len(words) - 1)
	return words
}

// physicsRecord builds a CODA 2 physics event with its event ID bank.
func physicsRecord(eventType, number uint32, rocs ...[]uint32) []uint32 {
	words := []uint32{0, eventType<<16 | containerBankType<<8 | codaEventBank, 4, 0xC000<<16 | 0x01<<8, number, 0, 0}
	for _, roc := range rocs {
		words = append(words, roc...)
	}
	words[0] = uint32(len(words) - 1)
	return words
}

func controlRecord(eventType uint32, time, second, third uint32) []uint32 {
	return []uint32{4, eventType<<16 | 0x01<<8 | codaEventBank, time, second, third}
}

func encodeRecords(t *testing.T, records ...[]uint32) []byte {
	t.Helper()
	var buffer bytes.Buffer
	for _, record := range records {
		require.NoError(t, EncodeRecord(&buffer, record))
	}
	return buffer.Bytes()
}

func writeRecords(t *testing.T, path string, records ...[]uint32) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, encodeRecords(t, records...), 0o644))
}

func writeGzipRecords(t *testing.T, path string, records ...[]uint32) {
	t.Helper()
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()
	writer := gzip.NewWriter(file)
	_, err = writer.Write(encodeRecords(t, records...))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
}

func writeTextFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
