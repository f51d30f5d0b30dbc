// Package pe implements the structural Portable Executable shape check used
// as the first stage of the trust pipeline. It verifies the DOS magic and the
// PE signature only; payload integrity is not inspected.
package pe

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
)

const peOffsetField = 0x3C

var (
	dosMagic    = []byte("MZ")
	peSignature = []byte("PE\x00\x00")
)

// IsValid reports whether r has the MZ magic and a PE signature at the
// offset stored at 0x3C. Short reads and I/O errors yield false.
func IsValid(r io.ReaderAt) bool {
	if r == nil {
		return false
	}

	magic := make([]byte, len(dosMagic))
	if !readFull(r, magic, 0) || !bytes.Equal(magic, dosMagic) {
		return false
	}

	var field [4]byte
	if !readFull(r, field[:], peOffsetField) {
		return false
	}
	offset := binary.LittleEndian.Uint32(field[:])

	sig := make([]byte, len(peSignature))
	if !readFull(r, sig, int64(offset)) {
		return false
	}
	return bytes.Equal(sig, peSignature)
}

// IsValidBytes runs IsValid over an in-memory buffer.
func IsValidBytes(buf []byte) bool {
	return IsValid(bytes.NewReader(buf))
}

// IsValidFile opens path and runs IsValid. A missing or unreadable file is invalid.
func IsValidFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	return IsValid(f)
}

func readFull(r io.ReaderAt, buf []byte, off int64) bool {
	n, _ := r.ReadAt(buf, off)
	return n == len(buf)
}
