// Package sniff inspects media file headers. The encrypted payloads have
// their leading bytes XOR-masked, so a decrypted file should open with a
// recognizable container signature and an encrypted one should not.
package sniff

import (
	"bytes"
	"os"
)

const (
	// HeaderLen is how many leading bytes Head reads.
	HeaderLen = 12

	// ContainerMP4 is an ISO BMFF (ftyp) file.
	ContainerMP4 = "mp4"
	// ContainerWebM is an EBML (Matroska/WebM) file.
	ContainerWebM = "webm"
	// ContainerUnknown means no known signature matched.
	ContainerUnknown = "unknown"
)

var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

// Container classifies a file header.
func Container(head []byte) string {
	switch {
	case len(head) >= 8 && bytes.Equal(head[4:8], []byte("ftyp")):
		return ContainerMP4
	case len(head) >= 4 && bytes.Equal(head[:4], ebmlMagic):
		return ContainerWebM
	default:
		return ContainerUnknown
	}
}

// Head reads the leading bytes of a file. Short files return what is there.
func Head(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, HeaderLen)
	n, err := f.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	return nil, err
}

// File classifies a file on disk.
func File(path string) (string, error) {
	head, err := Head(path)
	if err != nil {
		return ContainerUnknown, err
	}
	return Container(head), nil
}
