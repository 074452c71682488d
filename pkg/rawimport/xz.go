package rawimport

import (
	"bytes"
	"io"

	"github.com/ulikunitz/xz"
)

// xzSignature is the 6-byte magic that identifies an XZ stream, checked
// against the sniff buffer exactly as spec.md §4.2 "Detect" describes.
var xzSignature = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}

var sniffLen = len(xzSignature)

// isXZStream reports whether payload begins with the XZ signature. It
// only returns a meaningful answer once len(payload) >= sniffLen; callers
// must accumulate at least that many bytes first.
func isXZStream(payload []byte) bool {
	return bytes.Equal(payload[:sniffLen], xzSignature)
}

// decompressingReader returns a reader producing the uncompressed byte
// stream for a download: src is passed straight through if the stream
// isn't XZ, or wrapped in a streaming XZ decoder otherwise (unlimited
// dictionary size, tolerant of unknown integrity-check types — the
// "LZMA_TELL_UNSUPPORTED_CHECK" behavior from the reference
// implementation's lzma_stream_decoder call).
func decompressingReader(src io.Reader, compressed bool) (io.Reader, error) {
	if !compressed {
		return src, nil
	}
	r, err := xz.NewReader(src)
	if err != nil {
		return nil, err
	}
	return r, nil
}
