package cache

import (
	"io"
	"os"

	"github.com/opendj/engine/internal/models"
	"lukechampine.com/blake3"
)

// fingerprintReadBytes bounds the hashed prefix per spec §3's exact
// fingerprint definition: blake3 of the first 64KiB, plus size and mtime.
const fingerprintReadBytes = 64 * 1024

// Fingerprint computes the cache-validity fingerprint of path: a blake3
// hash of its first 64KiB, its size, and its modification time. A
// filesystem that cannot report a modification time (e.g. some network
// mounts) yields LastModified == 0, which forces every lookup to miss
// (spec §9 Open Question resolution).
func Fingerprint(path string) (models.Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Fingerprint{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.Fingerprint{}, err
	}

	h := blake3.New()
	if _, err := io.CopyN(h, f, fingerprintReadBytes); err != nil && err != io.EOF {
		return models.Fingerprint{}, err
	}

	var lastModified int64
	if mt := info.ModTime(); !mt.IsZero() {
		lastModified = mt.Unix()
	}

	return models.Fingerprint{
		ContentHash:  hexDigest(h),
		FileSize:     info.Size(),
		LastModified: lastModified,
	}, nil
}

func hexDigest(h *blake3.Hasher) string {
	sum := h.Sum(nil)
	const hextable = "0123456789abcdef"
	out := make([]byte, len(sum)*2)
	for i, b := range sum {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}
