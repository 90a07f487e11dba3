package cache

import (
	"encoding/json"
	"os"

	"github.com/opendj/engine/internal/models"
)

// indexVersion is written into every index.json; a mismatch on load means
// the cache is treated as empty but the stale file is left on disk for
// inspection, per spec §6.
const indexVersion = 1

const indexFileName = "index.json"

func indexPath(dir string) string {
	return dir + string(os.PathSeparator) + indexFileName
}

// loadIndex reads index.json from dir. A missing file, a version
// mismatch, or a parse error all yield a fresh empty index rather than an
// error — the index is a rebuildable cache over the entry files, not a
// source of truth.
func loadIndex(dir string) models.CacheIndex {
	empty := models.CacheIndex{Version: indexVersion, Entries: map[string]string{}}

	data, err := os.ReadFile(indexPath(dir))
	if err != nil {
		return empty
	}
	var idx models.CacheIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return empty
	}
	if idx.Version != indexVersion {
		return empty
	}
	if idx.Entries == nil {
		idx.Entries = map[string]string{}
	}
	return idx
}

// saveIndex persists idx atomically via a temp-file-then-rename, matching
// store's write discipline for entry files.
func saveIndex(dir string, idx models.CacheIndex) error {
	idx.Version = indexVersion
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(indexPath(dir), data)
}

// atomicWriteFile writes data to a temp file in the same directory as
// path, syncs it, then renames over path — so a crash mid-write never
// leaves a half-written file visible under the real name.
func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
