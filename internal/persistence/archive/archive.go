// Package archive keeps earlier versions of world files that a save overwrites.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"worldweaver.app/internal/persistence/worldfile"
)

const stampLayout = "20060102T150405.000000000Z"

type Meta struct {
	WorldID    string    `json:"world_id"`
	Source     string    `json:"source"`
	SavedAt    time.Time `json:"saved_at"`
	ArchivedAt time.Time `json:"archived_at"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Seed       uint64    `json:"seed"`
	Digest     string    `json:"height_digest,omitempty"`
}

// Entry is one archived version.
type Entry struct {
	Path string
	Meta Meta
}

// Dir is where versions of the world file named name are kept.
func Dir(dataDir, name string) string {
	name = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	return filepath.Join(dataDir, "archives", name)
}

// Previous copies the world file at path, if one exists, into
// Dir(dataDir, path) and prunes that directory to the newest keep versions.
// It returns the archived path, or "" when there was nothing to keep.
func Previous(dataDir, path string, keep int) (string, error) {
	if keep <= 0 {
		return "", nil
	}
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	if st.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	hdr, err := worldfile.ReadHeader(path)
	if err != nil {
		return "", err
	}

	dir := Dir(dataDir, path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	savedAt := hdr.SavedAt
	if savedAt.IsZero() {
		savedAt = st.ModTime()
	}
	dst := filepath.Join(dir, savedAt.UTC().Format(stampLayout)+worldfile.Ext)
	if err := copyFile(path, dst); err != nil {
		return "", err
	}

	meta := Meta{
		WorldID:    hdr.WorldID,
		Source:     path,
		SavedAt:    savedAt.UTC(),
		ArchivedAt: time.Now().UTC(),
		Width:      hdr.Config.WorldWidth,
		Height:     hdr.Config.WorldHeight,
		Seed:       hdr.Config.Seed,
		Digest:     hdr.HeightDigest,
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(dst+".json", b, 0o644)
	}
	return dst, prune(dir, keep)
}

// List returns archived versions of name, newest first.
func List(dataDir, name string) ([]Entry, error) {
	dir := Dir(dataDir, name)
	paths, err := versions(dir)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(paths))
	for i := len(paths) - 1; i >= 0; i-- {
		e := Entry{Path: paths[i]}
		if b, err := os.ReadFile(paths[i] + ".json"); err == nil {
			_ = json.Unmarshal(b, &e.Meta)
		}
		out = append(out, e)
	}
	return out, nil
}

// versions lists archived world files in dir, oldest first.
func versions(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if !e.IsDir() && strings.HasSuffix(e.Name(), worldfile.Ext) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func prune(dir string, keep int) error {
	paths, err := versions(dir)
	if err != nil {
		return err
	}
	for len(paths) > keep {
		if err := os.Remove(paths[0]); err != nil {
			return err
		}
		_ = os.Remove(paths[0] + ".json")
		paths = paths[1:]
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
