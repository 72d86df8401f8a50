package worldfile

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"worldweaver.app/internal/sim/terrain"
)

func sample(w, h int) File {
	hm := terrain.NewHeightmap(w, h)
	for i := range hm.Data {
		hm.Data[i] = float32(i%97) / 96
	}
	cfg := terrain.DefaultConfig()
	cfg.Seed = 7
	return File{
		Header:  Header{WorldID: "w-1", SavedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), Config: cfg},
		Heights: hm,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worlds", "a"+Ext)
	in := sample(33, 17)
	in.Flow = make([]float32, 33*17)
	for i := range in.Flow {
		in.Flow[i] = float32(i) / float32(len(in.Flow))
	}
	if err := Save(path, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !out.Heights.Equal(in.Heights) {
		t.Fatalf("heights did not round-trip bit-exactly")
	}
	if out.Header.Config.WorldWidth != 33 || out.Header.Config.WorldHeight != 17 || out.Header.Config.Seed != 7 {
		t.Fatalf("config: %+v", out.Header.Config)
	}
	if !out.Header.HasFlow || len(out.Flow) != len(in.Flow) || out.Flow[100] != in.Flow[100] {
		t.Fatalf("flow did not round-trip")
	}
	if out.Header.WorldID != "w-1" || !out.Header.SavedAt.Equal(in.Header.SavedAt) {
		t.Fatalf("header: %+v", out.Header)
	}

	h, err := ReadHeader(path)
	if err != nil || h.HeightDigest != in.Heights.Digest() {
		t.Fatalf("ReadHeader: %+v %v", h, err)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestRoundTripWithoutFlow(t *testing.T) {
	var buf bytes.Buffer
	in := sample(8, 8)
	if err := Write(&buf, in); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if out.Header.HasFlow || out.Flow != nil {
		t.Fatalf("unexpected flow")
	}
}

func encode(t *testing.T, f File) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(&buf, f); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return buf.Bytes()
}

func TestReadRejectsCorruptFiles(t *testing.T) {
	good := encode(t, sample(16, 16))

	badMagic := append([]byte("XXXX"), good[4:]...)
	badVersion := append([]byte(nil), good...)
	badVersion[4] = 9
	truncated := good[:len(good)/2]
	garbage := append(append([]byte(nil), good[:6]...), []byte("not zstd at all")...)

	outOfRange := sample(16, 16)
	outOfRange.Heights.Data[3] = 1.5
	badConfig := sample(16, 16)
	badConfig.Header.Config.SeaLevel = 2

	cases := map[string][]byte{
		"empty":        nil,
		"bad magic":    badMagic,
		"bad version":  badVersion,
		"truncated":    truncated,
		"garbage":      garbage,
		"out of range": encode(t, outOfRange),
		"bad config":   encode(t, badConfig),
	}
	for name, data := range cases {
		_, err := Read(bytes.NewReader(data))
		if !errors.Is(err, terrain.ErrFormat) {
			t.Fatalf("%s: expected format error, got %v", name, err)
		}
	}
}

func TestReadRejectsDigestMismatch(t *testing.T) {
	f := sample(16, 16)
	data := encode(t, f)
	// Re-encode with a lying digest by writing a different heightmap under the same header.
	other := sample(16, 16)
	other.Heights.Data[0] = 0.123
	var buf bytes.Buffer
	if err := Write(&buf, other); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := Read(bytes.NewReader(data)); err != nil {
		t.Fatalf("untouched file should load: %v", err)
	}
	tampered := tamperDigest(t, buf.Bytes(), f.Heights.Digest())
	if _, err := Read(bytes.NewReader(tampered)); !errors.Is(err, terrain.ErrFormat) {
		t.Fatalf("expected format error on digest mismatch, got %v", err)
	}
}

// tamperDigest rewrites the header's height_digest inside an encoded file.
func tamperDigest(t *testing.T, data []byte, digest string) []byte {
	t.Helper()
	f, err := Read(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var buf bytes.Buffer
	if err := writeWithHeader(&buf, f, func(h *Header) { h.HeightDigest = digest }); err != nil {
		t.Fatalf("writeWithHeader: %v", err)
	}
	return buf.Bytes()
}

func TestLoadMissingFileIsIOError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"+Ext))
	if !errors.Is(err, terrain.ErrIO) {
		t.Fatalf("expected IO error, got %v", err)
	}
}

func TestSaveIntoFileAsDirIsIOError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	err := Save(filepath.Join(blocker, "w"+Ext), sample(4, 4))
	if !errors.Is(err, terrain.ErrIO) {
		t.Fatalf("expected IO error, got %v", err)
	}
}
