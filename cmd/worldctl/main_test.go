package main

import (
	"bytes"
	"encoding/json"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"worldweaver.app/internal/sim/terrain"
)

func TestGenerateInfoRender(t *testing.T) {
	dir := t.TempDir()
	world := filepath.Join(dir, "isle.wwld")

	var out bytes.Buffer
	if err := generateCmd([]string{"-out", world, "-width", "128", "-height", "96", "-seed", "9", "-octaves", "3"}, &out); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(out.String(), "128x96 seed=9") {
		t.Fatalf("generate output=%q", out.String())
	}

	out.Reset()
	if err := infoCmd([]string{"-json", world}, &out); err != nil {
		t.Fatalf("info: %v", err)
	}
	var info struct {
		Header struct {
			HasFlow bool `json:"has_flow"`
			Config  struct {
				WorldWidth int `json:"worldWidth"`
			} `json:"config"`
		} `json:"header"`
		Digest string `json:"digest"`
	}
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("info json: %v\n%s", err, out.String())
	}
	if info.Header.Config.WorldWidth != 128 || !info.Header.HasFlow || info.Digest == "" {
		t.Fatalf("info=%+v", info)
	}

	out.Reset()
	pngPath := filepath.Join(dir, "isle.png")
	if err := renderCmd([]string{"-out", pngPath, "-thumb", "48", world}, &out); err != nil {
		t.Fatalf("render: %v", err)
	}
	f, err := os.Open(pngPath)
	if err != nil {
		t.Fatalf("open png: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() > 48 || b.Dy() > 48 {
		t.Fatalf("bounds=%v", b)
	}
}

func TestVolcanoesChangeDigest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.wwld")
	dst := filepath.Join(dir, "b.wwld")
	var out bytes.Buffer
	if err := generateCmd([]string{"-out", src, "-width", "128", "-height", "128", "-octaves", "3"}, &out); err != nil {
		t.Fatalf("generate: %v", err)
	}
	out.Reset()
	if err := volcanoesCmd([]string{"-count", "2", "-radius", "16", "-out", dst, src}, &out); err != nil {
		t.Fatalf("volcanoes: %v", err)
	}
	if got := strings.Count(out.String(), "volcano at"); got != 2 {
		t.Fatalf("output=%q", out.String())
	}

	digest := func(p string) string {
		var b bytes.Buffer
		if err := infoCmd([]string{"-json", p}, &b); err != nil {
			t.Fatalf("info %s: %v", p, err)
		}
		var v struct {
			Digest string `json:"digest"`
		}
		_ = json.Unmarshal(b.Bytes(), &v)
		return v.Digest
	}
	if digest(src) == digest(dst) {
		t.Fatalf("volcanoes left the heightmap unchanged")
	}
}

func TestUsageErrorsAreValidation(t *testing.T) {
	var out bytes.Buffer
	if err := infoCmd(nil, &out); terrain.KindOf(err) != terrain.KindValidation {
		t.Fatalf("info without file: %v", err)
	}
	if err := journalCmd([]string{"-data", t.TempDir()}, &out); terrain.KindOf(err) != terrain.KindValidation {
		t.Fatalf("journal on empty dir: %v", err)
	}
	if err := generateCmd([]string{"-sea_level", "1.5", "-out", filepath.Join(t.TempDir(), "x.wwld")}, &out); terrain.KindOf(err) != terrain.KindValidation {
		t.Fatalf("bad sea level: %v", err)
	}
}
