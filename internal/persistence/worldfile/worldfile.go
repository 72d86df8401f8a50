// Package worldfile reads and writes saved worlds (.wwld).
//
// Layout: "WWLD", uint16 LE version, then one zstd stream holding a JSON
// header line followed by W·H little-endian float32 heights and, when
// has_flow is set, W·H float32 flow values.
package worldfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"worldweaver.app/internal/sim/terrain"
)

const (
	Magic   = "WWLD"
	Version = 1
	Ext     = ".wwld"

	maxHeaderBytes = 64 * 1024
)

type Header struct {
	WorldID      string         `json:"world_id"`
	SavedAt      time.Time      `json:"saved_at"`
	Config       terrain.Config `json:"config"`
	HasFlow      bool           `json:"has_flow"`
	HeightDigest string         `json:"height_digest"`
}

type File struct {
	Header  Header
	Heights *terrain.Heightmap
	// Flow is optional cached hydrology, same length as Heights.Data.
	Flow []float32
}

// Save writes f to path atomically.
func Save(path string, f File) error {
	const op = "worldfile.save"
	if f.Heights == nil {
		return terrain.Validationf(op, "no heightmap")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return terrain.IOErr(op, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return terrain.IOErr(op, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := Write(tmp, f); err != nil {
		_ = tmp.Close()
		return terrain.IOErr(op, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return terrain.IOErr(op, err)
	}
	if err := tmp.Close(); err != nil {
		return terrain.IOErr(op, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return terrain.IOErr(op, err)
	}
	return nil
}

// Write encodes f. The header's size, digest and has_flow fields are filled from f.
func Write(w io.Writer, f File) error {
	return writeWithHeader(w, f, nil)
}

func writeWithHeader(w io.Writer, f File, patch func(*Header)) error {
	hm := f.Heights
	h := f.Header
	h.Config.WorldWidth, h.Config.WorldHeight = hm.W, hm.H
	h.HeightDigest = hm.Digest()
	h.HasFlow = len(f.Flow) == len(hm.Data) && len(f.Flow) > 0
	if patch != nil {
		patch(&h)
	}

	var pre [6]byte
	copy(pre[:4], Magic)
	binary.LittleEndian.PutUint16(pre[4:], Version)
	if _, err := w.Write(pre[:]); err != nil {
		return err
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(h)
	if err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		_ = enc.Close()
		return err
	}
	if err := writeFloats(bw, hm.Data); err != nil {
		_ = enc.Close()
		return err
	}
	if h.HasFlow {
		if err := writeFloats(bw, f.Flow); err != nil {
			_ = enc.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func writeFloats(w io.Writer, v []float32) error {
	buf := make([]byte, 4*4096)
	for len(v) > 0 {
		n := min(len(v), 4096)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v[i]))
		}
		if _, err := w.Write(buf[:4*n]); err != nil {
			return err
		}
		v = v[n:]
	}
	return nil
}

// Load reads and fully validates a world file.
func Load(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, terrain.IOErr("worldfile.load", err)
	}
	defer f.Close()
	return Read(f)
}

// ReadHeader decodes only the prefix and header line.
func ReadHeader(path string) (Header, error) {
	const op = "worldfile.header"
	f, err := os.Open(path)
	if err != nil {
		return Header{}, terrain.IOErr(op, err)
	}
	defer f.Close()
	dec, br, err := openStream(op, f)
	if err != nil {
		return Header{}, err
	}
	defer dec.Close()
	return readHeader(op, br)
}

func openStream(op string, r io.Reader) (*zstd.Decoder, *bufio.Reader, error) {
	var pre [6]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		return nil, nil, terrain.Formatf(op, "short prefix: %v", err)
	}
	if string(pre[:4]) != Magic {
		return nil, nil, terrain.Formatf(op, "bad magic %q", pre[:4])
	}
	if v := binary.LittleEndian.Uint16(pre[4:]); v != Version {
		return nil, nil, terrain.Formatf(op, "unsupported version %d", v)
	}
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, nil, terrain.FormatErr(op, err)
	}
	return dec, bufio.NewReaderSize(dec, 256*1024), nil
}

func readHeader(op string, br *bufio.Reader) (Header, error) {
	var h Header
	line, err := br.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return h, terrain.Formatf(op, "header line too long")
		}
		return h, terrain.Formatf(op, "read header: %v", err)
	}
	if len(line) > maxHeaderBytes {
		return h, terrain.Formatf(op, "header line too long")
	}
	if err := json.Unmarshal(bytes.TrimSpace(line), &h); err != nil {
		return h, terrain.Formatf(op, "decode header: %v", err)
	}
	if err := h.Config.Validate(0); err != nil {
		return h, terrain.Formatf(op, "invalid config: %v", err)
	}
	return h, nil
}

// Read decodes and validates a world file stream.
func Read(r io.Reader) (File, error) {
	const op = "worldfile.read"
	dec, br, err := openStream(op, r)
	if err != nil {
		return File{}, err
	}
	defer dec.Close()

	h, err := readHeader(op, br)
	if err != nil {
		return File{}, err
	}
	n := h.Config.WorldWidth * h.Config.WorldHeight
	hm := terrain.NewHeightmap(h.Config.WorldWidth, h.Config.WorldHeight)
	if err := readFloats(br, hm.Data); err != nil {
		return File{}, terrain.Formatf(op, "heights: %v", err)
	}
	for i, v := range hm.Data {
		if !(v >= 0 && v <= 1) {
			return File{}, terrain.Formatf(op, "height %v at texel %d outside [0,1]", v, i)
		}
	}
	if got := hm.Digest(); got != h.HeightDigest {
		return File{}, terrain.Formatf(op, "height digest mismatch: header %s, data %s", h.HeightDigest, got)
	}

	out := File{Header: h, Heights: hm}
	if h.HasFlow {
		out.Flow = make([]float32, n)
		if err := readFloats(br, out.Flow); err != nil {
			return File{}, terrain.Formatf(op, "flow: %v", err)
		}
	}
	var one [1]byte
	if m, err := br.Read(one[:]); m > 0 {
		return File{}, terrain.Formatf(op, "trailing data after payload")
	} else if err != nil && !errors.Is(err, io.EOF) {
		return File{}, terrain.FormatErr(op, err)
	}
	return out, nil
}

func readFloats(r io.Reader, dst []float32) error {
	buf := make([]byte, 4*4096)
	for len(dst) > 0 {
		n := min(len(dst), 4096)
		if _, err := io.ReadFull(r, buf[:4*n]); err != nil {
			return fmt.Errorf("short payload: %w", err)
		}
		for i := 0; i < n; i++ {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
		}
		dst = dst[n:]
	}
	return nil
}
