// Package undo keeps a bounded history of terrain edits as compressed
// copy-on-write tiles.
package undo

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/klauspost/compress/zstd"

	"worldweaver.app/internal/sim/terrain"
)

const (
	DefaultDepth    = 50
	DefaultTileSize = 32
)

// Source reads texels in row-major order over r.
type Source interface {
	ReadRect(ctx context.Context, r terrain.Rect) ([]float32, error)
}

// Sink writes texels in row-major order over r.
type Sink interface {
	WriteRect(ctx context.Context, r terrain.Rect, data []float32) error
}

var (
	enc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	dec, _ = zstd.NewReader(nil)
)

type tile struct {
	rect terrain.Rect
	blob []byte
}

// Entry is one undoable operation.
type Entry struct {
	Label string
	tiles []tile
}

// Bounds is the union of all tiles in the entry.
func (e *Entry) Bounds() terrain.Rect {
	var r terrain.Rect
	for _, t := range e.tiles {
		r = r.Union(t.rect)
	}
	return r
}

// Size is the compressed footprint in bytes.
func (e *Entry) Size() int {
	n := 0
	for _, t := range e.tiles {
		n += len(t.blob)
	}
	return n
}

type stroke struct {
	label string
	tiles map[int][]float32
	rects map[int]terrain.Rect
}

// Stack is not safe for concurrent use; the world loop owns it.
type Stack struct {
	depth    int
	tileSize int
	w, h     int

	entries []*Entry
	open    *stroke
}

func New(depth, tileSize int) *Stack {
	if depth <= 0 {
		depth = DefaultDepth
	}
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	return &Stack{depth: depth, tileSize: tileSize}
}

// Reset clears history and sizes the tile grid for a w×h world.
func (s *Stack) Reset(w, h int) {
	s.Clear()
	s.w, s.h = w, h
}

func (s *Stack) Clear() {
	s.entries = nil
	s.open = nil
}

func (s *Stack) Len() int       { return len(s.entries) }
func (s *Stack) InStroke() bool { return s.open != nil }

// BeginStroke opens a new entry. An already open stroke is discarded.
func (s *Stack) BeginStroke(label string) {
	s.open = &stroke{label: label, tiles: map[int][]float32{}, rects: map[int]terrain.Rect{}}
}

// Abort drops the open stroke without pushing it.
func (s *Stack) Abort() { s.open = nil }

// Capture saves every tile overlapping r that this stroke has not saved yet.
// It must run before the texels in r are modified.
func (s *Stack) Capture(ctx context.Context, src Source, r terrain.Rect) error {
	if s.open == nil {
		return fmt.Errorf("undo: capture outside a stroke")
	}
	r = r.Intersect(terrain.Rect{X1: s.w, Y1: s.h})
	if r.Empty() {
		return nil
	}
	ts := s.tileSize
	cols := (s.w + ts - 1) / ts
	for ty := r.Y0 / ts; ty <= (r.Y1-1)/ts; ty++ {
		for tx := r.X0 / ts; tx <= (r.X1-1)/ts; tx++ {
			key := tx + ty*cols
			if _, ok := s.open.tiles[key]; ok {
				continue
			}
			tr := terrain.Rect{X0: tx * ts, Y0: ty * ts, X1: min((tx+1)*ts, s.w), Y1: min((ty+1)*ts, s.h)}
			data, err := src.ReadRect(ctx, tr)
			if err != nil {
				return err
			}
			s.open.tiles[key] = data
			s.open.rects[key] = tr
		}
	}
	return nil
}

// Commit compresses and pushes the open stroke. Strokes that captured
// nothing are dropped and report false.
func (s *Stack) Commit() (*Entry, bool) {
	st := s.open
	s.open = nil
	if st == nil || len(st.tiles) == 0 {
		return nil, false
	}
	keys := make([]int, 0, len(st.tiles))
	for k := range st.tiles {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	e := &Entry{Label: st.label, tiles: make([]tile, 0, len(keys))}
	for _, k := range keys {
		e.tiles = append(e.tiles, tile{rect: st.rects[k], blob: enc.EncodeAll(encodeFloats(st.tiles[k]), nil)})
	}
	s.entries = append(s.entries, e)
	if over := len(s.entries) - s.depth; over > 0 {
		copy(s.entries, s.entries[over:])
		for i := len(s.entries) - over; i < len(s.entries); i++ {
			s.entries[i] = nil
		}
		s.entries = s.entries[:len(s.entries)-over]
	}
	return e, true
}

// Undo pops the newest entry and writes its tiles back to dst.
// ok is false when there was nothing to undo.
//
// Every tile is decoded before anything is written, so a corrupt entry leaves
// dst untouched. If a write fails partway, dst holds a mix of restored and
// edited tiles and the entry stays on the stack; tiles are absolute values,
// so calling Undo again finishes the restore.
func (s *Stack) Undo(ctx context.Context, dst Sink) (e *Entry, ok bool, err error) {
	if len(s.entries) == 0 {
		return nil, false, nil
	}
	e = s.entries[len(s.entries)-1]
	decoded := make([][]float32, len(e.tiles))
	for i, t := range e.tiles {
		raw, err := dec.DecodeAll(t.blob, nil)
		if err != nil {
			return nil, false, fmt.Errorf("undo: decode tile %+v: %w", t.rect, err)
		}
		data := decodeFloats(raw)
		if len(data) != t.rect.Dx()*t.rect.Dy() {
			return nil, false, fmt.Errorf("undo: tile %+v has %d texels", t.rect, len(data))
		}
		decoded[i] = data
	}
	for i, t := range e.tiles {
		if err := dst.WriteRect(ctx, t.rect, decoded[i]); err != nil {
			return nil, false, err
		}
	}
	s.entries[len(s.entries)-1] = nil
	s.entries = s.entries[:len(s.entries)-1]
	return e, true, nil
}

func encodeFloats(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

func decodeFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}
