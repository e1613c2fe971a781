package memory

import (
	"container/heap"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// indexMagic prefixes the flat index file.
var indexMagic = [4]byte{'K', 'I', 'A', 'V'}

const indexHeaderSize = 12

// flatIndex holds all vectors contiguously, row-major.
type flatIndex struct {
	dims int
	data []float32
}

func (ix *flatIndex) len() int {
	if ix.dims == 0 {
		return 0
	}
	return len(ix.data) / ix.dims
}

func (ix *flatIndex) add(v []float32) error {
	if ix.dims == 0 {
		ix.dims = len(v)
	}
	if len(v) != ix.dims {
		return fmt.Errorf("vector has %d dimensions, index has %d", len(v), ix.dims)
	}
	ix.data = append(ix.data, v...)
	return nil
}

func (ix *flatIndex) row(i int) []float32 {
	return ix.data[i*ix.dims : (i+1)*ix.dims]
}

// truncate keeps the first n rows.
func (ix *flatIndex) truncate(n int) {
	if n < ix.len() {
		ix.data = ix.data[:n*ix.dims]
	}
}

// nearest returns the k rows closest to q by L2 distance, nearest first.
func (ix *flatIndex) nearest(q []float32, k int) ([]neighbor, error) {
	if len(q) != ix.dims {
		return nil, fmt.Errorf("query has %d dimensions, index has %d", len(q), ix.dims)
	}
	h := &neighborHeap{}
	for i := 0; i < ix.len(); i++ {
		d := l2(q, ix.row(i))
		if h.Len() < k {
			heap.Push(h, neighbor{idx: i, dist: d})
		} else if d < (*h)[0].dist {
			(*h)[0] = neighbor{idx: i, dist: d}
			heap.Fix(h, 0)
		}
	}
	out := make([]neighbor, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(neighbor)
	}
	return out, nil
}

func (ix *flatIndex) encode() []byte {
	buf := make([]byte, indexHeaderSize+len(ix.data)*4)
	copy(buf, indexMagic[:])
	binary.LittleEndian.PutUint32(buf[4:], uint32(ix.dims))
	binary.LittleEndian.PutUint32(buf[8:], uint32(ix.len()))
	off := indexHeaderSize
	for _, f := range ix.data {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
		off += 4
	}
	return buf
}

func decodeIndex(b []byte) (*flatIndex, error) {
	if len(b) < indexHeaderSize || [4]byte(b[:4]) != indexMagic {
		return nil, errors.New("not a memory index file")
	}
	dims := int(binary.LittleEndian.Uint32(b[4:]))
	count := int(binary.LittleEndian.Uint32(b[8:]))
	body := b[indexHeaderSize:]
	if len(body) != dims*count*4 {
		return nil, fmt.Errorf("index body is %d bytes, header says %d vectors of %d dims", len(body), count, dims)
	}
	ix := &flatIndex{dims: dims, data: make([]float32, dims*count)}
	for i := range ix.data {
		ix.data[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:]))
	}
	return ix, nil
}

// l2 is the Euclidean distance. Vectors must have equal length.
func l2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

type neighbor struct {
	idx  int
	dist float64
}

// neighborHeap is a max-heap on distance so the worst of the current k
// candidates sits at the root.
type neighborHeap []neighbor

func (h neighborHeap) Len() int            { return len(h) }
func (h neighborHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h neighborHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *neighborHeap) Push(x interface{}) { *h = append(*h, x.(neighbor)) }
func (h *neighborHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// writeFileAtomic replaces path via a temp file in the same directory.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}
