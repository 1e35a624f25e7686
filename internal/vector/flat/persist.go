package flat

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"civicdocs/backend/internal/vector"
)

const (
	vectorsFile = "vectors.bin"
	metaFile    = "meta.json"
)

type metaSidecar struct {
	Dimension int               `json:"dimension"`
	IDs       []string          `json:"ids"`
	Metadata  []vector.Metadata `json:"metadata"`
}

// snapshot copies the arena for persistence outside the arena lock. Metadata
// is copied by value because tombstoning mutates entries in place; the inner
// vector slices are shared safely because overwrites replace them wholesale.
// Caller holds ix.mu.
type snapshot struct {
	dim     int
	ids     []string
	vectors [][]float32
	meta    []vector.Metadata
}

func (ix *Index) snapshot() snapshot {
	return snapshot{
		dim:     ix.dim,
		ids:     append([]string(nil), ix.ids...),
		vectors: append([][]float32(nil), ix.vectors...),
		meta:    append([]vector.Metadata(nil), ix.meta...),
	}
}

// save rewrites both sidecar files wholesale. Writes go to temp files first
// and are swapped in with rename, so a reader never observes a half-written
// state on disk. Caller holds saveMu, not the arena lock, so searches keep
// running while the snapshot is flushed.
func (s snapshot) save(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	vecPath := filepath.Join(dir, vectorsFile)
	tmpVec := vecPath + ".tmp"
	f, err := os.OpenFile(tmpVec, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	header := []uint32{uint32(s.dim), uint32(len(s.vectors))}
	if err := binary.Write(f, binary.LittleEndian, header); err != nil {
		f.Close()
		return err
	}
	for _, v := range s.vectors {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}

	metaPath := filepath.Join(dir, metaFile)
	tmpMeta := metaPath + ".tmp"
	payload, err := json.Marshal(metaSidecar{
		Dimension: s.dim,
		IDs:       s.ids,
		Metadata:  s.meta,
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmpMeta, payload, 0o600); err != nil {
		return err
	}

	if err := os.Rename(tmpVec, vecPath); err != nil {
		return err
	}
	return os.Rename(tmpMeta, metaPath)
}

func (ix *Index) load() error {
	metaPath := filepath.Join(ix.dir, metaFile)
	raw, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return nil // fresh index
	}
	if err != nil {
		return err
	}

	var sidecar metaSidecar
	if err := json.Unmarshal(raw, &sidecar); err != nil {
		return fmt.Errorf("corrupt %s: %w", metaFile, err)
	}
	if len(sidecar.IDs) != len(sidecar.Metadata) {
		return fmt.Errorf("corrupt %s: %d ids vs %d metadata entries", metaFile, len(sidecar.IDs), len(sidecar.Metadata))
	}
	if ix.dim != 0 && sidecar.Dimension != 0 && sidecar.Dimension != ix.dim {
		return fmt.Errorf("%w: index on disk has %d, configured %d", vector.ErrDimensionMismatch, sidecar.Dimension, ix.dim)
	}

	f, err := os.Open(filepath.Join(ix.dir, vectorsFile))
	if err != nil {
		return err
	}
	defer f.Close()

	var header [2]uint32
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("corrupt %s: %w", vectorsFile, err)
	}
	dim, count := int(header[0]), int(header[1])
	if count != len(sidecar.IDs) {
		return fmt.Errorf("sidecar mismatch: %d vectors vs %d ids", count, len(sidecar.IDs))
	}

	vectors := make([][]float32, count)
	for i := range vectors {
		v := make([]float32, dim)
		if err := binary.Read(f, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("corrupt %s: %w", vectorsFile, err)
		}
		vectors[i] = v
	}

	ix.dim = dim
	ix.ids = sidecar.IDs
	ix.meta = sidecar.Metadata
	ix.vectors = vectors
	ix.slots = make(map[string]int, count)
	for i, id := range sidecar.IDs {
		ix.slots[id] = i
	}
	return nil
}
