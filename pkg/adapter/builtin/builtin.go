// Package builtin ships the two storage adapters burrow itself
// provides: a block-file binary layout for arrays and a
// partition-per-file CSV layout for tables. External formats (TIFF,
// HDF5, Parquet, Zarr) are expected to be registered by deployments
// that carry the parsers for them; these two keep a bare server
// usable for writable storage out of the box.
package builtin

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cuemby/burrow/pkg/adapter"
	"github.com/cuemby/burrow/pkg/structure"
	"github.com/cuemby/burrow/pkg/types"
)

const (
	// BlocksMimeType is burrow's native chunked binary array layout:
	// a directory holding one raw C-order file per chunk, named
	// block-<i>.<j>...
	BlocksMimeType = "application/x-burrow-blocks"

	// CSVMimeType is the partitioned CSV table layout: a directory
	// holding partition-<n>.csv files, each with a header row.
	CSVMimeType = "text/csv"
)

// Register installs both built-in adapters (constructor and
// writable-storage initializer) on r.
func Register(r *adapter.Registry) {
	r.Register(BlocksMimeType, newBlocksAdapter)
	r.RegisterInitializer(BlocksMimeType, initBlocksStorage)
	r.Register(CSVMimeType, newCSVAdapter)
	r.RegisterInitializer(CSVMimeType, initCSVStorage)
}

// decodeStructure round-trips the catalog's generic structure map
// into the typed descriptor the adapter needs.
func decodeStructure(structureData map[string]any, out any) error {
	raw, err := json.Marshal(structureData)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// ---- binary block-file array adapter ----

type blocksAdapter struct {
	adapter.Base

	dir       string
	structure *structure.ArrayStructure
}

func newBlocksAdapter(paths []string, structureData, metadata map[string]any, specs []string, access adapter.AccessChecker) (adapter.Adapter, error) {
	if len(paths) != 1 {
		return nil, fmt.Errorf("builtin: blocks adapter expects exactly one asset path, got %d", len(paths))
	}
	var s structure.ArrayStructure
	if err := decodeStructure(structureData, &s); err != nil {
		return nil, fmt.Errorf("builtin: decode array structure: %w", err)
	}
	if err := validateArrayStructure(&s); err != nil {
		return nil, err
	}
	return &blocksAdapter{
		Base:      adapter.Base{Family: types.StructureFamilyArray, MetadataMap: metadata, SpecsList: specs},
		dir:       stripFileScheme(paths[0]),
		structure: &s,
	}, nil
}

// initBlocksStorage creates the block directory. Block files
// themselves appear on first write; a block never written reads back
// as zeros, matching the all-zero initial contents a fresh array is
// defined to have.
func initBlocksStorage(path string, structureData map[string]any) ([]adapter.InitAsset, error) {
	var s structure.ArrayStructure
	if err := decodeStructure(structureData, &s); err != nil {
		return nil, fmt.Errorf("builtin: decode array structure: %w", err)
	}
	if err := validateArrayStructure(&s); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("builtin: create block directory: %w", err)
	}
	return []adapter.InitAsset{{DataURI: path, IsDirectory: true}}, nil
}

func validateArrayStructure(s *structure.ArrayStructure) error {
	if s.DataType.ItemSize <= 0 {
		return fmt.Errorf("builtin: blocks adapter requires a fixed-width dtype, got itemsize %d", s.DataType.ItemSize)
	}
	if len(s.Chunks) != len(s.Shape) {
		return fmt.Errorf("builtin: chunk grid rank %d does not match shape rank %d", len(s.Chunks), len(s.Shape))
	}
	for d, dim := range s.Chunks {
		var total int64
		for _, c := range dim {
			if c <= 0 {
				return fmt.Errorf("builtin: non-positive chunk length in dimension %d", d)
			}
			total += c
		}
		if total != s.Shape[d] {
			return fmt.Errorf("builtin: chunks in dimension %d sum to %d, shape says %d", d, total, s.Shape[d])
		}
	}
	return nil
}

func (a *blocksAdapter) Structure() *structure.ArrayStructure { return a.structure }
func (a *blocksAdapter) Writable() bool                       { return true }

func (a *blocksAdapter) blockFile(block []int) string {
	parts := make([]string, len(block))
	for i, idx := range block {
		parts[i] = strconv.Itoa(idx)
	}
	name := "block-" + strings.Join(parts, ".")
	if len(block) == 0 {
		name = "block-0"
	}
	return filepath.Join(a.dir, name)
}

// blockShape returns the per-dimension lengths of one chunk.
func (a *blocksAdapter) blockShape(block []int) []int64 {
	shape := make([]int64, len(block))
	for d, idx := range block {
		shape[d] = a.structure.Chunks[d][idx]
	}
	return shape
}

// blockStart returns the per-dimension element offset of one chunk
// within the full array.
func (a *blocksAdapter) blockStart(block []int) []int64 {
	start := make([]int64, len(block))
	for d, idx := range block {
		var off int64
		for j := 0; j < idx; j++ {
			off += a.structure.Chunks[d][j]
		}
		start[d] = off
	}
	return start
}

func byteLen(shape []int64, itemSize int) int64 {
	n := int64(itemSize)
	for _, s := range shape {
		n *= s
	}
	return n
}

// ReadBlock returns one chunk's raw C-order bytes. A chunk file that
// was never written reads back as zeros. Sub-chunk slicing is not
// supported by this layout.
func (a *blocksAdapter) ReadBlock(ctx context.Context, block []int, slice *adapter.Slice) ([]byte, error) {
	if slice != nil {
		return nil, fmt.Errorf("builtin: blocks adapter does not support sub-block slicing")
	}
	if !a.structure.InRange(block) {
		return nil, fmt.Errorf("builtin: block index %v out of range", block)
	}
	want := byteLen(a.blockShape(block), a.structure.DataType.ItemSize)
	data, err := os.ReadFile(a.blockFile(block))
	if os.IsNotExist(err) {
		return make([]byte, want), nil
	}
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != want {
		return nil, fmt.Errorf("builtin: block file %s holds %d bytes, structure says %d", a.blockFile(block), len(data), want)
	}
	return data, nil
}

// Read assembles the full array in C order from its chunk files.
func (a *blocksAdapter) Read(ctx context.Context, slice *adapter.Slice) ([]byte, error) {
	if slice != nil {
		return nil, fmt.Errorf("builtin: blocks adapter does not support slicing")
	}
	itemSize := a.structure.DataType.ItemSize
	full := make([]byte, byteLen(a.structure.Shape, itemSize))

	counts := a.structure.BlockCount()
	for _, block := range enumerateBlocks(counts) {
		data, err := a.ReadBlock(ctx, block, nil)
		if err != nil {
			return nil, err
		}
		copyBlockInto(full, data, a.structure.Shape, a.blockStart(block), a.blockShape(block), itemSize)
	}
	return full, nil
}

// Write splits a full C-order buffer back into its chunk files.
func (a *blocksAdapter) Write(ctx context.Context, data []byte) error {
	itemSize := a.structure.DataType.ItemSize
	if int64(len(data)) != byteLen(a.structure.Shape, itemSize) {
		return fmt.Errorf("builtin: write of %d bytes does not match array size %d", len(data), byteLen(a.structure.Shape, itemSize))
	}
	for _, block := range enumerateBlocks(a.structure.BlockCount()) {
		bshape := a.blockShape(block)
		buf := make([]byte, byteLen(bshape, itemSize))
		copyBlockOutOf(buf, data, a.structure.Shape, a.blockStart(block), bshape, itemSize)
		if err := a.WriteBlock(ctx, block, buf); err != nil {
			return err
		}
	}
	return nil
}

// WriteBlock replaces one chunk file.
func (a *blocksAdapter) WriteBlock(ctx context.Context, block []int, data []byte) error {
	if !a.structure.InRange(block) {
		return fmt.Errorf("builtin: block index %v out of range", block)
	}
	want := byteLen(a.blockShape(block), a.structure.DataType.ItemSize)
	if int64(len(data)) != want {
		return fmt.Errorf("builtin: block write of %d bytes, structure says %d", len(data), want)
	}
	return os.WriteFile(a.blockFile(block), data, 0o644)
}

var _ adapter.ArrayAdapter = (*blocksAdapter)(nil)

// enumerateBlocks yields every block index tuple of a chunk grid in
// C order (last dimension fastest).
func enumerateBlocks(counts []int) [][]int {
	if len(counts) == 0 {
		return [][]int{{}}
	}
	total := 1
	for _, c := range counts {
		total *= c
	}
	out := make([][]int, 0, total)
	idx := make([]int, len(counts))
	for {
		out = append(out, append([]int(nil), idx...))
		d := len(counts) - 1
		for d >= 0 {
			idx[d]++
			if idx[d] < counts[d] {
				break
			}
			idx[d] = 0
			d--
		}
		if d < 0 {
			return out
		}
	}
}

// copyBlockInto scatters one chunk's contiguous C-order bytes into
// their strided positions within the full buffer. Rows (runs along
// the last dimension) are contiguous in both layouts, so the copy
// walks row coordinates with an odometer and moves one row at a time.
func copyBlockInto(full, block []byte, shape, start, bshape []int64, itemSize int) {
	forEachRow(shape, start, bshape, itemSize, func(fullOff, blockOff, rowBytes int64) {
		copy(full[fullOff:fullOff+rowBytes], block[blockOff:blockOff+rowBytes])
	})
}

// copyBlockOutOf is the gather inverse of copyBlockInto.
func copyBlockOutOf(block, full []byte, shape, start, bshape []int64, itemSize int) {
	forEachRow(shape, start, bshape, itemSize, func(fullOff, blockOff, rowBytes int64) {
		copy(block[blockOff:blockOff+rowBytes], full[fullOff:fullOff+rowBytes])
	})
}

func forEachRow(shape, start, bshape []int64, itemSize int, fn func(fullOff, blockOff, rowBytes int64)) {
	ndim := len(shape)
	if ndim == 0 {
		fn(0, 0, int64(itemSize))
		return
	}

	// Element strides of the full array, C order.
	strides := make([]int64, ndim)
	strides[ndim-1] = 1
	for d := ndim - 2; d >= 0; d-- {
		strides[d] = strides[d+1] * shape[d+1]
	}

	rowBytes := bshape[ndim-1] * int64(itemSize)
	idx := make([]int64, ndim-1)
	var blockOff int64
	for {
		fullOff := start[ndim-1]
		for d := 0; d < ndim-1; d++ {
			fullOff += (start[d] + idx[d]) * strides[d]
		}
		fn(fullOff*int64(itemSize), blockOff, rowBytes)
		blockOff += rowBytes

		d := ndim - 2
		for d >= 0 {
			idx[d]++
			if idx[d] < bshape[d] {
				break
			}
			idx[d] = 0
			d--
		}
		if d < 0 {
			return
		}
	}
}

// ---- partitioned CSV table adapter ----

type csvAdapter struct {
	adapter.Base

	dir       string
	structure *structure.TableStructure
}

func newCSVAdapter(paths []string, structureData, metadata map[string]any, specs []string, access adapter.AccessChecker) (adapter.Adapter, error) {
	if len(paths) != 1 {
		return nil, fmt.Errorf("builtin: csv adapter expects exactly one asset path, got %d", len(paths))
	}
	var s structure.TableStructure
	if err := decodeStructure(structureData, &s); err != nil {
		return nil, fmt.Errorf("builtin: decode table structure: %w", err)
	}
	if len(s.Fields) == 0 {
		return nil, fmt.Errorf("builtin: table structure has no fields")
	}
	if s.Partitions <= 0 {
		s.Partitions = 1
	}
	return &csvAdapter{
		Base:      adapter.Base{Family: types.StructureFamilyTable, MetadataMap: metadata, SpecsList: specs},
		dir:       stripFileScheme(paths[0]),
		structure: &s,
	}, nil
}

// initCSVStorage creates the partition directory and seeds every
// partition file with its header row.
func initCSVStorage(path string, structureData map[string]any) ([]adapter.InitAsset, error) {
	var s structure.TableStructure
	if err := decodeStructure(structureData, &s); err != nil {
		return nil, fmt.Errorf("builtin: decode table structure: %w", err)
	}
	if len(s.Fields) == 0 {
		return nil, fmt.Errorf("builtin: table structure has no fields")
	}
	if s.Partitions <= 0 {
		s.Partitions = 1
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("builtin: create partition directory: %w", err)
	}
	header := headerLine(s.ColumnNames())
	for p := 0; p < s.Partitions; p++ {
		if err := os.WriteFile(partitionFile(path, p), header, 0o644); err != nil {
			return nil, err
		}
	}
	return []adapter.InitAsset{{DataURI: path, IsDirectory: true}}, nil
}

func partitionFile(dir string, p int) string {
	return filepath.Join(dir, "partition-"+strconv.Itoa(p)+".csv")
}

func headerLine(columns []string) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(columns)
	w.Flush()
	return buf.Bytes()
}

func (a *csvAdapter) Structure() *structure.TableStructure { return a.structure }
func (a *csvAdapter) Writable() bool                       { return true }

// ReadPartition returns one partition as CSV bytes, restricted to
// columns if non-nil.
func (a *csvAdapter) ReadPartition(ctx context.Context, partition int, columns []string) ([]byte, error) {
	if !a.structure.InRange(partition) {
		return nil, fmt.Errorf("builtin: partition %d out of range", partition)
	}
	return a.readFiltered(partitionFile(a.dir, partition), columns, true)
}

// Read concatenates every partition, emitting the header once.
func (a *csvAdapter) Read(ctx context.Context, columns []string) ([]byte, error) {
	var out []byte
	for p := 0; p < a.structure.Partitions; p++ {
		data, err := a.readFiltered(partitionFile(a.dir, p), columns, p == 0)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}

// readFiltered loads one partition file, optionally projecting to a
// column subset, and returns it re-encoded as CSV with or without the
// header row.
func (a *csvAdapter) readFiltered(path string, columns []string, withHeader bool) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("builtin: parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("builtin: %s is missing its header row", path)
	}

	header := records[0]
	keep := make([]int, 0, len(header))
	if columns == nil {
		for i := range header {
			keep = append(keep, i)
		}
	} else {
		pos := make(map[string]int, len(header))
		for i, name := range header {
			pos[name] = i
		}
		for _, c := range columns {
			i, ok := pos[c]
			if !ok {
				return nil, fmt.Errorf("builtin: no such column %q", c)
			}
			keep = append(keep, i)
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rows := records
	if !withHeader {
		rows = records[1:]
	}
	for _, rec := range rows {
		projected := make([]string, len(keep))
		for j, i := range keep {
			projected[j] = rec[i]
		}
		if err := w.Write(projected); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// Write replaces partition 0 with data; partitioned bulk loads go
// through WritePartition per partition.
func (a *csvAdapter) Write(ctx context.Context, data []byte) error {
	return a.WritePartition(ctx, 0, data)
}

// WritePartition replaces one partition file after checking data's
// header row names exactly the structure's columns.
func (a *csvAdapter) WritePartition(ctx context.Context, partition int, data []byte) error {
	if !a.structure.InRange(partition) {
		return fmt.Errorf("builtin: partition %d out of range", partition)
	}
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return fmt.Errorf("builtin: parse csv body: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("builtin: csv body is missing its header row")
	}
	want := a.structure.ColumnNames()
	if len(records[0]) != len(want) {
		return fmt.Errorf("builtin: header has %d columns, structure says %d", len(records[0]), len(want))
	}
	for i, name := range records[0] {
		if name != want[i] {
			return fmt.Errorf("builtin: header column %d is %q, structure says %q", i, name, want[i])
		}
	}
	return os.WriteFile(partitionFile(a.dir, partition), data, 0o644)
}

var _ adapter.TableAdapter = (*csvAdapter)(nil)

// stripFileScheme accepts both bare paths and file:// data URIs;
// only the file scheme is implemented.
func stripFileScheme(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}
