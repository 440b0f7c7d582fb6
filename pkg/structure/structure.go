// Package structure defines the family-specific shape descriptors
// referenced by a DataSource's Structure field:
// array shape/dtype, table schema/partitioning, and the trivial
// container/composite descriptors.
package structure

// DataType is a minimal dtype descriptor: a NumPy-style kind letter
// plus itemsize and byte order, sufficient for the adapters this
// service ships (numeric arrays; string/object columns in tables use
// Kind "U"/"O" with ItemSize 0).
type DataType struct {
	Kind       string `json:"kind"`                 // "i" int, "u" uint, "f" float, "b" bool, "U" unicode, "O" object
	ItemSize   int    `json:"itemsize"`             // bytes per element, 0 for variable-width
	Endianness string `json:"endianness,omitempty"` // "little", "big", "" = native
}

// ArrayStructure describes an array or sparse data source: its
// overall shape, dtype, and the chunking grid used for partial reads
// (read_block).
type ArrayStructure struct {
	Shape    []int64   `json:"shape"`
	Chunks   [][]int64 `json:"chunks"` // per-dimension chunk boundaries
	DataType DataType  `json:"data_type"`
}

// BlockCount returns the number of chunks along each dimension.
func (s *ArrayStructure) BlockCount() []int {
	counts := make([]int, len(s.Chunks))
	for i, dim := range s.Chunks {
		counts[i] = len(dim)
	}
	return counts
}

// InRange reports whether block is a valid block index for this
// structure (same dimensionality, each index within its dimension's
// chunk count).
func (s *ArrayStructure) InRange(block []int) bool {
	if len(block) != len(s.Chunks) {
		return false
	}
	for i, idx := range block {
		if idx < 0 || idx >= len(s.Chunks[i]) {
			return false
		}
	}
	return true
}

// Field describes one column of a table structure.
type Field struct {
	Name     string   `json:"name"`
	DataType DataType `json:"data_type"`
}

// TableStructure describes a table data source: its column schema
// and the number of row-partitions available for read_partition.
type TableStructure struct {
	Fields     []Field `json:"fields"`
	Partitions int     `json:"npartitions"`
}

// ColumnNames returns the table's column names in order.
func (s *TableStructure) ColumnNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// InRange reports whether partition is a valid partition index.
func (s *TableStructure) InRange(partition int) bool {
	return partition >= 0 && partition < s.Partitions
}

// ContainerStructure is the (empty) descriptor for container and
// composite nodes. Composite is modeled as container-like for lookup
// and search per the deferred-read-semantics decision (DESIGN.md).
type ContainerStructure struct {
	Count *int64 `json:"count,omitempty"` // cached child count, nil if unknown
}
