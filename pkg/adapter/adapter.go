// Package adapter defines the polymorphic storage-backend
// abstraction: a sealed interface per structure family,
// and the MIME-type dispatch registry that realizes concrete adapters
// on demand, memoized per key.
package adapter

import (
	"context"

	"github.com/cuemby/burrow/pkg/query"
	"github.com/cuemby/burrow/pkg/structure"
	"github.com/cuemby/burrow/pkg/types"
)

// Adapter is the sealed sum over the structure-family variants. Every
// concrete adapter embeds Base and implements exactly one of
// ContainerAdapter, ArrayAdapter, or TableAdapter; callers type-switch
// on the concrete interface at use sites.
type Adapter interface {
	StructureFamily() types.StructureFamily
	Metadata() map[string]any
	Specs() []string
}

// SortKey is one entry in a Sort ordering: Path is "" for the id
// tiebreaker, "id" to sort by key, otherwise a dotted metadata path.
// Direction is 1 (ascending) or -1 (descending).
type SortKey struct {
	Path      string
	Direction int
}

// Item is one (key, Adapter) pair as returned by ItemsRange.
type Item struct {
	Key     string
	Adapter Adapter
}

// ContainerAdapter is implemented by nodes with no DataSource: the
// container and (per the deferred-read-semantics decision) composite
// families.
type ContainerAdapter interface {
	Adapter

	KeysRange(ctx context.Context, offset, limit int) ([]string, error)
	ItemsRange(ctx context.Context, offset, limit int) ([]Item, error)
	LookupAdapter(ctx context.Context, segments []string) (Adapter, error)
	Len(ctx context.Context) (int64, error)
	Search(ctx context.Context, q query.Query) (ContainerAdapter, error)
	Sort(ctx context.Context, ordering []SortKey) (ContainerAdapter, error)
}

// Slice is an optional read window: Start/Stop/Step per dimension
// (array) or nil for a full read.
type Slice struct {
	Start []int64
	Stop  []int64
	Step  []int64
}

// ArrayAdapter is implemented by array and sparse structure families.
type ArrayAdapter interface {
	Adapter

	Structure() *structure.ArrayStructure
	Read(ctx context.Context, slice *Slice) ([]byte, error)
	ReadBlock(ctx context.Context, block []int, slice *Slice) ([]byte, error)
	Writable() bool
	Write(ctx context.Context, data []byte) error
	WriteBlock(ctx context.Context, block []int, data []byte) error
}

// TableAdapter is implemented by the table structure family.
type TableAdapter interface {
	Adapter

	Structure() *structure.TableStructure
	Read(ctx context.Context, columns []string) ([]byte, error)
	ReadPartition(ctx context.Context, partition int, columns []string) ([]byte, error)
	Writable() bool
	Write(ctx context.Context, data []byte) error
	WritePartition(ctx context.Context, partition int, data []byte) error
}

// Base implements the common Adapter methods; concrete adapters embed
// it and add their family-specific interface.
type Base struct {
	Family      types.StructureFamily
	MetadataMap map[string]any
	SpecsList   []string
}

func (b *Base) StructureFamily() types.StructureFamily { return b.Family }
func (b *Base) Metadata() map[string]any               { return b.MetadataMap }
func (b *Base) Specs() []string                        { return b.SpecsList }
