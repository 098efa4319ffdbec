// Package index provides the in-memory primary-key index used to
// enforce uniqueness and to resolve point lookups.
package index

import (
	"fmt"
	"strings"

	"minidb/internal/dberr"
	"minidb/pkg/types"
)

// PrimaryKey maps the ordered tuple of a row's primary-key values to
// the record id of the uniquely owning row. It is rebuilt from storage
// on startup and mutated synchronously by DML.
type PrimaryKey struct {
	columns []int // ordinals comprising the key, in order
	entries map[string]types.RecordID
}

// New creates an empty index over the given key column ordinals.
func New(columns []int) *PrimaryKey {
	return &PrimaryKey{
		columns: columns,
		entries: make(map[string]types.RecordID),
	}
}

// ExtractKey pulls the key values out of a row in key-column order.
func (pk *PrimaryKey) ExtractKey(row types.Row) ([]types.Value, error) {
	key := make([]types.Value, 0, len(pk.columns))
	for _, ord := range pk.columns {
		if ord < 0 || ord >= len(row.Values) {
			return nil, dberr.New(dberr.KindExecution, "primary key column %d out of bounds (row has %d columns)", ord, len(row.Values))
		}
		key = append(key, row.Values[ord])
	}
	return key, nil
}

// encode builds the map key from a value tuple using the compact value
// encoding, which is injective for well-typed values.
func encode(key []types.Value) string {
	buf := make([]byte, 0, 16*len(key))
	for _, v := range key {
		buf = types.EncodeValue(buf, v)
	}
	return string(buf)
}

// Contains reports whether the key is present.
func (pk *PrimaryKey) Contains(key []types.Value) bool {
	_, ok := pk.entries[encode(key)]
	return ok
}

// Lookup returns the record id for a key, if present.
func (pk *PrimaryKey) Lookup(key []types.Value) (types.RecordID, bool) {
	rid, ok := pk.entries[encode(key)]
	return rid, ok
}

// Insert adds a key → record-id mapping, rejecting duplicates.
func (pk *PrimaryKey) Insert(key []types.Value, rid types.RecordID) error {
	k := encode(key)
	if _, exists := pk.entries[k]; exists {
		return dberr.New(dberr.KindConstraint, "duplicate primary key value: %s", formatKey(key))
	}
	pk.entries[k] = rid
	return nil
}

// Update repoints an existing key at a new record id, as after a
// relocating update that did not change the key itself.
func (pk *PrimaryKey) Update(key []types.Value, rid types.RecordID) {
	pk.entries[encode(key)] = rid
}

// Remove drops a key. Returns whether it was present.
func (pk *PrimaryKey) Remove(key []types.Value) bool {
	k := encode(key)
	_, ok := pk.entries[k]
	delete(pk.entries, k)
	return ok
}

// Len returns the number of indexed rows.
func (pk *PrimaryKey) Len() int { return len(pk.entries) }

// Columns returns the key column ordinals.
func (pk *PrimaryKey) Columns() []int { return pk.columns }

func formatKey(key []types.Value) string {
	parts := make([]string, len(key))
	for i, v := range key {
		parts[i] = v.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Build populates a fresh index from a storage scan. Each live row's
// key must be unique; a duplicate means the heap and index disciplines
// have diverged.
func Build(columns []int, scan func(yield func(types.RecordID, types.Row) error) error) (*PrimaryKey, error) {
	pk := New(columns)
	err := scan(func(rid types.RecordID, row types.Row) error {
		key, err := pk.ExtractKey(row)
		if err != nil {
			return err
		}
		if err := pk.Insert(key, rid); err != nil {
			return fmt.Errorf("rebuilding index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pk, nil
}
