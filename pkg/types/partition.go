package types

// PartitionValue is one column=value level of a Hive-style output path.
type PartitionValue struct {
	// Column is the partition column name
	Column string `json:"column"`

	// Value is the rendered column value
	Value string `json:"value"`

	// Null marks a NULL value, written as the Hive default partition
	Null bool `json:"null,omitempty"`
}

// PartitionOf builds a partition value from a scanned column. Nil pointers
// become NULL partitions.
func PartitionOf[T any](column string, v *T, render func(T) string) PartitionValue {
	if v == nil {
		return PartitionValue{Column: column, Null: true}
	}
	return PartitionValue{Column: column, Value: render(*v)}
}
