package block

// Value is the opaque payload stored only at leaves. A Value must know its
// own serialized footprint so that a quill can account for it without
// re-serializing on every insert (spec.md §3).
type Value interface {
	// Footprint returns the number of bytes this value occupies once
	// serialized, used by Quill inlet-footprint accounting.
	Footprint() int

	// Bytes returns the serialized form of the value.
	Bytes() []byte
}

// Bytes is the trivial Value implementation: a byte slice that reports its
// own length as its footprint.
type Bytes []byte

func (b Bytes) Footprint() int { return len(b) }
func (b Bytes) Bytes() []byte  { return []byte(b) }
