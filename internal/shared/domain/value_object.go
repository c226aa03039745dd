package domain

// ValueObject represents an immutable domain concept defined by its attributes.
type ValueObject interface {
	Equals(other ValueObject) bool
}

// NodeKey identifies a market node across bounded contexts. It is the
// public-key fingerprint the transport layer authenticated the caller with.
type NodeKey struct {
	value string
}

// NewNodeKey creates a new NodeKey from a string.
func NewNodeKey(value string) NodeKey {
	return NodeKey{value: value}
}

// String returns the string representation of the NodeKey.
func (k NodeKey) String() string {
	return k.value
}

// Equals checks if two NodeKeys are equal.
func (k NodeKey) Equals(other ValueObject) bool {
	if otherKey, ok := other.(NodeKey); ok {
		return k.value == otherKey.value
	}
	return false
}

// IsEmpty returns true if the NodeKey is empty.
func (k NodeKey) IsEmpty() bool {
	return k.value == ""
}
