package idp

// Optional distinguishes "field not supplied" from "field supplied as its
// zero value" in partial-update requests. The zero Optional is unset; build
// present values with Some. An unset field must never be modified at the
// provider, while a present zero value ("", false, nil map) is a deliberate
// overwrite.
type Optional[T any] struct {
	value T
	set   bool
}

// Some returns a present Optional carrying v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// None returns an unset Optional. Equivalent to the zero value; provided for
// readability when constructing requests explicitly.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// IsSet reports whether a value was supplied.
func (o Optional[T]) IsSet() bool { return o.set }

// Get returns the value and whether it was supplied.
func (o Optional[T]) Get() (T, bool) { return o.value, o.set }

// Or returns the value if supplied, otherwise fallback.
func (o Optional[T]) Or(fallback T) T {
	if o.set {
		return o.value
	}
	return fallback
}
