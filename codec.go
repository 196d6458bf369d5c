package nbmap

// KeyCodec converts between the key type callers pass in (K) and the
// form kept inside the table (S). It lets keys that are not comparable,
// or that must not be retained as given, live in the map.
//
// Encode is called once when a key first claims a slot. Matches must
// agree with the hash function: keys that match must hash equally.
type KeyCodec[K, S any] interface {
	// Encode returns the stored form of key.
	Encode(key K) S
	// Decode rebuilds a caller-facing key from its stored form.
	Decode(stored S) K
	// Matches reports whether stored is the stored form of key.
	Matches(stored S, key K) bool
}

// identityCodec stores comparable keys as they are.
type identityCodec[K comparable] struct{}

func (identityCodec[K]) Encode(key K) K               { return key }
func (identityCodec[K]) Decode(stored K) K            { return stored }
func (identityCodec[K]) Matches(stored K, key K) bool { return stored == key }

// equalCodec stores keys as they are and compares them with a
// caller-supplied equality function.
type equalCodec[K any] struct {
	equal func(a, b K) bool
}

func (c equalCodec[K]) Encode(key K) K               { return key }
func (c equalCodec[K]) Decode(stored K) K            { return stored }
func (c equalCodec[K]) Matches(stored K, key K) bool { return c.equal(stored, key) }

// BytesCodec stores []byte keys as immutable strings, so callers may
// reuse their buffers after a call returns. Decode hands out a fresh copy.
type BytesCodec struct{}

func (BytesCodec) Encode(key []byte) string { return string(key) }

func (BytesCodec) Decode(stored string) []byte { return []byte(stored) }

func (BytesCodec) Matches(stored string, key []byte) bool { return stored == string(key) }
