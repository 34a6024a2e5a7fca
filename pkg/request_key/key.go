package request_key

import "hash/maphash"

// RequestKey identifies a cacheable request.
//
// Fields hold the raw values exactly as received. No percent-decoding and no
// query parameter sorting is done, so "a=1&b=2" and "b=2&a=1" are different
// keys. RequestKey is comparable: == and map lookups compare every field.
// New fields (body digest, requester identity...) must be comparable too.
type RequestKey struct {
	Path        string
	QueryString string
}

func New(path, rawQuery string) RequestKey {
	return RequestKey{Path: path, QueryString: rawQuery}
}

// Hash returns the hash of all fields of k under seed.
func (k RequestKey) Hash(seed maphash.Seed) uint64 {
	return maphash.Comparable(seed, k)
}

func (k RequestKey) String() string {
	if len(k.QueryString) == 0 {
		return k.Path
	}
	return k.Path + "?" + k.QueryString
}
