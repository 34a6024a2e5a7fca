package request_key

import (
	"hash/maphash"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestKey_Equal(t *testing.T) {
	tests := []struct {
		name  string
		a, b  RequestKey
		equal bool
	}{
		{"same", New("/foo", "a=1"), New("/foo", "a=1"), true},
		{"empty query", New("/foo", ""), New("/foo", ""), true},
		{"diff query value", New("/foo", "a=1"), New("/foo", "a=2"), false},
		{"param order", New("/foo", "a=1&b=2"), New("/foo", "b=2&a=1"), false},
		{"diff path", New("/foo", "a=1"), New("/bar", "a=1"), false},
		{"no decoding", New("/a%20b", ""), New("/a b", ""), false},
		{"field boundary", New("/foo?a", "b"), New("/foo", "a?b"), false},
	}
	seed := maphash.MakeSeed()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, tt.a == tt.b)
			if tt.equal {
				assert.Equal(t, tt.a.Hash(seed), tt.b.Hash(seed))
			}
		})
	}
}

func TestRequestKey_MapKey(t *testing.T) {
	m := map[RequestKey]int{
		New("/foo", "a=1"): 1,
		New("/foo", "a=2"): 2,
	}
	assert.Len(t, m, 2)
	assert.Equal(t, 1, m[New("/foo", "a=1")])
	assert.Equal(t, 2, m[New("/foo", "a=2")])
}

func TestRequestKey_String(t *testing.T) {
	assert.Equal(t, "/foo", New("/foo", "").String())
	assert.Equal(t, "/foo?a=1", New("/foo", "a=1").String())
}
