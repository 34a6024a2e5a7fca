package ttl_map

import (
	"time"

	"github.com/pmkol/mosproxy/pkg/list"
)

// Map is a map whose entries carry an expiration time. Entries are kept
// in insertion order; overwriting an entry moves it to the back.
// When all entries are stored with the same ttl, insertion order is also
// expiration order, so the front is always the entry expiring soonest.
//
// Map never drops entries by itself, except when maxSize is reached.
// Map is not safe for concurrent use.
type Map[K comparable, V any] struct {
	maxSize int

	l *list.List[entry[K, V]]
	m map[K]*list.Elem[entry[K, V]]
}

type entry[K comparable, V any] struct {
	key    K
	v      V
	expire time.Time
}

// NewMap returns a Map. maxSize <= 0 means the Map is unbounded.
func NewMap[K comparable, V any](maxSize int) *Map[K, V] {
	if maxSize < 0 {
		maxSize = 0
	}
	return &Map[K, V]{
		maxSize: maxSize,
		l:       list.New[entry[K, V]](),
		m:       make(map[K]*list.Elem[entry[K, V]]),
	}
}

// Set stores v under key, replacing both the value and the expiration
// time of an existing entry. If the Map is full, the front entry is
// dropped and its element reused.
func (q *Map[K, V]) Set(key K, v V, expire time.Time) (evicted bool) {
	if e, ok := q.m[key]; ok {
		e.Value.v = v
		e.Value.expire = expire
		q.l.MoveToBack(e)
		return false
	}

	if q.maxSize > 0 && q.l.Len() >= q.maxSize {
		e := q.l.Front()
		delete(q.m, e.Value.key)
		e.Value = entry[K, V]{key: key, v: v, expire: expire}
		q.m[key] = e
		q.l.MoveToBack(e)
		return true
	}

	e := list.NewElem(entry[K, V]{key: key, v: v, expire: expire})
	q.m[key] = e
	q.l.PushBack(e)
	return false
}

// Get returns the entry stored under key regardless of its expiration
// time. It does not modify the Map.
func (q *Map[K, V]) Get(key K) (v V, expire time.Time, ok bool) {
	e, ok := q.m[key]
	if !ok {
		return
	}
	return e.Value.v, e.Value.expire, true
}

func (q *Map[K, V]) Del(key K) {
	e := q.m[key]
	if e == nil {
		return
	}
	q.l.PopElem(e)
	delete(q.m, key)
}

// Clean removes every entry for which f returns true.
func (q *Map[K, V]) Clean(f func(key K, v V, expire time.Time) bool) (removed int) {
	e := q.l.Front()
	for e != nil {
		next := e.Next()
		if f(e.Value.key, e.Value.v, e.Value.expire) {
			q.l.PopElem(e)
			delete(q.m, e.Value.key)
			removed++
		}
		e = next
	}
	return
}

func (q *Map[K, V]) Len() int {
	return q.l.Len()
}
