package value

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/kristofer/smog/pkg/gc"
)

// Buffer is a growable byte array with 2x growth; the VM can use one for
// general binary scratch space (spec.md §3, §4.2). The compiler does not
// use a Buffer for bytecode: pkg/compiler's codeBuf applies the same
// 2x-growth policy to 16-bit words.
type Buffer struct {
	gc.Header
	data []byte
}

func (b *Buffer) GCHeader() *gc.Header               { return &b.Header }
func (b *Buffer) GCTrace(visit func(gc.Traceable))   {}

// NewBuffer allocates an empty buffer with the given initial capacity
// hint.
func NewBuffer(a *gc.Allocator, capHint int) Value {
	b := &Buffer{data: make([]byte, 0, capHint)}
	a.Track(&b.Header, unsafe.Sizeof(*b))
	return fromHeap(KindBuffer, b)
}

func (b *Buffer) grow(extra int) {
	if cap(b.data)-len(b.data) >= extra {
		return
	}
	need := len(b.data) + extra
	newCap := cap(b.data)
	if newCap == 0 {
		newCap = 8
	}
	for newCap < need {
		newCap *= 2
	}
	grown := make([]byte, len(b.data), newCap)
	copy(grown, b.data)
	b.data = grown
}

// PushByte appends a single byte, growing by 2x when capacity would be
// exceeded (spec.md §4.2).
func (b *Buffer) PushByte(x byte) {
	b.grow(1)
	b.data = append(b.data, x)
}

// AppendBytes appends a slice of raw bytes.
func (b *Buffer) AppendBytes(p []byte) {
	b.grow(len(p))
	b.data = append(b.data, p...)
}

// Bytes returns the buffer's current contents.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of bytes currently stored.
func (b *Buffer) Len() int { return len(b.data) }

// AsBuffer returns the Buffer object backing v.
func (v Value) AsBuffer() *Buffer { return v.heap.(*Buffer) }

// Array is a growable sequence of Values.
type Array struct {
	gc.Header
	data []Value
}

func (ar *Array) GCHeader() *gc.Header { return &ar.Header }
func (ar *Array) GCTrace(visit func(gc.Traceable)) {
	for _, v := range ar.data {
		v.Trace(visit)
	}
}

// NewArray allocates an empty array.
func NewArray(a *gc.Allocator, capHint int) Value {
	ar := &Array{data: make([]Value, 0, capHint)}
	a.Track(&ar.Header, unsafe.Sizeof(*ar))
	return fromHeap(KindArray, ar)
}

func (ar *Array) grow(extra int) {
	if cap(ar.data)-len(ar.data) >= extra {
		return
	}
	need := len(ar.data) + extra
	newCap := cap(ar.data)
	if newCap == 0 {
		newCap = 4
	}
	for newCap < need {
		newCap *= 2
	}
	grown := make([]Value, len(ar.data), newCap)
	copy(grown, ar.data)
	ar.data = grown
}

// Push appends a value, growing by 2x when needed.
func (ar *Array) Push(v Value) {
	ar.grow(1)
	ar.data = append(ar.data, v)
}

// Pop removes and returns the last value. Returns an error if empty.
func (ar *Array) Pop() (Value, error) {
	if len(ar.data) == 0 {
		return Nil, errors.New("array: pop of empty array")
	}
	last := ar.data[len(ar.data)-1]
	ar.data = ar.data[:len(ar.data)-1]
	return last, nil
}

// Peek returns the last value without removing it.
func (ar *Array) Peek() (Value, error) {
	if len(ar.data) == 0 {
		return Nil, errors.New("array: peek of empty array")
	}
	return ar.data[len(ar.data)-1], nil
}

// Get returns the value at i, bounds-checked.
func (ar *Array) Get(i int) (Value, error) {
	if i < 0 || i >= len(ar.data) {
		return Nil, errors.Errorf("array: index %d out of bounds (len %d)", i, len(ar.data))
	}
	return ar.data[i], nil
}

// Set overwrites the value at i. Does not auto-grow (spec.md §4.2).
func (ar *Array) Set(i int, v Value) error {
	if i < 0 || i >= len(ar.data) {
		return errors.Errorf("array: index %d out of bounds (len %d)", i, len(ar.data))
	}
	ar.data[i] = v
	return nil
}

// Len returns the number of elements.
func (ar *Array) Len() int { return len(ar.data) }

// AsArray returns the Array object backing v.
func (v Value) AsArray() *Array { return v.heap.(*Array) }

// entry is one link in a Table bucket chain.
type entry struct {
	key, val Value
	next     *entry
}

// Table is the language's dictionary: a separate-chaining hash table
// keyed and valued by Value. Inserting a nil value deletes the key
// (spec.md §3, §4.2).
type Table struct {
	gc.Header
	buckets []*entry
	count   int
}

func (t *Table) GCHeader() *gc.Header { return &t.Header }
func (t *Table) GCTrace(visit func(gc.Traceable)) {
	for _, e := range t.buckets {
		for ; e != nil; e = e.next {
			e.key.Trace(visit)
			e.val.Trace(visit)
		}
	}
}

const tableInitialBuckets = 8

// NewTable allocates an empty dictionary.
func NewTable(a *gc.Allocator) Value {
	t := &Table{buckets: make([]*entry, tableInitialBuckets)}
	a.Track(&t.Header, unsafe.Sizeof(*t))
	return fromHeap(KindTable, t)
}

// Len returns the number of live keys.
func (t *Table) Len() int { return t.count }

func (t *Table) bucketIndex(h uint32) int { return int(h) % len(t.buckets) }

// Get returns the value stored for key, or Nil if key is absent
// (spec.md §4.2).
func (t *Table) Get(key Value) Value {
	h := Hash(key)
	idx := t.bucketIndex(h)
	for e := t.buckets[idx]; e != nil; e = e.next {
		k := e.key
		if Equal(&k, &key) {
			return e.val
		}
	}
	return Nil
}

// Put inserts, updates, or — when val is Nil — deletes key. Rehashes
// upward when count reaches 2x capacity after an insert, and downward
// when count drops under capacity/4 after a delete (spec.md §3, §4.2).
func (t *Table) Put(key, val Value) {
	if val.IsNil() {
		t.delete(key)
		return
	}
	h := Hash(key)
	idx := t.bucketIndex(h)
	for e := t.buckets[idx]; e != nil; e = e.next {
		k := e.key
		if Equal(&k, &key) {
			e.val = val
			return
		}
	}
	t.buckets[idx] = &entry{key: key, val: val, next: t.buckets[idx]}
	t.count++
	if t.count >= 2*len(t.buckets) {
		t.rehash(len(t.buckets) * 2)
	}
}

func (t *Table) delete(key Value) {
	idx := t.bucketIndex(Hash(key))
	var prev *entry
	for e := t.buckets[idx]; e != nil; e = e.next {
		k := e.key
		if Equal(&k, &key) {
			if prev == nil {
				t.buckets[idx] = e.next
			} else {
				prev.next = e.next
			}
			t.count--
			if len(t.buckets) > tableInitialBuckets && t.count < len(t.buckets)/4 {
				t.rehash(len(t.buckets) / 2)
			}
			return
		}
		prev = e
	}
}

func (t *Table) rehash(newSize int) {
	if newSize < tableInitialBuckets {
		newSize = tableInitialBuckets
	}
	newBuckets := make([]*entry, newSize)
	for _, e := range t.buckets {
		for e != nil {
			next := e.next
			idx := int(Hash(e.key)) % newSize
			e.next = newBuckets[idx]
			newBuckets[idx] = e
			e = next
		}
	}
	t.buckets = newBuckets
}

// Each calls fn for every live key/value pair. Iteration order is
// unspecified (spec.md §3).
func (t *Table) Each(fn func(key, val Value)) {
	for _, e := range t.buckets {
		for ; e != nil; e = e.next {
			fn(e.key, e.val)
		}
	}
}

// AsTable returns the Table object backing v.
func (v Value) AsTable() *Table { return v.heap.(*Table) }
