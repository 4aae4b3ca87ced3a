// Package archive maps live objects and texture names to the small integer
// handles that stand in for them in save files and frame packets.
package archive

import (
	"errors"
	"fmt"
)

// Handle identifies an object within one archive pass. Handles are not
// stable across passes.
type Handle uint16

// NullHandle always means "no object".
const NullHandle Handle = 0

const (
	// Fixed by the save format: handles are written as shorts.
	MaxThings   = 0x7FFF
	MaxTextures = 1024
	MaxFlats    = 1024
)

// CapacityError is returned when a table is full. The archive operation in
// progress has to be abandoned; the engine keeps running.
type CapacityError struct {
	Table    string
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s archive full (%d entries)", e.Table, e.Capacity)
}

// UnresolvedError is returned when a handle was never registered in this
// pass. Outside of frame application this means the data is corrupt.
type UnresolvedError struct {
	Table  string
	Handle Handle
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("%s archive has no entry for handle %d", e.Table, e.Handle)
}

var ErrDuplicate = errors.New("handle registered twice")

func IsCapacity(err error) bool {
	var capacity *CapacityError
	return errors.As(err, &capacity)
}

// ThingTable is a two-way mapping between objects and handles. The zero
// value of T is the null object and always maps to NullHandle.
type ThingTable[T comparable] struct {
	label    string
	capacity int
	next     Handle
	objects  map[Handle]T
	handles  map[T]Handle
}

func NewThingTable[T comparable](label string, capacity int) *ThingTable[T] {
	if capacity <= 0 || capacity > MaxThings {
		capacity = MaxThings
	}
	t := &ThingTable[T]{
		label:    label,
		capacity: capacity,
	}
	t.Clear()
	return t
}

func (t *ThingTable[T]) Clear() {
	t.next = NullHandle
	t.objects = make(map[Handle]T)
	t.handles = make(map[T]Handle)
}

func (t *ThingTable[T]) Len() int {
	return len(t.objects)
}

func (t *ThingTable[T]) Capacity() int {
	return t.capacity
}

// Number returns the handle of obj, assigning the next free one if obj has
// not been seen in this pass.
func (t *ThingTable[T]) Number(obj T) (Handle, error) {
	var null T
	if obj == null {
		return NullHandle, nil
	}

	if handle, ok := t.handles[obj]; ok {
		return handle, nil
	}

	if len(t.objects) >= t.capacity {
		return NullHandle, &CapacityError{Table: t.label, Capacity: t.capacity}
	}

	// skip anything registered explicitly with Set
	for {
		t.next++
		if _, taken := t.objects[t.next]; !taken {
			break
		}
	}

	t.objects[t.next] = obj
	t.handles[obj] = t.next
	return t.next, nil
}

// Lookup returns the handle of obj without assigning one.
func (t *ThingTable[T]) Lookup(obj T) (Handle, bool) {
	handle, ok := t.handles[obj]
	return handle, ok
}

// Set registers obj under a handle chosen by the writer.
func (t *ThingTable[T]) Set(handle Handle, obj T) error {
	if handle == NullHandle {
		return &UnresolvedError{Table: t.label, Handle: handle}
	}

	if existing, ok := t.objects[handle]; ok {
		if existing == obj {
			return nil
		}
		return fmt.Errorf("%s archive: handle %d: %w", t.label, handle, ErrDuplicate)
	}

	if len(t.objects) >= t.capacity {
		return &CapacityError{Table: t.label, Capacity: t.capacity}
	}

	t.objects[handle] = obj
	t.handles[obj] = handle
	return nil
}

// Get resolves a handle. NullHandle resolves to the null object.
func (t *ThingTable[T]) Get(handle Handle) (T, error) {
	var null T
	if handle == NullHandle {
		return null, nil
	}

	obj, ok := t.objects[handle]
	if !ok {
		return null, &UnresolvedError{Table: t.label, Handle: handle}
	}
	return obj, nil
}
