package types

import (
	"fmt"
	"reflect"
)

// ObjectID identifies a live object by its address; it is used to tell
// whether two handles refer to the same instance (e.g. the same source or
// the same pipeline controller).
type ObjectID uint64

func (id ObjectID) String() string {
	return fmt.Sprintf("0x%X", uint64(id))
}

type GetObjectIDer interface {
	GetObjectID() ObjectID
}

// GetObjectID returns the ObjectID of a pointer-like value (pointers,
// channels, maps, funcs), or of the dynamic value held by an interface.
// Nil and non-pointer-like values yield zero.
func GetObjectID(obj any) ObjectID {
	if obj == nil {
		return 0
	}
	if getter, ok := obj.(GetObjectIDer); ok {
		return getter.GetObjectID()
	}
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Pointer, reflect.Chan, reflect.Func, reflect.Map, reflect.UnsafePointer:
		if v.IsNil() {
			return 0
		}
		return ObjectID(uint64(v.Pointer()))
	}
	return 0
}
