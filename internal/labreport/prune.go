package labreport

import "reflect"

// Prune removes empty values from a report in place: empty strings, nil
// pointers, pointers to structs with nothing left in them, empty list
// elements and empty lists. Surviving list elements keep their order and the
// struct layout fixes the key order, so pruning twice is the same as pruning
// once. Pointers to scalars (the dialect flags) count as set even when false.
func Prune(r *Report) {
	if r == nil {
		return
	}
	pruneValue(reflect.ValueOf(r).Elem())
}

// pruneValue prunes v and reports whether it is empty afterwards.
func pruneValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return v.Len() == 0

	case reflect.Pointer:
		if v.IsNil() {
			return true
		}
		if v.Elem().Kind() != reflect.Struct {
			return false
		}
		if pruneValue(v.Elem()) {
			v.Set(reflect.Zero(v.Type()))
			return true
		}
		return false

	case reflect.Struct:
		empty := true
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if !pruneValue(v.Field(i)) {
				empty = false
			}
		}
		return empty

	case reflect.Slice:
		kept := 0
		for i := 0; i < v.Len(); i++ {
			if pruneValue(v.Index(i)) {
				continue
			}
			if kept != i {
				v.Index(kept).Set(v.Index(i))
			}
			kept++
		}
		if kept == 0 {
			v.Set(reflect.Zero(v.Type()))
			return true
		}
		for i := kept; i < v.Len(); i++ {
			v.Index(i).Set(reflect.Zero(v.Type().Elem()))
		}
		v.SetLen(kept)
		return false

	default:
		return v.IsZero()
	}
}
