package rpcfacade

import "reflect"

func init() {
	RegisterWireType(true)
}

// assignReply copies a decoded result value (returned by a MethodFunc, or
// produced by gob decoding Args/Reply through an interface{}) into the
// caller-supplied reply pointer. Both sides agree on the concrete type by
// convention (the same Args/Reply struct named in the domain package's
// MethodTable), so this is a plain reflective assignment, not a generic
// conversion.
func assignReply(reply, result interface{}) {
	rv := reflect.ValueOf(reply)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return
	}
	rv = rv.Elem()
	sv := reflect.ValueOf(result)
	if sv.IsValid() && sv.Type().AssignableTo(rv.Type()) {
		rv.Set(sv)
	}
}
