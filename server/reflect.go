package server

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"daemon-rpc/async"
	"daemon-rpc/message"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// MethodsOf scans rcvr's exported methods and registers those shaped
//
//	func (r *T) Name(ctx context.Context, args *A) (R, error)
//
// under their lower-cased name, the way daemons spell RPC commands
// (GetBlockCount -> getblockcount). Named params decode into *A as a whole;
// positional params decode their first element into *A. Methods with other
// shapes are skipped.
func MethodsOf(rcvr any) ([]Method, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rpc: rcvr must be a pointer, got %T", rcvr)
	}
	val := reflect.ValueOf(rcvr)

	var methods []Method
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		mt := m.Type
		if mt.NumIn() != 3 || mt.NumOut() != 2 ||
			mt.In(1) != contextType || mt.In(2).Kind() != reflect.Ptr ||
			mt.Out(1) != errorType {
			continue
		}
		name := strings.ToLower(m.Name)
		methods = append(methods, Method{
			Name:    name,
			Summary: name,
			Handler: reflectHandler(val, m.Func, mt.In(2).Elem()),
		})
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("rpc: %s has no methods of the form func(context.Context, *Args) (Reply, error)", typ)
	}
	return methods, nil
}

func reflectHandler(rcvr, fn reflect.Value, argType reflect.Type) Handler {
	return func(ctx context.Context, params message.Params) *async.Future[any] {
		argv := reflect.New(argType)
		if err := decodeArgs(params, argv.Interface()); err != nil {
			return async.Failed[any](message.ErrInvalidParams(err.Error()))
		}
		out := fn.Call([]reflect.Value{rcvr, reflect.ValueOf(ctx), argv})
		if errv := out[1]; !errv.IsNil() {
			return async.Failed[any](errv.Interface().(error))
		}
		return async.Resolved(out[0].Interface())
	}
}

func decodeArgs(params message.Params, v any) error {
	if params.IsNamed() {
		return params.Decode(v)
	}
	_, err := params.Arg(0, v)
	return err
}
