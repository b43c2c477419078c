package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/codefionn/workbench/internal/event"
)

var (
	contextType    = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType      = reflect.TypeOf((*error)(nil)).Elem()
	disposableType = reflect.TypeOf((*event.Disposable)(nil)).Elem()
)

// boundMethod is one exported method of a served object.
type boundMethod struct {
	name      string
	fn        reflect.Value
	takesCtx  bool
	args      []reflect.Type
	hasResult bool
	hasError  bool
}

// NewServer exposes the exported methods of target over mc.
//
// A method is called by its name with the first letter lowercased. Params
// are decoded positionally into its arguments; missing trailing params get
// zero values. A leading context.Context argument receives the request
// context. Methods may return nothing, a value, an error, or a value and an
// error. Methods whose params or result cannot travel as JSON, such as
// funcs, channels or interfaces with methods, are not exposed.
//
// Methods named OnX that take a listener func(T) and return an
// event.Disposable are event sources: each value they emit is forwarded as
// notification onX.
//
// Everything is released when mc closes or the returned Disposable is
// disposed.
func NewServer(mc *MessageConnection, target any) (event.Disposable, error) {
	if target == nil {
		return nil, errors.New("jsonrpc: nil server target")
	}
	value := reflect.ValueOf(target)
	typ := value.Type()

	methods := make(map[string]*boundMethod)
	var sources []string
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		name := wireName(m.Name)
		fn := value.Method(i)

		if IsEventName(name) {
			if isEventSource(fn.Type()) {
				sources = append(sources, m.Name)
			}
			continue
		}
		bound, err := bindMethod(name, fn)
		if err != nil {
			log.Debug("Not exposing %s.%s: %v", typ, m.Name, err)
			continue
		}
		methods[name] = bound
	}

	subs := event.NewCollection()
	subs.Push(
		mc.OnRequest(func(ctx context.Context, method string, params json.RawMessage) (any, error) {
			m, ok := methods[method]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
			}
			return m.invoke(ctx, params)
		}),
		mc.OnNotification(func(method string, params json.RawMessage) {
			m, ok := methods[method]
			if !ok {
				return
			}
			if _, err := m.invoke(mc.ctx, params); err != nil {
				if errors.Is(err, ErrUnsupportedParams) {
					log.Error("Notification %s: only Array is supported for notification params", method)
					return
				}
				log.Warn("Notification %s failed: %v", method, err)
			}
		}),
	)

	for _, goName := range sources {
		subs.Push(subscribeSource(mc, wireName(goName), value.MethodByName(goName)))
	}

	subs.Push(event.Once(mc.OnClose(), func(struct{}) { subs.Dispose() }))
	if mc.IsClosed() {
		subs.Dispose()
	}
	return subs, nil
}

func isEventSource(t reflect.Type) bool {
	if t.NumIn() != 1 || t.NumOut() != 1 || t.Out(0) != disposableType {
		return false
	}
	listener := t.In(0)
	return listener.Kind() == reflect.Func && listener.NumIn() == 1 && listener.NumOut() == 0
}

func subscribeSource(mc *MessageConnection, name string, source reflect.Value) event.Disposable {
	listenerType := source.Type().In(0)
	listener := reflect.MakeFunc(listenerType, func(args []reflect.Value) []reflect.Value {
		if err := mc.SendNotification(name, args[0].Interface()); err != nil && !errors.Is(err, ErrConnectionClosed) {
			log.Warn("Could not forward %s: %v", name, err)
		}
		return nil
	})
	out := source.Call([]reflect.Value{listener})
	d, _ := out[0].Interface().(event.Disposable)
	if d == nil {
		return event.Nop
	}
	return d
}

func bindMethod(name string, fn reflect.Value) (*boundMethod, error) {
	t := fn.Type()
	if t.IsVariadic() {
		return nil, errors.New("variadic methods are not supported")
	}

	b := &boundMethod{name: name, fn: fn}
	for i := 0; i < t.NumIn(); i++ {
		in := t.In(i)
		if i == 0 && in == contextType {
			b.takesCtx = true
			continue
		}
		if !wireType(in) {
			return nil, fmt.Errorf("param %d has non-JSON type %s", i, in)
		}
		b.args = append(b.args, in)
	}

	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == errorType {
			b.hasError = true
		} else {
			b.hasResult = true
		}
	case 2:
		if t.Out(1) != errorType {
			return nil, errors.New("second result must be an error")
		}
		b.hasResult, b.hasError = true, true
	default:
		return nil, fmt.Errorf("%d results", t.NumOut())
	}
	if b.hasResult && !wireType(t.Out(0)) {
		return nil, fmt.Errorf("result has non-JSON type %s", t.Out(0))
	}
	return b, nil
}

// wireType reports whether values of t can be sent as JSON. Struct fields
// are not inspected.
func wireType(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Interface:
		return t.NumMethod() == 0
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return wireType(t.Elem())
	case reflect.Map:
		return wireType(t.Key()) && wireType(t.Elem())
	default:
		return true
	}
}

func (b *boundMethod) invoke(ctx context.Context, params json.RawMessage) (result any, err error) {
	values, err := decodeParams(params)
	if err != nil {
		return nil, err
	}

	in := make([]reflect.Value, 0, len(b.args)+1)
	if b.takesCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, argType := range b.args {
		arg := reflect.New(argType)
		if i < len(values) {
			if err := json.Unmarshal(values[i], arg.Interface()); err != nil {
				return nil, NewResponseError(CodeInvalidParams, fmt.Sprintf("param %d of %s: %v", i, b.name, err), nil)
			}
		}
		in = append(in, arg.Elem())
	}

	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = fmt.Errorf("%s panicked: %v", b.name, p)
		}
	}()
	out := b.fn.Call(in)

	if b.hasError {
		if e := out[len(out)-1]; !e.IsNil() {
			return nil, e.Interface().(error)
		}
	}
	if b.hasResult {
		return out[0].Interface(), nil
	}
	return nil, nil
}
