package mapping

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Tuplizer creates entity instances and moves property values in and out
// of them.
type Tuplizer interface {
	// Instantiate returns a new instance of e with the given identifier.
	Instantiate(e *Entity, id any) (any, error)
	// SetValues sets property values on an instance of e.
	SetValues(instance any, e *Entity, values map[string]any) error
	// EntityName returns the entity name of instance.
	EntityName(instance any) (string, bool)
}

// Record is a generic entity instance holding property values by name.
type Record struct {
	Entity string
	ID     any
	Values map[string]any
}

// Get returns the value of the named property.
func (r *Record) Get(name string) any { return r.Values[name] }

// Ref is an unloaded reference to an entity. It is the value of an
// association that was neither joined nor found in the session.
type Ref struct {
	Entity string
	ID     any
}

// String formats the reference for messages.
func (r Ref) String() string { return fmt.Sprintf("%s#%v", r.Entity, r.ID) }

// RecordTuplizer instantiates entities as *Record.
type RecordTuplizer struct{}

// Instantiate returns an empty record.
func (RecordTuplizer) Instantiate(e *Entity, id any) (any, error) {
	return &Record{Entity: e.Name, ID: id, Values: make(map[string]any)}, nil
}

// SetValues copies values into the record.
func (RecordTuplizer) SetValues(instance any, _ *Entity, values map[string]any) error {
	r, ok := instance.(*Record)
	if !ok {
		return fmt.Errorf("mapping: expected *Record, got %T", instance)
	}
	if r.Values == nil {
		r.Values = make(map[string]any, len(values))
	}
	for k, v := range values {
		r.Values[k] = v
	}
	return nil
}

// EntityName returns the entity of a *Record.
func (RecordTuplizer) EntityName(instance any) (string, bool) {
	r, ok := instance.(*Record)
	if !ok {
		return "", false
	}
	return r.Entity, true
}

// StructTuplizer instantiates entities as pointers to registered struct
// types. Fields are matched to properties by the "fetchgraph" struct tag,
// or by name ignoring case. The identifier field is the one tagged
// `fetchgraph:"id"` or named like the identifier property.
type StructTuplizer struct {
	mu     sync.RWMutex
	types  map[string]reflect.Type
	names  map[reflect.Type]string
	fields map[reflect.Type]map[string]int
}

// NewStructTuplizer returns a tuplizer without registered types.
func NewStructTuplizer() *StructTuplizer {
	return &StructTuplizer{
		types:  make(map[string]reflect.Type),
		names:  make(map[reflect.Type]string),
		fields: make(map[reflect.Type]map[string]int),
	}
}

// Register binds an entity name to the struct type of prototype, which
// is a struct value or a pointer to one.
func (t *StructTuplizer) Register(entity string, prototype any) *StructTuplizer {
	typ := reflect.TypeOf(prototype)
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		panic(fmt.Sprintf("mapping: cannot register %s as entity %s: not a struct", typ, entity))
	}
	fields := fieldIndex(typ)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.types[entity] = typ
	t.names[typ] = entity
	t.fields[typ] = fields
	return t
}

// Instantiate returns a pointer to a new struct with the identifier set.
func (t *StructTuplizer) Instantiate(e *Entity, id any) (any, error) {
	t.mu.RLock()
	typ, ok := t.types[e.Name]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mapping: no struct type registered for entity %s", e.Name)
	}
	v := reflect.New(typ)
	idName := "id"
	if e.ID != nil && e.ID.Name != "" {
		idName = e.ID.Name
	}
	if err := t.set(v, idName, id); err != nil && id != nil {
		if err := t.set(v, "id", id); err != nil {
			return nil, err
		}
	}
	return v.Interface(), nil
}

// SetValues assigns values to the matching struct fields. Values without
// a matching field are ignored.
func (t *StructTuplizer) SetValues(instance any, e *Entity, values map[string]any) error {
	v := reflect.ValueOf(instance)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("mapping: expected pointer to struct, got %T", instance)
	}
	for name, value := range values {
		if err := t.set(v, name, value); err != nil && !isNoField(err) {
			return fmt.Errorf("mapping: %s.%s: %w", e.Name, name, err)
		}
	}
	return nil
}

// EntityName returns the entity registered for the struct type of instance.
func (t *StructTuplizer) EntityName(instance any) (string, bool) {
	typ := reflect.TypeOf(instance)
	if typ == nil || typ.Kind() != reflect.Pointer {
		return "", false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	name, ok := t.names[typ.Elem()]
	return name, ok
}

type noFieldError string

func (e noFieldError) Error() string { return "no field for " + string(e) }

func isNoField(err error) bool {
	_, ok := err.(noFieldError)
	return ok
}

func (t *StructTuplizer) set(ptr reflect.Value, name string, value any) error {
	s := ptr.Elem()
	t.mu.RLock()
	i, ok := t.fields[s.Type()][strings.ToLower(name)]
	t.mu.RUnlock()
	if !ok {
		return noFieldError(name)
	}
	return assign(s.Field(i), value)
}

// fieldIndex maps lower-cased property names to the exported fields of typ.
func fieldIndex(typ reflect.Type) map[string]int {
	fields := make(map[string]int)
	for i := range typ.NumField() {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		name := strings.ToLower(f.Name)
		if tag, ok := f.Tag.Lookup("fetchgraph"); ok {
			if tag == "-" {
				continue
			}
			name = strings.ToLower(tag)
		}
		fields[name] = i
	}
	return fields
}

func assign(f reflect.Value, value any) error {
	if value == nil {
		f.SetZero()
		return nil
	}
	if c, ok := value.(interface{ Elements() []any }); ok && f.Kind() == reflect.Slice {
		elems := c.Elements()
		sv := reflect.MakeSlice(f.Type(), 0, len(elems))
		for _, e := range elems {
			ev := reflect.ValueOf(e)
			if e == nil {
				ev = reflect.Zero(f.Type().Elem())
			}
			if !ev.Type().AssignableTo(f.Type().Elem()) {
				return fmt.Errorf("cannot assign element %T to %s", e, f.Type())
			}
			sv = reflect.Append(sv, ev)
		}
		f.Set(sv)
		return nil
	}
	if _, ok := value.(Ref); ok && !reflect.TypeOf(value).AssignableTo(f.Type()) {
		// Unloaded references leave typed association fields unset.
		f.SetZero()
		return nil
	}
	if m, ok := value.(map[string]any); ok {
		switch {
		case f.Kind() == reflect.Struct:
			return assignComponent(f, m)
		case f.Kind() == reflect.Pointer && f.Type().Elem().Kind() == reflect.Struct:
			p := reflect.New(f.Type().Elem())
			if err := assignComponent(p.Elem(), m); err != nil {
				return err
			}
			f.Set(p)
			return nil
		}
	}
	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(f.Type()):
		f.Set(rv)
	case f.Kind() == reflect.Pointer && rv.Type().AssignableTo(f.Type().Elem()):
		p := reflect.New(f.Type().Elem())
		p.Elem().Set(rv)
		f.Set(p)
	case convertible(rv.Type(), f.Type()):
		f.Set(rv.Convert(f.Type()))
	case f.Kind() == reflect.Interface && rv.Type().Implements(f.Type()):
		f.Set(rv)
	default:
		return fmt.Errorf("cannot assign %T to field of type %s", value, f.Type())
	}
	return nil
}

// assignComponent sets the fields of the struct s from component values.
func assignComponent(s reflect.Value, values map[string]any) error {
	fields := fieldIndex(s.Type())
	for name, v := range values {
		i, ok := fields[strings.ToLower(name)]
		if !ok {
			continue
		}
		if err := assign(s.Field(i), v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// convertible reports whether a value of type from may be converted to
// type to without changing its meaning. Integers never become strings.
func convertible(from, to reflect.Type) bool {
	if !from.ConvertibleTo(to) {
		return false
	}
	if to.Kind() == reflect.String {
		return from.Kind() == reflect.String || from.Kind() == reflect.Slice && from.Elem().Kind() == reflect.Uint8
	}
	return true
}
