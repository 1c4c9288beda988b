package cohortquery

import (
	"math"
	"reflect"
)

// Param is one named argument of a parameterised criterion.
type Param struct {
	Name         string `json:"name"`
	Value        any    `json:"value"`
	LivingStatus string `json:"livingStatus,omitempty"`
}

// Field is one criterion. A scalar field carries Value and compiles to a
// filter without parameters (e.g. gender=males). A parameterised field
// carries Params, flattened into the filter's parameterValues.
type Field struct {
	Name   string
	Value  any
	Params []Param

	list bool
}

// Scalar returns a field whose value selects the filter itself.
func Scalar(name string, value any) Field {
	return Field{Name: name, Value: value}
}

// Params returns a parameterised field.
func Params(name string, params ...Param) Field {
	return Field{Name: name, Params: params, list: true}
}

// IsList reports whether the field was built with Params.
func (f Field) IsList() bool { return f.list }

// Absent reports whether the field contributes no filter: the "all"
// sentinel, an empty value, or a parameter list whose first value is empty.
// Only the first parameter is inspected.
func (f Field) Absent() bool {
	if f.list {
		if len(f.Params) == 0 {
			return false
		}
		return falsy(f.Params[0].Value)
	}
	if s, ok := f.Value.(string); ok && s == "all" {
		return true
	}
	return falsy(f.Value)
}

func (f Field) alive() bool {
	if !f.list {
		s, ok := f.Value.(string)
		return ok && s == LivingStatusAlive
	}
	for _, p := range f.Params {
		if p.LivingStatus == LivingStatusAlive {
			return true
		}
	}
	return false
}

// Criteria is an ordered set of fields. Order determines row filter
// positions and therefore the combination expression.
type Criteria []Field

// Compiled is the result of compiling criteria.
type Compiled struct {
	RowFilters  []RowFilter
	Combination string
	// Pruned holds the fields that produced a filter, in order.
	Pruned Criteria
}

// Compile turns criteria into row filters and their AND combination.
// The input is left untouched; absent fields are dropped from Pruned.
func Compile(c Criteria) Compiled {
	out := Compiled{RowFilters: []RowFilter{}}
	for _, f := range c {
		if f.Absent() {
			continue
		}
		out.Pruned = append(out.Pruned, f)

		rf := RowFilter{Key: ResolveKey(f.Name, f.Value)}
		if f.list {
			rf.ParameterValues = parameterValues(f.Params)
		}
		if f.alive() {
			rf.livingStatus = LivingStatusAlive
		}
		rf.Type = DataSetDefinitionType
		out.RowFilters = append(out.RowFilters, rf)
	}
	out.Combination = Combine(out.RowFilters)
	return out
}

// parameterValues flattens params by name; a repeated name keeps the last value.
func parameterValues(params []Param) map[string]any {
	values := make(map[string]any, len(params))
	for _, p := range params {
		values[p.Name] = p.Value
	}
	return values
}

// falsy follows the reporting UI's notion of an empty value: nil, false,
// zero, NaN and the empty string. Slices and maps are never empty here.
func falsy(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Bool:
		return !rv.Bool()
	case reflect.String:
		return rv.Len() == 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() == 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f == 0 || math.IsNaN(f)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return true
		}
		return falsy(rv.Elem().Interface())
	}
	return false
}
