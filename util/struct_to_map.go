package util

import (
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strings"
)

type strToMap struct {
	tag        string
	normalized map[string]string
}

// StrToMap flattens the exported fields of v into sorted `path, value` rows.
// Nested structs and pointers are walked, fields implementing fmt.Stringer
// are printed through String.
func StrToMap(path string, v interface{}) [][]string {
	m := strToMap{normalized: make(map[string]string)}
	return m.sortAndConvert(path, v)
}

// TaggedStrToMap is StrToMap with paths taken from the given struct tag
// (eg: toml). Fields tagged `-` are left out.
func TaggedStrToMap(path, tag string, v interface{}) [][]string {
	m := strToMap{tag: tag, normalized: make(map[string]string)}
	return m.sortAndConvert(path, v)
}

func (n *strToMap) sortAndConvert(parent string, v interface{}) [][]string {
	n.split(parent, reflect.ValueOf(v))

	return n.sort()
}

func (n *strToMap) sort() [][]string {
	var keyVals [][]string
	keys := make([]string, 0, len(n.normalized))
	for k := range n.normalized {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		keyVals = append(keyVals, []string{k, n.normalized[k]})
	}
	return keyVals
}

func (n *strToMap) name(field reflect.StructField) (string, bool) {
	if n.tag == `` {
		return field.Name, true
	}

	tag := strings.Split(field.Tag.Get(n.tag), `,`)[0]
	switch tag {
	case `-`:
		return ``, false
	case ``:
		return field.Name, true
	}

	return tag, true
}

func (n *strToMap) split(parent string, v reflect.Value) {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct || v.IsZero() {
		return
	}

	types := v.Type()

	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if !f.CanInterface() {
			continue
		}

		path, ok := n.name(types.Field(i))
		if !ok {
			continue
		}

		if parent != `` {
			path = parent + `.` + path
		}

		if (f.Kind() == reflect.Interface || f.Kind() == reflect.Ptr) && f.IsNil() {
			n.normalized[path] = `<nil>`
			continue
		}

		if s, ok := f.Interface().(fmt.Stringer); ok {
			n.normalized[path] = s.String()
			continue
		}

		if f.Kind() == reflect.Ptr || f.Kind() == reflect.Struct {
			n.split(path, f)
			continue
		}

		n.normalized[path] = n.toString(f)
	}
}

func (n *strToMap) toString(value reflect.Value) string {
	switch value.Kind() {
	case reflect.Map, reflect.Array, reflect.Slice:
		return fmt.Sprintf(`%+v`, value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprintf(`%d`, value.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fmt.Sprintf(`%d`, value.Uint())
	case reflect.Bool:
		return fmt.Sprint(value.Bool())
	case reflect.Float64, reflect.Float32:
		return fmt.Sprint(value.Float())
	case reflect.Func:
		return runtime.FuncForPC(value.Pointer()).Name()
	case reflect.Interface:
		return fmt.Sprintf(`%T`, value.Interface())
	default:
		return value.String()
	}
}
