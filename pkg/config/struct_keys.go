package config

import (
	"reflect"
	"slices"
	"strings"
)

const sep = "."

// GetStructKeys returns the dotted paths of all leaves of a nested struct type, named by tag
// or by field name.  A field whose tag ends with ",<squashValue>" contributes its children
// without its own name, the same way mapstructure squashes embedded structs.  Pointers are
// followed; maps and slices are leaves.
func GetStructKeys(typ reflect.Type, tag, squashValue string) []string {
	var keys []string
	walkStructKeys(typ, tag, ","+squashValue, nil, func(path []string) {
		keys = append(keys, strings.Join(path, sep))
	})
	return keys
}

func walkStructKeys(typ reflect.Type, tag, squashSuffix string, prefix []string, visit func([]string)) {
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		visit(prefix)
		return
	}
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		name, tagged := field.Tag.Lookup(tag)
		if !tagged {
			name = field.Name
		}
		path := slices.Clone(prefix)
		if !tagged || !strings.HasSuffix(name, squashSuffix) {
			path = append(path, name)
		}
		walkStructKeys(field.Type, tag, squashSuffix, path, visit)
	}
}
