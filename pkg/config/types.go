package config

import (
	"reflect"
	"strings"
)

// Strings is a []string that mapstructure can deserialize from a single comma-separated
// string or from a list of strings.
type Strings []string

var (
	stringsType     = reflect.TypeOf(Strings{})
	stringType      = reflect.TypeOf("")
	stringSliceType = reflect.TypeOf([]string{})
)

// DecodeStrings is a mapstructure.DecodeHookFuncValue that decodes a single string value or
// a slice of strings into Strings.
func DecodeStrings(fromValue reflect.Value, toValue reflect.Value) (interface{}, error) {
	if toValue.Type() != stringsType {
		return fromValue.Interface(), nil
	}
	switch fromValue.Type() {
	case stringSliceType:
		return Strings(fromValue.Interface().([]string)), nil
	case stringType:
		return Strings(strings.Split(fromValue.String(), ",")), nil
	}
	return fromValue.Interface(), nil
}

// SecureString holds a secret, such as a connection string with a password.
type SecureString string

// String returns an elided version.  It is safe to call for logging.
func (SecureString) String() string {
	return "[SECRET]"
}

// SecureValue returns the actual value of s as a string.
func (s SecureString) SecureValue() string {
	return string(s)
}

func (s SecureString) MarshalText() ([]byte, error) {
	if s == "" {
		return []byte(""), nil
	}
	return []byte("[SECRET]"), nil
}
