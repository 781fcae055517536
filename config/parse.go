package config

import (
	"fmt"
	"net/url"
	"reflect"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/go-ini/ini"
)

// MapToStruct sets the fields of the struct pointed to by v from the keys
// of s named by their ini tag. Missing keys take the value of the default
// tag when useDefaults is set. A parse tag names a method of v with the
// signature func(*ini.Section, *ini.Key) (T, error) that replaces the
// builtin conversion.
func MapToStruct(s *ini.Section, v any, useDefaults bool) error {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr || val.Elem().Kind() != reflect.Struct {
		panic("MapToStruct requires a pointer to a struct")
	}
	typ := val.Elem().Type()

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		name := field.Tag.Get("ini")
		if name == "" || name == "-" {
			continue
		}
		key, err := s.GetKey(name)
		if err != nil {
			def, found := field.Tag.Lookup("default")
			if !useDefaults || !found {
				continue
			}
			key, _ = s.NewKey(name, def)
		}
		value, err := parseValue(val, field, s, key)
		if err != nil {
			return fmt.Errorf("[%s].%s: %w", s.Name(), name, err)
		}
		val.Elem().Field(i).Set(value)
	}
	return nil
}

var (
	durationType    = reflect.TypeOf(time.Duration(0))
	addressType     = reflect.TypeOf((*mail.Address)(nil))
	addressListType = reflect.TypeOf([]*mail.Address(nil))
	urlType         = reflect.TypeOf((*url.URL)(nil))
	stringsType     = reflect.TypeOf([]string(nil))
)

func parseValue(
	struc reflect.Value, field reflect.StructField,
	s *ini.Section, key *ini.Key,
) (reflect.Value, error) {
	if name, ok := field.Tag.Lookup("parse"); ok {
		method := getParseMethod(struc, name, s, key)
		out := method.Call([]reflect.Value{reflect.ValueOf(s), reflect.ValueOf(key)})
		if err, _ := out[1].Interface().(error); err != nil {
			return reflect.Value{}, err
		}
		return out[0].Convert(field.Type), nil
	}

	var res any
	var err error
	switch field.Type {
	case durationType:
		res, err = key.Duration()
	case addressType:
		res, err = mail.ParseAddress(key.String())
	case addressListType:
		res, err = mail.ParseAddressList(key.String())
	case urlType:
		res, err = url.Parse(key.String())
	case stringsType:
		delim := field.Tag.Get("delim")
		if delim == "" {
			delim = ","
		}
		res = key.Strings(delim)
	default:
		switch field.Type.Kind() {
		case reflect.String:
			res = key.String()
		case reflect.Bool:
			res, err = key.Bool()
		case reflect.Int:
			res, err = key.Int()
		default:
			panic(fmt.Sprintf("unsupported type %s", field.Type))
		}
	}
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(res).Convert(field.Type), nil
}

func getParseMethod(
	struc reflect.Value, name string, section *ini.Section, key *ini.Key,
) reflect.Value {
	method := struc.MethodByName(name)
	if !method.IsValid() {
		panic(fmt.Sprintf("(*%s).%s: method not found",
			struc.Elem().Type().Name(), name))
	}
	if method.Type().NumIn() != 2 ||
		method.Type().In(0) != reflect.TypeOf(section) ||
		method.Type().In(1) != reflect.TypeOf(key) ||
		method.Type().NumOut() != 2 {
		panic(fmt.Sprintf("(*%s).%s: invalid signature, expected %s",
			struc.Elem().Type().Name(), name,
			"func(*ini.Section, *ini.Key) (any, error)"))
	}
	return method
}
