package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

var durationType = reflect.TypeOf(time.Duration(0))
var timeType = reflect.TypeOf(time.Time{})

// Validator interface allows config structs to implement custom validation logic.
// If a config struct implements this interface, validation will be automatically
// called after loading configuration from files and environment variables.
type Validator interface {
	Validate() error
}

// setFromString assigns raw to field according to the field's type.
// Maps use the "key=value,key=value" form and slices are comma separated.
func setFromString(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("failed to convert %s to duration: %v", raw, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int64, reflect.Int32:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("failed to convert %s to int: %v", raw, err)
		}
		field.SetInt(v)
	case reflect.Float64, reflect.Float32:
		v, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("failed to convert %s to float: %v", raw, err)
		}
		field.SetFloat(v)
	case reflect.Bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("failed to convert %s to bool: %v", raw, err)
		}
		field.SetBool(v)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		values := splitList(raw)
		slice := reflect.MakeSlice(field.Type(), len(values), len(values))
		for i, v := range values {
			slice.Index(i).SetString(v)
		}
		field.Set(slice)
	case reflect.Map:
		return setMap(field, raw)
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}

func setMap(field reflect.Value, raw string) error {
	t := field.Type()
	if t.Key().Kind() != reflect.String {
		return fmt.Errorf("unsupported map key type %s", t.Key())
	}
	m := reflect.MakeMap(t)
	for _, pair := range splitList(raw) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("malformed map entry %q, want key=value", pair)
		}
		elem := reflect.New(t.Elem()).Elem()
		if err := setFromString(elem, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("map entry %q: %w", k, err)
		}
		m.SetMapIndex(reflect.ValueOf(strings.TrimSpace(k)).Convert(t.Key()), elem)
	}
	field.Set(m)
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func isNested(field reflect.Value) bool {
	return field.Kind() == reflect.Struct && field.Type() != timeType
}

// applyDefaults fills every zero-valued field that carries a default tag.
// It runs before the file and environment layers so that an explicit
// false or 0 in either layer is never overwritten.
func applyDefaults(val reflect.Value) error {
	var result error
	typeOfT := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typeOfT.Field(i)
		if !field.CanSet() {
			continue
		}
		if isNested(field) {
			if err := applyDefaults(field); err != nil {
				result = multierror.Append(result, err)
			}
			continue
		}
		defaultTag, ok := fieldType.Tag.Lookup("default")
		if !ok || defaultTag == "" || !field.IsZero() {
			continue
		}
		if err := setFromString(field, defaultTag); err != nil {
			result = multierror.Append(result, fmt.Errorf("default for %s: %w", fieldType.Name, err))
		}
	}
	return result
}

func applyEnv(val reflect.Value) error {
	var result error
	typeOfT := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typeOfT.Field(i)
		if !field.CanSet() {
			continue
		}
		if isNested(field) {
			if err := applyEnv(field); err != nil {
				result = multierror.Append(result, err)
			}
			continue
		}
		tag := fieldType.Tag.Get("env")
		if tag == "" {
			continue
		}
		envVal, ok := os.LookupEnv(tag)
		if !ok || envVal == "" {
			continue
		}
		if err := setFromString(field, envVal); err != nil {
			result = multierror.Append(result, fmt.Errorf("env %s: %w", tag, err))
		}
	}
	return result
}

func checkRequired(val reflect.Value) error {
	var result error
	typeOfT := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typeOfT.Field(i)
		if isNested(field) {
			if err := checkRequired(field); err != nil {
				result = multierror.Append(result, err)
			}
			continue
		}
		required := strings.ToLower(fieldType.Tag.Get("required"))
		if (required == "true" || required == "1") && field.IsZero() {
			result = multierror.Append(result, fmt.Errorf("required field env:%s / yaml:%s is missing",
				fieldType.Tag.Get("env"), fieldType.Tag.Get("yaml")))
		}
	}
	return result
}

func finish[T any](dest *T) error {
	val := reflect.ValueOf(dest).Elem()
	if err := applyEnv(val); err != nil {
		return err
	}
	if err := checkRequired(val); err != nil {
		var zero T
		*dest = zero
		return err
	}
	if validator, ok := any(*dest).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}

// GetConfigFromEnvVars loads configuration from environment variables only.
// It processes struct tags: env, default, required.
//
//	var cfg MyConfig
//	err := GetConfigFromEnvVars(&cfg)
func GetConfigFromEnvVars[T any](dest *T) error {
	if err := applyDefaults(reflect.ValueOf(dest).Elem()); err != nil {
		return err
	}
	return finish(dest)
}

// GetConfig layers defaults, then the YAML file, then environment variables.
// ${VAR} references inside the file are expanded from the environment before
// parsing; unset variables expand to the empty string.
// If filepath is empty, only environment variables are used.
// If allowFileErrors is true, file read/parse errors fall back to env vars only.
func GetConfig[T any](dest *T, filepath string, allowFileErrors bool) error {
	if filepath == "" {
		return GetConfigFromEnvVars(dest)
	}
	data, err := os.ReadFile(filepath)
	if err != nil {
		if allowFileErrors {
			return GetConfigFromEnvVars(dest)
		}
		return fmt.Errorf("failed to read file: %w", err)
	}

	if err := applyDefaults(reflect.ValueOf(dest).Elem()); err != nil {
		return err
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), dest); err != nil {
		if allowFileErrors {
			var zero T
			*dest = zero
			return GetConfigFromEnvVars(dest)
		}
		return fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	return finish(dest)
}
