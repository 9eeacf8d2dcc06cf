package config

import (
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"time"
)

// RequiredFields fails if any named field holds its zero value.
// Names may be dotted paths into nested structs, e.g. "Feed.BaseURL".
func RequiredFields(fields ...string) Validator {
	return ValidatorFunc(func(config any) error {
		val, err := structValue(config)
		if err != nil {
			return err
		}

		var missing []string
		for _, name := range fields {
			fieldVal := getNestedField(val, name)
			if !fieldVal.IsValid() {
				return fmt.Errorf("field %s not found in config struct", name)
			}
			if fieldVal.IsZero() {
				missing = append(missing, name)
			}
		}

		if len(missing) > 0 {
			return fmt.Errorf("required fields are missing: %s", strings.Join(missing, ", "))
		}
		return nil
	})
}

// RangeValidator checks that a numeric field lies in [min, max].
// time.Duration fields are compared in seconds.
func RangeValidator(fieldName string, min, max float64) Validator {
	return ValidatorFunc(func(config any) error {
		fieldVal, err := lookup(config, fieldName)
		if err != nil {
			return err
		}

		var numVal float64
		switch {
		case fieldVal.Type() == durationType:
			numVal = time.Duration(fieldVal.Int()).Seconds()
		case fieldVal.CanInt():
			numVal = float64(fieldVal.Int())
		case fieldVal.CanUint():
			numVal = float64(fieldVal.Uint())
		case fieldVal.CanFloat():
			numVal = fieldVal.Float()
		default:
			return fmt.Errorf("field %s is not numeric", fieldName)
		}

		if numVal < min || numVal > max {
			return fmt.Errorf("field %s value %g is out of range [%g, %g]", fieldName, numVal, min, max)
		}
		return nil
	})
}

// StringLengthValidator checks that a string field's length lies in [minLen, maxLen].
func StringLengthValidator(fieldName string, minLen, maxLen int) Validator {
	return ValidatorFunc(func(config any) error {
		fieldVal, err := lookup(config, fieldName)
		if err != nil {
			return err
		}
		if fieldVal.Kind() != reflect.String {
			return fmt.Errorf("field %s is not a string", fieldName)
		}

		if n := len(fieldVal.String()); n < minLen || n > maxLen {
			return fmt.Errorf("field %s length %d is out of range [%d, %d]", fieldName, n, minLen, maxLen)
		}
		return nil
	})
}

// PatternValidator checks that a string field matches re in full.
func PatternValidator(fieldName string, re *regexp.Regexp) Validator {
	anchored := regexp.MustCompile(`^(?:` + re.String() + `)$`)
	return ValidatorFunc(func(config any) error {
		fieldVal, err := lookup(config, fieldName)
		if err != nil {
			return err
		}
		if fieldVal.Kind() != reflect.String {
			return fmt.Errorf("field %s is not a string", fieldName)
		}
		if !anchored.MatchString(fieldVal.String()) {
			return fmt.Errorf("field %s value %q does not match %s", fieldName, fieldVal.String(), re)
		}
		return nil
	})
}

// OneOfValidator checks that a field equals one of allowedValues.
// String fields are compared case-insensitively.
func OneOfValidator(fieldName string, allowedValues ...any) Validator {
	return ValidatorFunc(func(config any) error {
		fieldVal, err := lookup(config, fieldName)
		if err != nil {
			return err
		}
		got := fieldVal.Interface()

		if s, ok := got.(string); ok {
			if slices.ContainsFunc(allowedValues, func(v any) bool {
				a, ok := v.(string)
				return ok && strings.EqualFold(a, s)
			}) {
				return nil
			}
		} else if slices.ContainsFunc(allowedValues, func(v any) bool { return reflect.DeepEqual(got, v) }) {
			return nil
		}

		return fmt.Errorf("field %s value %v is not one of allowed values: %v", fieldName, got, allowedValues)
	})
}

func structValue(config any) (reflect.Value, error) {
	val := reflect.ValueOf(config)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("config must be a struct")
	}
	return val, nil
}

func lookup(config any, fieldName string) (reflect.Value, error) {
	val, err := structValue(config)
	if err != nil {
		return reflect.Value{}, err
	}
	fieldVal := getNestedField(val, fieldName)
	if !fieldVal.IsValid() {
		return reflect.Value{}, fmt.Errorf("field %s not found", fieldName)
	}
	return fieldVal, nil
}

// getNestedField follows a dotted path through structs and struct pointers.
func getNestedField(val reflect.Value, fieldPath string) reflect.Value {
	current := val
	for _, part := range strings.Split(fieldPath, ".") {
		if current.Kind() == reflect.Ptr {
			if current.IsNil() {
				return reflect.Value{}
			}
			current = current.Elem()
		}
		if current.Kind() != reflect.Struct {
			return reflect.Value{}
		}
		current = current.FieldByName(part)
		if !current.IsValid() {
			return reflect.Value{}
		}
	}
	return current
}
