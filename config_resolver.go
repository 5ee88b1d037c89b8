package mastobot

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/golobby/cast"
)

// OptionTag is the struct tag naming the option a config field binds to.
const OptionTag = "option"

// ConfigSource provides the flat key/value pairs configuration is
// resolved from. *feeders.EnvCatalog satisfies it.
type ConfigSource interface {
	All() map[string]string
}

// ConfigResolver resolves unit options from keys shaped
// PREFIX_<KIND>_<UNIT>_<OPTION>, matched case-insensitively.
type ConfigResolver struct {
	Prefix string
	Source ConfigSource
	logger Logger
}

// NewConfigResolver creates a resolver reading from source.
func NewConfigResolver(prefix string, source ConfigSource, logger Logger) *ConfigResolver {
	if logger == nil {
		logger = nopLogger{}
	}
	return &ConfigResolver{Prefix: prefix, Source: source, logger: logger}
}

// keyPrefix returns the upper-case key prefix of one unit. Dashes in the
// unit name become underscores since they are not valid in variable names.
func (r *ConfigResolver) keyPrefix(kind Kind, name string) string {
	parts := []string{kind.String(), strings.ReplaceAll(name, "-", "_")}
	if r.Prefix != "" {
		parts = append([]string{strings.TrimSuffix(r.Prefix, "_")}, parts...)
	}
	return strings.ToUpper(strings.Join(parts, "_")) + "_"
}

// Resolve returns the options of one unit keyed by lower-case option name.
// Keys belonging to other units are skipped. When several keys differ only
// in case, the upper-case key wins, then the first in sorted order.
func (r *ConfigResolver) Resolve(kind Kind, name string) map[string]string {
	options := make(map[string]string)
	if r.Source == nil {
		return options
	}

	values := r.Source.All()
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	prefix := r.keyPrefix(kind, name)
	exact := make(map[string]bool)
	for _, key := range keys {
		upper := strings.ToUpper(key)
		if !strings.HasPrefix(upper, prefix) {
			continue
		}
		option := strings.ToLower(upper[len(prefix):])
		if option == "" || exact[option] {
			continue
		}
		if _, seen := options[option]; seen && key != upper {
			continue
		}
		options[option] = values[key]
		exact[option] = key == upper
	}
	return options
}

// Apply resolves the unit's options and, when the unit is Configurable,
// writes them into its config struct. Fields that already hold a non-zero
// value are explicit defaults and keep their value. The resolved options
// are returned either way.
func (r *ConfigResolver) Apply(kind Kind, name string, unit Unit) (map[string]string, error) {
	options := r.Resolve(kind, name)

	configurable, ok := unit.(Configurable)
	if !ok {
		return options, nil
	}

	cfg := configurable.Config()
	rv := reflect.ValueOf(cfg)
	if cfg == nil || rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return options, fmt.Errorf("%w: %w: got %T", ErrConfiguration, ErrConfigNotPointer, cfg)
	}

	used := make(map[string]bool)
	var errs []error
	r.fillStruct(rv.Elem(), options, used, kind, name, &errs)

	unknown := make([]string, 0)
	for option := range options {
		if !used[option] {
			unknown = append(unknown, option)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		r.logger.Debug("Ignoring unrecognized options", "kind", kind.String(), "unit", name, "options", unknown)
	}

	if len(errs) > 0 {
		return options, fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(errs...))
	}
	return options, nil
}

func (r *ConfigResolver) fillStruct(rv reflect.Value, options map[string]string, used map[string]bool, kind Kind, name string, errs *[]error) {
	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rt.Field(i)

		if !fieldType.IsExported() && !fieldType.Anonymous {
			continue
		}

		option, tagged := fieldType.Tag.Lookup(OptionTag)
		if !tagged || option == "-" {
			switch {
			case field.Kind() == reflect.Struct && fieldType.Type != reflect.TypeOf(time.Time{}):
				r.fillStruct(field, options, used, kind, name, errs)
			case field.Kind() == reflect.Pointer && !field.IsNil() && field.Elem().Kind() == reflect.Struct:
				r.fillStruct(field.Elem(), options, used, kind, name, errs)
			}
			continue
		}

		option = strings.ToLower(option)
		value, present := options[option]
		if !present {
			continue
		}
		used[option] = true

		if !field.IsZero() {
			r.logger.Debug("Keeping explicit default", "kind", kind.String(), "unit", name, "option", option)
			continue
		}
		if !field.CanSet() {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			*errs = append(*errs, fmt.Errorf("option '%s': %w", option, err))
		}
	}
}

var durationType = reflect.TypeOf(time.Duration(0))

// basicTypes maps a kind to its predeclared type so named types such as
// `type mode string` are converted through their underlying type.
var basicTypes = map[reflect.Kind]reflect.Type{
	reflect.String:  reflect.TypeOf(""),
	reflect.Bool:    reflect.TypeOf(false),
	reflect.Int:     reflect.TypeOf(int(0)),
	reflect.Int8:    reflect.TypeOf(int8(0)),
	reflect.Int16:   reflect.TypeOf(int16(0)),
	reflect.Int32:   reflect.TypeOf(int32(0)),
	reflect.Int64:   reflect.TypeOf(int64(0)),
	reflect.Uint:    reflect.TypeOf(uint(0)),
	reflect.Uint8:   reflect.TypeOf(uint8(0)),
	reflect.Uint16:  reflect.TypeOf(uint16(0)),
	reflect.Uint32:  reflect.TypeOf(uint32(0)),
	reflect.Uint64:  reflect.TypeOf(uint64(0)),
	reflect.Float32: reflect.TypeOf(float32(0)),
	reflect.Float64: reflect.TypeOf(float64(0)),
}

func setFieldValue(field reflect.Value, raw string) error {
	raw = strings.TrimSpace(raw)

	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("cannot convert '%s' to duration: %w", raw, err)
		}
		field.SetInt(int64(d))
		return nil

	case field.Kind() == reflect.Slice:
		parts := strings.Split(raw, ",")
		slice := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			elem := reflect.New(field.Type().Elem()).Elem()
			if err := setFieldValue(elem, part); err != nil {
				return err
			}
			slice = reflect.Append(slice, elem)
		}
		field.Set(slice)
		return nil
	}

	target := field.Type()
	if basic, ok := basicTypes[field.Kind()]; ok {
		target = basic
	}
	converted, err := cast.FromType(raw, target)
	if err != nil {
		return fmt.Errorf("cannot convert value to type %v: %w", field.Type(), err)
	}

	v := reflect.ValueOf(converted)
	if !v.Type().AssignableTo(field.Type()) {
		if !v.Type().ConvertibleTo(field.Type()) {
			return fmt.Errorf("cannot assign %v to %v", v.Type(), field.Type())
		}
		v = v.Convert(field.Type())
	}
	field.Set(v)
	return nil
}

// Options lists the option names a unit reads, sorted. Units that are not
// Configurable have none.
func Options(unit Unit) []string {
	c, ok := unit.(Configurable)
	if !ok {
		return nil
	}
	rv := reflect.ValueOf(c.Config())
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil
	}

	var names []string
	collectOptions(rv.Elem().Type(), &names)
	sort.Strings(names)
	return names
}

func collectOptions(t reflect.Type, names *[]string) {
	if t.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() && !f.Anonymous {
			continue
		}
		option, tagged := f.Tag.Lookup(OptionTag)
		if !tagged || option == "-" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct && ft != reflect.TypeOf(time.Time{}) {
				collectOptions(ft, names)
			}
			continue
		}
		*names = append(*names, strings.ToLower(option))
	}
}
