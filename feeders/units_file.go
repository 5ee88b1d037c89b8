package feeders

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// UnitsFile is the decoded content of a YAML or TOML units file.
//
// The file holds one section per unit, grouped by kind, plus an optional
// settings section read by the command line bootstrap:
//
//	settings:
//	  log_level: debug
//	services:
//	  mega:
//	    username: me@example.org
//	modules:
//	  scheduledimages:
//	    schedule: "0 * * * *"
type UnitsFile struct {
	Settings map[string]any
	// Values holds every unit option flattened to PREFIX_KIND_UNIT_OPTION keys.
	Values map[string]string
}

var kindSections = map[string]string{
	"services": "SERVICE",
	"service":  "SERVICE",
	"modules":  "MODULE",
	"module":   "MODULE",
}

// LoadUnitsFile reads a units file. The format is chosen by extension:
// .yaml/.yml or .toml.
func LoadUnitsFile(path, prefix string) (*UnitsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read units file: %w", err)
	}

	raw := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err = yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse YAML units file: %w", err)
		}
	case ".toml":
		if err = toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse TOML units file: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnitsFileUnsupportedFormat, path)
	}

	return flattenUnits(raw, prefix)
}

// LoadUnitsFile reads a units file and merges its unit options into the catalog.
func (c *EnvCatalog) LoadUnitsFile(path, prefix string) (*UnitsFile, error) {
	f, err := LoadUnitsFile(path, prefix)
	if err != nil {
		return nil, err
	}
	c.Merge(f.Values, SourceFile+":"+path)
	return f, nil
}

func flattenUnits(raw map[string]any, prefix string) (*UnitsFile, error) {
	out := &UnitsFile{Settings: map[string]any{}, Values: map[string]string{}}
	prefix = strings.ToUpper(prefix)

	for section, body := range raw {
		if strings.EqualFold(section, "settings") {
			settings, ok := body.(map[string]any)
			if !ok {
				return nil, wrapSectionError(section, body)
			}
			out.Settings = settings
			continue
		}

		kind, ok := kindSections[strings.ToLower(section)]
		if !ok {
			return nil, wrapSectionError(section, body)
		}
		units, ok := body.(map[string]any)
		if !ok {
			return nil, wrapSectionError(section, body)
		}

		for unit, optsBody := range units {
			opts, ok := optsBody.(map[string]any)
			if !ok {
				return nil, wrapSectionError(section+"."+unit, optsBody)
			}
			for option, value := range opts {
				path := section + "." + unit + "." + option
				str, err := scalarString(path, value)
				if err != nil {
					return nil, err
				}
				key := strings.ToUpper(strings.Join([]string{prefix, kind, unit, option}, "_"))
				out.Values[key] = str
			}
		}
	}

	return out, nil
}

func scalarString(path string, value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case time.Time:
		return v.Format(time.RFC3339), nil
	case []any:
		parts := make([]string, 0, len(v))
		for i, item := range v {
			s, err := scalarString(fmt.Sprintf("%s[%d]", path, i), item)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	default:
		return "", wrapValueError(path, value)
	}
}

// Keys returns the flattened keys in sorted order.
func (f *UnitsFile) Keys() []string {
	keys := make([]string, 0, len(f.Values))
	for k := range f.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
