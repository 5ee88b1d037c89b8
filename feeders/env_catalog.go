// Package feeders collects configuration key/value pairs from the process
// environment, .env files and units files into a single catalog that the
// runtime's ConfigResolver reads from.
package feeders

import (
	"os"
	"strings"
	"sync"
)

// Source names recorded per key.
const (
	SourceOSEnv  = "os_env"
	SourceDotEnv = "dotenv"
	SourceFile   = "units_file"
	SourceManual = "manual"
)

// EnvCatalog manages a unified view of configuration variables from multiple sources.
// OS environment variables always take precedence; among file sources the
// first one to provide a key wins.
type EnvCatalog struct {
	variables map[string]string
	mutex     sync.RWMutex
	sources   map[string]string // tracks which source provided each variable
}

// NewEnvCatalog creates a catalog pre-loaded with the OS environment.
func NewEnvCatalog() *EnvCatalog {
	catalog := NewEmptyCatalog()
	catalog.loadOSEnvironment(os.Environ())
	return catalog
}

// NewEmptyCatalog creates a catalog that ignores the OS environment.
func NewEmptyCatalog() *EnvCatalog {
	return &EnvCatalog{
		variables: make(map[string]string),
		sources:   make(map[string]string),
	}
}

func (c *EnvCatalog) loadOSEnvironment(environ []string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, env := range environ {
		if key, value, ok := strings.Cut(env, "="); ok {
			c.variables[key] = value
			c.sources[key] = SourceOSEnv
		}
	}
}

// Merge adds values from a lower-precedence source. Keys already present
// are kept.
func (c *EnvCatalog) Merge(values map[string]string, source string) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	added := 0
	for key, value := range values {
		if _, exists := c.variables[key]; exists {
			continue
		}
		c.variables[key] = value
		c.sources[key] = source
		added++
	}
	return added
}

// LoadFromDotEnv loads variables from a .env file into the catalog.
func (c *EnvCatalog) LoadFromDotEnv(filename string) (int, error) {
	values, err := parseDotEnvFile(filename)
	if err != nil {
		return 0, err
	}
	return c.Merge(values, SourceDotEnv+":"+filename), nil
}

// Set manually sets a variable in the catalog, overriding any source.
func (c *EnvCatalog) Set(key, value string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.variables[key] = value
	c.sources[key] = SourceManual
}

// Get retrieves a variable from the catalog.
func (c *EnvCatalog) Get(key string) (string, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	value, exists := c.variables[key]
	return value, exists
}

// Source returns the source that provided a variable.
func (c *EnvCatalog) Source(key string) string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.sources[key]
}

// All returns a copy of every variable in the catalog.
func (c *EnvCatalog) All() map[string]string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make(map[string]string, len(c.variables))
	for k, v := range c.variables {
		result[k] = v
	}
	return result
}
