package llm

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Config carries the provider-neutral settings a factory needs.
type Config struct {
	Model   string
	APIKey  string
	BaseURL string // optional endpoint override
	Logger  *slog.Logger
}

// Factory constructs a Provider from a Config.
type Factory func(cfg Config) (Provider, error)

var (
	factoryMu sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a provider factory available under the given name.
// Providers register themselves from init; Register panics on a
// duplicate name, which would indicate a programming error.
func Register(name string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("llm: Register called twice for provider %q", name))
	}
	factories[name] = f
}

// Names returns the registered provider names, sorted.
func Names() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New constructs the named provider. An unregistered name is an error
// listing what is available.
func New(name string, cfg Config) (Provider, error) {
	factoryMu.RLock()
	f, ok := factories[name]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q (registered: %v)", name, Names())
	}
	return f(cfg)
}
