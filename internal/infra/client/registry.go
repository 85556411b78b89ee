package client

import (
	"fmt"
	"sort"

	"github.com/boddenberg/bankfeed-sync/internal/config"
	"github.com/boddenberg/bankfeed-sync/internal/port"
)

var _ port.ProviderRegistry = (*Registry)(nil)

// Constructor builds a provider for one configured bank.
type Constructor func(bank config.BankConfig, opts StarlingOptions) port.Provider

// constructors maps a bank kind to its adapter.
var constructors = map[string]Constructor{
	"starling": func(bank config.BankConfig, opts StarlingOptions) port.Provider {
		return NewStarlingClient(bank.Name, bank.BaseURL, bank.Token, opts)
	},
}

// Registry resolves providers by bank name. It is built once at startup and
// read-only afterwards.
type Registry struct {
	providers map[string]port.Provider
}

// NewRegistry builds a provider for every configured bank.
func NewRegistry(banks []config.BankConfig, opts StarlingOptions) (*Registry, error) {
	r := &Registry{providers: make(map[string]port.Provider, len(banks))}
	for _, b := range banks {
		ctor, ok := constructors[b.Kind]
		if !ok {
			return nil, fmt.Errorf("bank %q: unsupported provider kind %q", b.Name, b.Kind)
		}
		r.providers[b.Name] = ctor(b, opts)
	}
	return r, nil
}

// NewStaticRegistry wraps already-built providers, keyed by bank name.
func NewStaticRegistry(providers map[string]port.Provider) *Registry {
	r := &Registry{providers: make(map[string]port.Provider, len(providers))}
	for name, p := range providers {
		r.providers[name] = p
	}
	return r
}

// Provider returns the provider for bankName.
func (r *Registry) Provider(bankName string) (port.Provider, bool) {
	p, ok := r.providers[bankName]
	return p, ok
}

// Banks returns the registered bank names in sorted order.
func (r *Registry) Banks() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases resources of providers that hold any.
func (r *Registry) Close() {
	for _, p := range r.providers {
		if c, ok := p.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
