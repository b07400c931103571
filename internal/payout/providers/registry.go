// Package providers wires transfer provider implementations behind a
// name-keyed registry so the active provider is a config choice.
package providers

import (
	"strings"

	"github.com/smallbiznis/creatorpay/internal/payout/domain"
)

type Registry struct {
	providers map[string]domain.TransferProvider
}

func NewRegistry(provs ...domain.TransferProvider) *Registry {
	m := make(map[string]domain.TransferProvider, len(provs))
	for _, p := range provs {
		m[normalize(p.Provider())] = p
	}
	return &Registry{providers: m}
}

func (r *Registry) Provider(name string) (domain.TransferProvider, error) {
	p, ok := r.providers[normalize(name)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return p, nil
}

func (r *Registry) Exists(name string) bool {
	_, ok := r.providers[normalize(name)]
	return ok
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
