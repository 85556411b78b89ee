package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
)

// Enricher applies display names and categories to transactions at read time.
type Enricher struct {
	names      *NameService
	categories *CategoryService
}

// NewEnricher creates an enricher over the two rule services.
func NewEnricher(names *NameService, categories *CategoryService) *Enricher {
	return &Enricher{names: names, categories: categories}
}

// Snapshot loads both rule sets once so a whole batch is enriched against
// the same rules.
func (e *Enricher) Snapshot(ctx context.Context) (*Enrichment, error) {
	names, err := e.names.Rules(ctx)
	if err != nil {
		return nil, err
	}
	cats, err := e.categories.Rules(ctx)
	if err != nil {
		return nil, err
	}
	return &Enrichment{names: names, categories: cats}, nil
}

// Enrichment is a loaded pair of rule snapshots.
type Enrichment struct {
	names      *NameRules
	categories *CategoryRules
}

// Apply sets the display name and, when no manual category is stored, the
// mapped category of every transaction in place. The first integrity fault
// aborts the batch.
func (en *Enrichment) Apply(txs []domain.Transaction) error {
	for i := range txs {
		t := &txs[i]

		display, err := en.names.DisplayNameFor(t.Counterparty.Name)
		if err != nil {
			return fmt.Errorf("enrich transaction %s: %w", t.ID, err)
		}
		t.Counterparty.DisplayName = display

		if t.Category != nil {
			continue
		}
		cat, err := en.categories.CategoryFor(display)
		if err != nil {
			return fmt.Errorf("enrich transaction %s: %w", t.ID, err)
		}
		t.Category = cat
	}
	return nil
}

// integrityKind returns the rule kind of an ambiguous match, if err is one.
func integrityKind(err error) (string, bool) {
	var amb *domain.ErrAmbiguousMatch
	if errors.As(err, &amb) {
		return amb.Kind, true
	}
	return "", false
}
