package service

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
	"github.com/boddenberg/bankfeed-sync/internal/port"
)

const kindDisplayName = "display name"

// NameRules is an immutable snapshot of the display name rules.
type NameRules struct {
	set *ruleSet[string]
}

// NewNameRules builds a snapshot from stored rules.
func NewNameRules(rules []domain.DisplayNameRule) *NameRules {
	rs := make([]rule[string], 0, len(rules))
	for _, r := range rules {
		rs = append(rs, rule[string]{kind: r.Kind, pattern: r.Pattern, value: r.DisplayName})
	}
	return &NameRules{set: newRuleSet(kindDisplayName, rs)}
}

// DisplayNameFor maps a raw counterparty name to its display name. Without a
// matching rule the raw name is returned unchanged.
func (n *NameRules) DisplayNameFor(raw string) (string, error) {
	name, ok, err := n.set.resolve(raw)
	if err != nil {
		return "", err
	}
	if !ok {
		return raw, nil
	}
	return name, nil
}

// NameService manages display name rules.
type NameService struct {
	store  port.DisplayNameStore
	logger *zap.Logger
}

// NewNameService creates the display name service.
func NewNameService(store port.DisplayNameStore, logger *zap.Logger) *NameService {
	return &NameService{store: store, logger: logger}
}

// Rules loads the current rules as a snapshot.
func (s *NameService) Rules(ctx context.Context) (*NameRules, error) {
	rules, err := s.store.ListDisplayNameRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list display name rules: %w", err)
	}
	return NewNameRules(rules), nil
}

// DisplayNameFor resolves one raw counterparty name against the stored rules.
func (s *NameService) DisplayNameFor(ctx context.Context, raw string) (string, error) {
	ctx, span := tracer.Start(ctx, "NameService.DisplayNameFor")
	defer span.End()
	span.SetAttributes(attribute.String("counterparty.name", raw))

	rules, err := s.Rules(ctx)
	if err != nil {
		return "", err
	}
	return rules.DisplayNameFor(raw)
}

// ListRules returns every stored rule.
func (s *NameService) ListRules(ctx context.Context) ([]domain.DisplayNameRule, error) {
	return s.store.ListDisplayNameRules(ctx)
}

// UpsertRule creates or replaces the rule with the same kind and pattern.
func (s *NameService) UpsertRule(ctx context.Context, r domain.DisplayNameRule) error {
	if err := validateRule(r.Kind, r.Pattern); err != nil {
		return err
	}
	r.Pattern = strings.TrimSpace(r.Pattern)
	r.DisplayName = strings.TrimSpace(r.DisplayName)
	if r.DisplayName == "" {
		return &domain.ErrValidation{Field: "display_name", Message: "must not be empty"}
	}

	if err := s.store.UpsertDisplayNameRule(ctx, r); err != nil {
		return fmt.Errorf("upsert display name rule: %w", err)
	}
	s.logger.Info("display name rule saved",
		zap.String("kind", string(r.Kind)),
		zap.String("pattern", r.Pattern),
		zap.String("display_name", r.DisplayName),
	)
	return nil
}

// DeleteRule removes a rule. A missing rule is *domain.ErrNotFound.
func (s *NameService) DeleteRule(ctx context.Context, kind domain.MatchKind, pattern string) error {
	if err := validateRule(kind, pattern); err != nil {
		return err
	}
	return s.store.DeleteDisplayNameRule(ctx, kind, pattern)
}

// InitialiseFromConfig replaces every stored rule with rules. It refuses to
// run without force since existing rules are lost.
func (s *NameService) InitialiseFromConfig(ctx context.Context, rules []domain.DisplayNameRule, force bool) (int, error) {
	if !force {
		return 0, &domain.ErrValidation{Field: "force", Message: "initialising display names replaces all existing rules; pass force=true"}
	}
	for i := range rules {
		if err := validateRule(rules[i].Kind, rules[i].Pattern); err != nil {
			return 0, err
		}
		if strings.TrimSpace(rules[i].DisplayName) == "" {
			return 0, &domain.ErrValidation{Field: "display_name", Message: "must not be empty for " + rules[i].Pattern}
		}
	}

	if err := s.store.ReplaceDisplayNameRules(ctx, rules); err != nil {
		return 0, fmt.Errorf("replace display name rules: %w", err)
	}
	s.logger.Info("display name rules initialised", zap.Int("count", len(rules)))
	return len(rules), nil
}
