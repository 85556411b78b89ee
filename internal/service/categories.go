package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
	"github.com/boddenberg/bankfeed-sync/internal/port"
)

const kindCategory = "category"

// CategoryRules is an immutable snapshot of the category map.
type CategoryRules struct {
	set *ruleSet[domain.Category]
}

// NewCategoryRules builds a snapshot from stored map entries.
func NewCategoryRules(entries []domain.CategoryMapEntry) *CategoryRules {
	rs := make([]rule[domain.Category], 0, len(entries))
	for _, e := range entries {
		rs = append(rs, rule[domain.Category]{kind: e.Kind, pattern: e.Pattern, value: e.Category})
	}
	return &CategoryRules{set: newRuleSet(kindCategory, rs)}
}

// CategoryFor returns the category assigned to a display name, or nil.
func (c *CategoryRules) CategoryFor(displayName string) (*domain.Category, error) {
	cat, ok, err := c.set.resolve(displayName)
	if err != nil || !ok {
		return nil, err
	}
	return &cat, nil
}

// CategoryService manages categories and the category map.
type CategoryService struct {
	store  port.Store
	logger *zap.Logger
}

// NewCategoryService creates the category service.
func NewCategoryService(store port.Store, logger *zap.Logger) *CategoryService {
	return &CategoryService{store: store, logger: logger}
}

// Rules loads the current category map as a snapshot.
func (s *CategoryService) Rules(ctx context.Context) (*CategoryRules, error) {
	entries, err := s.store.ListCategoryMapEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list category map: %w", err)
	}
	return NewCategoryRules(entries), nil
}

// CategoryFor resolves one display name against the stored category map.
func (s *CategoryService) CategoryFor(ctx context.Context, displayName string) (*domain.Category, error) {
	ctx, span := tracer.Start(ctx, "CategoryService.CategoryFor")
	defer span.End()
	span.SetAttributes(attribute.String("display_name", displayName))

	rules, err := s.Rules(ctx)
	if err != nil {
		return nil, err
	}
	return rules.CategoryFor(displayName)
}

// ListCategories returns categories ordered by group then name.
func (s *CategoryService) ListCategories(ctx context.Context) ([]domain.Category, error) {
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(cats, func(i, j int) bool {
		if cats[i].Group.Name != cats[j].Group.Name {
			return cats[i].Group.Name < cats[j].Group.Name
		}
		return cats[i].Name < cats[j].Name
	})
	return cats, nil
}

// ListGroups returns every category group.
func (s *CategoryService) ListGroups(ctx context.Context) ([]domain.CategoryGroup, error) {
	return s.store.ListCategoryGroups(ctx)
}

func (s *CategoryService) exists(ctx context.Context, group, name, exceptID string) (bool, error) {
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range cats {
		if c.ID != exceptID && strings.EqualFold(c.Group.Name, group) && strings.EqualFold(c.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func requireName(field, v string) (string, error) {
	v = domain.Capitalize(v)
	if v == "" {
		return "", &domain.ErrValidation{Field: field, Message: "must not be empty"}
	}
	return v, nil
}

// MakeCategory creates a category in group, creating the group if needed.
// Both names are capitalised. A duplicate (group, name) is rejected.
func (s *CategoryService) MakeCategory(ctx context.Context, group, name string) (*domain.Category, error) {
	ctx, span := tracer.Start(ctx, "CategoryService.MakeCategory")
	defer span.End()

	group, err := requireName("group", group)
	if err != nil {
		return nil, err
	}
	name, err = requireName("name", name)
	if err != nil {
		return nil, err
	}

	dup, err := s.exists(ctx, group, name, "")
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, &domain.ErrValidation{Field: "name", Message: fmt.Sprintf("category %s/%s already exists", group, name)}
	}

	cat, err := s.store.InsertCategory(ctx, group, name)
	if err != nil {
		return nil, err
	}
	s.logger.Info("category created", zap.String("id", cat.ID), zap.String("group", cat.Group.Name), zap.String("name", cat.Name))
	return cat, nil
}

func (s *CategoryService) get(ctx context.Context, id string) (*domain.Category, error) {
	cat, err := s.store.GetCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	if cat == nil {
		return nil, &domain.ErrNotFound{Resource: "category", ID: id}
	}
	return cat, nil
}

func (s *CategoryService) update(ctx context.Context, cat *domain.Category) (*domain.Category, error) {
	dup, err := s.exists(ctx, cat.Group.Name, cat.Name, cat.ID)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, &domain.ErrValidation{Field: "name", Message: fmt.Sprintf("category %s/%s already exists", cat.Group.Name, cat.Name)}
	}
	return s.store.UpdateCategory(ctx, *cat)
}

// RenameCategory renames a category in place. Its id and map entries are kept.
func (s *CategoryService) RenameCategory(ctx context.Context, id, newName string) (*domain.Category, error) {
	name, err := requireName("name", newName)
	if err != nil {
		return nil, err
	}
	cat, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	cat.Name = name
	return s.update(ctx, cat)
}

// ChangeCategoryGroup moves a category to another group, creating it if needed.
func (s *CategoryService) ChangeCategoryGroup(ctx context.Context, id, newGroup string) (*domain.Category, error) {
	group, err := requireName("group", newGroup)
	if err != nil {
		return nil, err
	}
	cat, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	cat.Group = domain.CategoryGroup{Name: group}
	return s.update(ctx, cat)
}

// DeleteCategory removes an unused category.
func (s *CategoryService) DeleteCategory(ctx context.Context, id string) error {
	cat, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		var inUse *domain.ErrCategoryInUse
		if errors.As(err, &inUse) && inUse.Name == "" {
			inUse.Name = cat.Name
		}
		return err
	}
	s.logger.Info("category deleted", zap.String("id", id), zap.String("name", cat.Name))
	return nil
}

// AssignCategory maps a display name (exact) or fragment to a category.
func (s *CategoryService) AssignCategory(ctx context.Context, kind domain.MatchKind, pattern, categoryID string) (*domain.CategoryMapEntry, error) {
	if err := validateRule(kind, pattern); err != nil {
		return nil, err
	}
	cat, err := s.get(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	pattern = strings.TrimSpace(pattern)
	if err := s.store.UpsertCategoryMapEntry(ctx, kind, pattern, categoryID); err != nil {
		return nil, fmt.Errorf("assign category: %w", err)
	}
	return &domain.CategoryMapEntry{Kind: kind, Pattern: pattern, Category: *cat}, nil
}

// UnassignCategory removes a category map entry.
func (s *CategoryService) UnassignCategory(ctx context.Context, kind domain.MatchKind, pattern string) error {
	if err := validateRule(kind, pattern); err != nil {
		return err
	}
	return s.store.DeleteCategoryMapEntry(ctx, kind, pattern)
}

// ListAssignments returns the category map.
func (s *CategoryService) ListAssignments(ctx context.Context) ([]domain.CategoryMapEntry, error) {
	return s.store.ListCategoryMapEntries(ctx)
}

// SetTransactionCategory sets or clears (nil) the manual category of a stored
// transaction. A manual category takes precedence over the category map.
func (s *CategoryService) SetTransactionCategory(ctx context.Context, transactionID string, categoryID *string) error {
	if strings.TrimSpace(transactionID) == "" {
		return &domain.ErrValidation{Field: "transaction_id", Message: "must not be empty"}
	}
	if categoryID != nil {
		if _, err := s.get(ctx, *categoryID); err != nil {
			return err
		}
	}
	return s.store.SetTransactionCategory(ctx, transactionID, categoryID)
}

// InitialiseCategoriesFromConfig replaces all categories with groups → names.
// The category map is purged and transaction category references are cleared
// in the same store operation. Requires force.
func (s *CategoryService) InitialiseCategoriesFromConfig(ctx context.Context, groups map[string][]string, force bool) ([]domain.Category, error) {
	if !force {
		return nil, &domain.ErrValidation{Field: "force", Message: "initialising categories deletes all categories and assignments; pass force=true"}
	}

	canonical := make(map[string][]string, len(groups))
	for g, names := range groups {
		group, err := requireName("group", g)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			name, err := requireName("name", n)
			if err != nil {
				return nil, err
			}
			canonical[group] = append(canonical[group], name)
		}
	}

	cats, err := s.store.ReplaceCategories(ctx, canonical)
	if err != nil {
		return nil, fmt.Errorf("replace categories: %w", err)
	}
	sort.Slice(cats, func(i, j int) bool {
		if cats[i].Group.Name != cats[j].Group.Name {
			return cats[i].Group.Name < cats[j].Group.Name
		}
		return cats[i].Name < cats[j].Name
	})
	s.logger.Info("categories initialised", zap.Int("count", len(cats)))
	return cats, nil
}
