// Package memstore is an in-memory implementation of port.Store.
// It is used in tests and when no DATABASE_URL is configured.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
	"github.com/boddenberg/bankfeed-sync/internal/port"
)

var _ port.Store = (*Store)(nil)

type ruleKey struct {
	kind    domain.MatchKind
	pattern string
}

func keyOf(kind domain.MatchKind, pattern string) ruleKey {
	return ruleKey{kind: kind, pattern: strings.ToLower(strings.TrimSpace(pattern))}
}

type storedTx struct {
	tx         domain.Transaction
	categoryID string
}

type storedCategory struct {
	id      string
	name    string
	groupID string
}

type mapEntry struct {
	kind       domain.MatchKind
	pattern    string
	categoryID string
}

// Store keeps every table in maps guarded by a single RWMutex.
type Store struct {
	mu sync.RWMutex

	banks          map[string]domain.Bank
	accounts       map[string]domain.Account
	counterparties map[string]domain.Counterparty
	txs            map[string]storedTx
	names          map[ruleKey]domain.DisplayNameRule
	groups         map[string]domain.CategoryGroup
	categories     map[string]storedCategory
	catMap         map[ruleKey]mapEntry
}

// New creates an empty store.
func New() *Store {
	return &Store{
		banks:          make(map[string]domain.Bank),
		accounts:       make(map[string]domain.Account),
		counterparties: make(map[string]domain.Counterparty),
		txs:            make(map[string]storedTx),
		names:          make(map[ruleKey]domain.DisplayNameRule),
		groups:         make(map[string]domain.CategoryGroup),
		categories:     make(map[string]storedCategory),
		catMap:         make(map[ruleKey]mapEntry),
	}
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// ============================================================
// Accounts
// ============================================================

func (s *Store) UpsertAccount(_ context.Context, acc domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.banks[acc.BankName]; !ok {
		s.banks[acc.BankName] = domain.Bank{Name: acc.BankName}
	}
	if prev, ok := s.accounts[acc.ID]; ok && acc.CreatedAt.IsZero() {
		acc.CreatedAt = prev.CreatedAt
	}
	s.accounts[acc.ID] = acc
	return nil
}

func (s *Store) ListAccounts(_ context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BankName != out[j].BankName {
			return out[i].BankName < out[j].BankName
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) GetAccount(_ context.Context, accountID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *Store) DeleteAccount(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	delete(s.accounts, accountID)
	for id, st := range s.txs {
		if st.tx.AccountID == accountID {
			delete(s.txs, id)
		}
	}
	return nil
}

func (s *Store) ListBanks(_ context.Context) ([]domain.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Bank, 0, len(s.banks))
	for _, b := range s.banks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ============================================================
// Transactions
// ============================================================

func (s *Store) UpsertTransaction(_ context.Context, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[tx.AccountID]; !ok {
		return &domain.ErrNotFound{Resource: "account", ID: tx.AccountID}
	}

	cp := tx.Counterparty
	cp.DisplayName = ""
	s.counterparties[cp.ID] = cp

	st := storedTx{tx: tx}
	st.tx.Counterparty = cp
	st.tx.Category = nil
	if prev, ok := s.txs[tx.ID]; ok {
		st.categoryID = prev.categoryID
	}
	s.txs[tx.ID] = st
	return nil
}

func (s *Store) TransactionsForAccount(_ context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.collect(func(t domain.Transaction) bool { return t.AccountID == accountID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) TransactionsBetween(_ context.Context, start, end time.Time, accountID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(t domain.Transaction) bool {
		if accountID != "" && t.AccountID != accountID {
			return false
		}
		return !t.Time.Before(start) && !t.Time.After(end)
	}), nil
}

// collect must be called with at least a read lock held.
func (s *Store) collect(keep func(domain.Transaction) bool) []domain.Transaction {
	out := make([]domain.Transaction, 0)
	for _, st := range s.txs {
		if !keep(st.tx) {
			continue
		}
		t := st.tx
		if cp, ok := s.counterparties[t.Counterparty.ID]; ok {
			t.Counterparty = cp
		}
		if st.categoryID != "" {
			if c, ok := s.categoryLocked(st.categoryID); ok {
				t.Category = &c
			}
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.After(out[j].Time)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *Store) SetTransactionCategory(_ context.Context, transactionID string, categoryID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.txs[transactionID]
	if !ok {
		return &domain.ErrNotFound{Resource: "transaction", ID: transactionID}
	}
	if categoryID == nil {
		st.categoryID = ""
	} else {
		if _, ok := s.categories[*categoryID]; !ok {
			return &domain.ErrNotFound{Resource: "category", ID: *categoryID}
		}
		st.categoryID = *categoryID
	}
	s.txs[transactionID] = st
	return nil
}

func (s *Store) CountTransactions(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.txs)), nil
}

// ============================================================
// Display names
// ============================================================

func (s *Store) UpsertDisplayNameRule(_ context.Context, rule domain.DisplayNameRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[keyOf(rule.Kind, rule.Pattern)] = rule
	return nil
}

func (s *Store) DeleteDisplayNameRule(_ context.Context, kind domain.MatchKind, pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(kind, pattern)
	if _, ok := s.names[k]; !ok {
		return &domain.ErrNotFound{Resource: "display name rule", ID: string(kind) + ":" + pattern}
	}
	delete(s.names, k)
	return nil
}

func (s *Store) ListDisplayNameRules(_ context.Context) ([]domain.DisplayNameRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DisplayNameRule, 0, len(s.names))
	for _, r := range s.names {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return strings.ToLower(out[i].Pattern) < strings.ToLower(out[j].Pattern)
	})
	return out, nil
}

func (s *Store) ReplaceDisplayNameRules(_ context.Context, rules []domain.DisplayNameRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.names = make(map[ruleKey]domain.DisplayNameRule, len(rules))
	for _, r := range rules {
		s.names[keyOf(r.Kind, r.Pattern)] = r
	}
	return nil
}

// ============================================================
// Categories
// ============================================================

// categoryLocked must be called with at least a read lock held.
func (s *Store) categoryLocked(id string) (domain.Category, bool) {
	c, ok := s.categories[id]
	if !ok {
		return domain.Category{}, false
	}
	return domain.Category{ID: c.id, Name: c.name, Group: s.groups[c.groupID]}, true
}

// groupByNameLocked finds a group case-insensitively or creates it. Requires the write lock.
func (s *Store) groupByNameLocked(name string) domain.CategoryGroup {
	for _, g := range s.groups {
		if strings.EqualFold(g.Name, name) {
			return g
		}
	}
	g := domain.CategoryGroup{ID: uuid.NewString(), Name: name}
	s.groups[g.ID] = g
	return g
}

func (s *Store) duplicateLocked(groupID, name, exceptID string) bool {
	for _, c := range s.categories {
		if c.id != exceptID && c.groupID == groupID && strings.EqualFold(c.name, name) {
			return true
		}
	}
	return false
}

func (s *Store) ListCategoryGroups(_ context.Context) ([]domain.CategoryGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CategoryGroup, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Category, 0, len(s.categories))
	for id := range s.categories {
		c, _ := s.categoryLocked(id)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group.Name != out[j].Group.Name {
			return out[i].Group.Name < out[j].Group.Name
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) GetCategory(_ context.Context, categoryID string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.categoryLocked(categoryID)
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *Store) InsertCategory(_ context.Context, groupName, name string) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.groupByNameLocked(groupName)
	if s.duplicateLocked(g.ID, name, "") {
		return nil, &domain.ErrValidation{Field: "name", Message: "category " + groupName + "/" + name + " already exists"}
	}
	c := storedCategory{id: uuid.NewString(), name: name, groupID: g.ID}
	s.categories[c.id] = c
	out, _ := s.categoryLocked(c.id)
	return &out, nil
}

func (s *Store) UpdateCategory(_ context.Context, cat domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.categories[cat.ID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "category", ID: cat.ID}
	}
	g := s.groupByNameLocked(cat.Group.Name)
	if s.duplicateLocked(g.ID, cat.Name, cat.ID) {
		return nil, &domain.ErrValidation{Field: "name", Message: "category " + cat.Group.Name + "/" + cat.Name + " already exists"}
	}
	c.name = cat.Name
	c.groupID = g.ID
	s.categories[c.id] = c
	out, _ := s.categoryLocked(c.id)
	return &out, nil
}

func (s *Store) DeleteCategory(_ context.Context, categoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.categories[categoryID]
	if !ok {
		return &domain.ErrNotFound{Resource: "category", ID: categoryID}
	}
	for _, e := range s.catMap {
		if e.categoryID == categoryID {
			return &domain.ErrCategoryInUse{CategoryID: categoryID, Name: c.name}
		}
	}
	for _, st := range s.txs {
		if st.categoryID == categoryID {
			return &domain.ErrCategoryInUse{CategoryID: categoryID, Name: c.name}
		}
	}
	delete(s.categories, categoryID)
	return nil
}

func (s *Store) ReplaceCategories(_ context.Context, groups map[string][]string) ([]domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.catMap = make(map[ruleKey]mapEntry)
	for id, st := range s.txs {
		if st.categoryID != "" {
			st.categoryID = ""
			s.txs[id] = st
		}
	}
	s.categories = make(map[string]storedCategory)
	s.groups = make(map[string]domain.CategoryGroup)

	out := make([]domain.Category, 0)
	for groupName, names := range groups {
		g := s.groupByNameLocked(groupName)
		for _, n := range names {
			if s.duplicateLocked(g.ID, n, "") {
				continue
			}
			c := storedCategory{id: uuid.NewString(), name: n, groupID: g.ID}
			s.categories[c.id] = c
			out = append(out, domain.Category{ID: c.id, Name: n, Group: g})
		}
	}
	return out, nil
}

func (s *Store) UpsertCategoryMapEntry(_ context.Context, kind domain.MatchKind, pattern, categoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[categoryID]; !ok {
		return &domain.ErrNotFound{Resource: "category", ID: categoryID}
	}
	s.catMap[keyOf(kind, pattern)] = mapEntry{kind: kind, pattern: pattern, categoryID: categoryID}
	return nil
}

func (s *Store) DeleteCategoryMapEntry(_ context.Context, kind domain.MatchKind, pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(kind, pattern)
	if _, ok := s.catMap[k]; !ok {
		return &domain.ErrNotFound{Resource: "category assignment", ID: string(kind) + ":" + pattern}
	}
	delete(s.catMap, k)
	return nil
}

func (s *Store) ListCategoryMapEntries(_ context.Context) ([]domain.CategoryMapEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CategoryMapEntry, 0, len(s.catMap))
	for _, e := range s.catMap {
		c, ok := s.categoryLocked(e.categoryID)
		if !ok {
			continue
		}
		out = append(out, domain.CategoryMapEntry{Kind: e.kind, Pattern: e.pattern, Category: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return strings.ToLower(out[i].Pattern) < strings.ToLower(out[j].Pattern)
	})
	return out, nil
}
