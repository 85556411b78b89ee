package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
)

func upsertName(t *testing.T, f *fixture, kind domain.MatchKind, pattern, display string) {
	t.Helper()
	err := f.names.UpsertRule(context.Background(), domain.DisplayNameRule{Kind: kind, Pattern: pattern, DisplayName: display})
	if err != nil {
		t.Fatalf("upsert rule %s: %v", pattern, err)
	}
}

func TestDisplayNameFor_AmbiguousFragments(t *testing.T) {
	f := newFixture()
	upsertName(t, f, domain.MatchFragment, "BP", "BP Fuel")
	upsertName(t, f, domain.MatchFragment, "DUNDEE", "Dundee Shops")

	_, err := f.names.DisplayNameFor(context.Background(), "BP (DUNDEE)")

	var amb *domain.ErrAmbiguousMatch
	if !errors.As(err, &amb) {
		t.Fatalf("expected ErrAmbiguousMatch, got %v", err)
	}
	if amb.Input != "BP (DUNDEE)" || len(amb.Patterns) != 2 {
		t.Errorf("unexpected fault details %+v", amb)
	}
}

func TestDisplayNameFor_ExactBeforeFragment(t *testing.T) {
	f := newFixture()
	upsertName(t, f, domain.MatchExact, "WATERSTONES", "Waterstones")
	upsertName(t, f, domain.MatchFragment, "WATER", "Water Board")
	upsertName(t, f, domain.MatchFragment, "STONES", "Stones Bar")

	got, err := f.names.DisplayNameFor(context.Background(), "waterstones")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Waterstones" {
		t.Errorf("expected exact rule to win, got %q", got)
	}
}

func TestDisplayNameFor_SingleFragment(t *testing.T) {
	f := newFixture()
	upsertName(t, f, domain.MatchFragment, "tesco", "Tesco")

	got, err := f.names.DisplayNameFor(context.Background(), "TESCO STORES 2931")
	if err != nil || got != "Tesco" {
		t.Fatalf("expected Tesco, got %q / %v", got, err)
	}
}

func TestDisplayNameFor_NoMatchPassthrough(t *testing.T) {
	f := newFixture()
	upsertName(t, f, domain.MatchExact, "WATERSTONES", "Waterstones")

	got, err := f.names.DisplayNameFor(context.Background(), "CORNER SHOP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "CORNER SHOP" {
		t.Errorf("expected raw name back, got %q", got)
	}
}

func TestUpsertRule_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	cases := []domain.DisplayNameRule{
		{Kind: "prefix", Pattern: "A", DisplayName: "A"},
		{Kind: domain.MatchExact, Pattern: "  ", DisplayName: "A"},
		{Kind: domain.MatchExact, Pattern: "A", DisplayName: ""},
	}
	for _, c := range cases {
		var ve *domain.ErrValidation
		if err := f.names.UpsertRule(ctx, c); !errors.As(err, &ve) {
			t.Errorf("expected ErrValidation for %+v, got %v", c, err)
		}
	}
	if rules, _ := f.names.ListRules(ctx); len(rules) != 0 {
		t.Errorf("expected no rules stored, got %+v", rules)
	}
}

func TestDeleteRule_Missing(t *testing.T) {
	f := newFixture()
	err := f.names.DeleteRule(context.Background(), domain.MatchExact, "nothing")
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInitialiseFromConfig(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	upsertName(t, f, domain.MatchExact, "OLD", "Old")

	rules := []domain.DisplayNameRule{
		{Kind: domain.MatchExact, Pattern: "WATERSTONES", DisplayName: "Waterstones"},
		{Kind: domain.MatchFragment, Pattern: "TESCO", DisplayName: "Tesco"},
	}

	var ve *domain.ErrValidation
	if _, err := f.names.InitialiseFromConfig(ctx, rules, false); !errors.As(err, &ve) {
		t.Fatalf("expected force to be required, got %v", err)
	}

	n, err := f.names.InitialiseFromConfig(ctx, rules, true)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 rules initialised, got %d / %v", n, err)
	}
	stored, _ := f.names.ListRules(ctx)
	if len(stored) != 2 {
		t.Errorf("expected old rules replaced, got %+v", stored)
	}
}
