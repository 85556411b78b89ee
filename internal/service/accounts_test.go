package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
)

func TestSyncAccounts(t *testing.T) {
	f := newFixture("starling", "monzo")
	ctx := context.Background()

	f.providers["starling"].accounts = []domain.Account{{ID: "acc-1", Name: "Personal", Currency: "GBP"}}
	f.providers["monzo"].accounts = []domain.Account{{ID: "acc-2", Name: "Joint", Currency: "GBP"}}

	accounts, err := f.accounts.SyncAccounts(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	for _, a := range accounts {
		if a.BankName == "" {
			t.Errorf("expected bank name set on %s", a.ID)
		}
	}
	banks, _ := f.store.ListBanks(ctx)
	if len(banks) != 2 {
		t.Errorf("expected banks created on first account, got %+v", banks)
	}
	if n := f.recorder.Count(domain.EventAccountsSynced); n != 1 {
		t.Errorf("expected 1 accounts.synced event, got %d", n)
	}
}

func TestSyncAccounts_OneBankFails(t *testing.T) {
	f := newFixture("starling", "monzo")
	f.providers["starling"].accounts = []domain.Account{{ID: "acc-1", Currency: "GBP"}}
	f.providers["monzo"].listErr = &domain.ErrUnauthorized{Message: "token expired"}

	accounts, err := f.accounts.SyncAccounts(context.Background())
	if err != nil {
		t.Fatalf("one failing bank must not fail the call: %v", err)
	}
	if len(accounts) != 1 || accounts[0].ID != "acc-1" {
		t.Errorf("expected starling account only, got %+v", accounts)
	}
}

func TestSyncAccounts_AllBanksFail(t *testing.T) {
	f := newFixture("starling")
	f.providers["starling"].listErr = &domain.ErrUnauthorized{Message: "token expired"}

	_, err := f.accounts.SyncAccounts(context.Background())
	var ue *domain.ErrUnauthorized
	if !errors.As(err, &ue) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestListAccounts_RefreshesWhenEmptyOrForced(t *testing.T) {
	f := newFixture("starling")
	ctx := context.Background()
	p := f.providers["starling"]
	p.accounts = []domain.Account{{ID: "acc-1", Currency: "GBP"}}

	accounts, err := f.accounts.ListAccounts(ctx, false)
	if err != nil || len(accounts) != 1 {
		t.Fatalf("expected refresh on empty store, got %v / %v", accounts, err)
	}

	p.accounts = append(p.accounts, domain.Account{ID: "acc-2", Currency: "GBP"})
	accounts, _ = f.accounts.ListAccounts(ctx, false)
	if len(accounts) != 1 {
		t.Errorf("expected stored accounts without force, got %d", len(accounts))
	}

	accounts, _ = f.accounts.ListAccounts(ctx, true)
	if len(accounts) != 2 {
		t.Errorf("expected refreshed accounts with force, got %d", len(accounts))
	}
}

func TestGetAccountBalances_PerAccountError(t *testing.T) {
	f := newFixture("starling")
	ctx := context.Background()
	f.addAccount("starling", "acc-1")
	f.addAccount("starling", "acc-2")

	p := f.providers["starling"]
	p.balances["acc-1"] = &domain.Balance{
		AccountID: "acc-1",
		Currency:  "GBP",
		Cleared:   decimal.New(10000, -2),
		Effective: decimal.New(9000, -2),
	}
	p.balanceErr["acc-2"] = &domain.ErrTimeout{Operation: "balance"}

	balances, err := f.accounts.GetAccountBalances(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("expected 2 balances, got %d", len(balances))
	}

	byID := make(map[string]domain.AccountBalance)
	for _, b := range balances {
		byID[b.AccountID] = b
	}
	if b := byID["acc-1"]; b.Balance == nil || b.Error != "" || !b.Balance.Effective.Equal(decimal.NewFromInt(90)) {
		t.Errorf("unexpected acc-1 balance %+v", b)
	}
	if b := byID["acc-2"]; b.Balance != nil || b.Error == "" {
		t.Errorf("expected error slot for acc-2, got %+v", b)
	}
}

func TestDeleteAccount_Cascades(t *testing.T) {
	f := newFixture("starling")
	ctx := context.Background()
	f.addAccount("starling", "acc-1")
	_ = f.store.UpsertTransaction(ctx, feedTx("tx-1", "acc-1", now.Add(-time.Hour), "A", 100))

	if err := f.accounts.DeleteAccount(ctx, "acc-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, _ := f.store.CountTransactions(ctx); n != 0 {
		t.Errorf("expected transactions removed, got %d", n)
	}
	if n := f.recorder.Count(domain.EventAccountDeleted); n != 1 {
		t.Errorf("expected 1 account.deleted event, got %d", n)
	}

	err := f.accounts.DeleteAccount(ctx, "acc-1")
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
