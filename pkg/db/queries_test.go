package db

import (
	"context"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestVaultLifecycle(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	now := time.Now()
	if err := database.CreateUser(ctx, User{ID: "u1", Email: "a@b.c", PasswordHash: "x", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	v := Vault{
		ID:             "v1",
		UserID:         "u1",
		StrategyID:     "eth-usdc-loop",
		Status:         VaultStatusPending,
		InitialDeposit: 100,
		CurrentBalance: 100,
		Settings:       `{}`,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := database.CreateVault(ctx, v); err != nil {
		t.Fatalf("CreateVault: %v", err)
	}

	got, err := database.GetVault(ctx, "v1")
	if err != nil {
		t.Fatalf("GetVault: %v", err)
	}
	if got == nil || got.Status != VaultStatusPending {
		t.Fatalf("unexpected vault: %+v", got)
	}

	if err := database.UpdateVaultStatus(ctx, "v1", VaultStatusActive); err != nil {
		t.Fatalf("UpdateVaultStatus: %v", err)
	}
	if err := database.UpdateVaultBalance(ctx, "v1", 250); err != nil {
		t.Fatalf("UpdateVaultBalance: %v", err)
	}
	if err := database.UpdateVaultSettings(ctx, "v1", `{"deposit_address":"0xabc"}`); err != nil {
		t.Fatalf("UpdateVaultSettings: %v", err)
	}

	got, err = database.GetVault(ctx, "v1")
	if err != nil {
		t.Fatalf("GetVault after update: %v", err)
	}
	if got.Status != VaultStatusActive || got.CurrentBalance != 250 {
		t.Fatalf("update not persisted: %+v", got)
	}
	if got.Settings != `{"deposit_address":"0xabc"}` {
		t.Fatalf("settings not persisted: %s", got.Settings)
	}

	vaults, err := database.ListVaultsByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListVaultsByUser: %v", err)
	}
	if len(vaults) != 1 {
		t.Fatalf("expected 1 vault, got %d", len(vaults))
	}
}

func TestGetVaultMissingReturnsNil(t *testing.T) {
	database := newTestDB(t)

	got, err := database.GetVault(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetVault: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing vault, got %+v", got)
	}
}

func TestPositionUpsert(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	p := Position{VaultID: "v1", Collateral: 10, Debt: 4, LTV: 0.4, UpdatedAt: time.Now()}
	if err := database.UpsertPosition(ctx, p); err != nil {
		t.Fatalf("UpsertPosition insert: %v", err)
	}

	p.Debt = 6
	p.LTV = 0.6
	if err := database.UpsertPosition(ctx, p); err != nil {
		t.Fatalf("UpsertPosition update: %v", err)
	}

	got, err := database.GetPosition(ctx, "v1")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if got == nil || got.Debt != 6 || got.LTV != 0.6 {
		t.Fatalf("upsert did not overwrite: %+v", got)
	}
}

func TestAgentEvents(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	for i, action := range []string{"borrow", "leverage", "repay"} {
		e := AgentEvent{
			ID:        "e" + string(rune('1'+i)),
			VaultID:   "v1",
			Action:    action,
			Detail:    "ok",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := database.CreateAgentEvent(ctx, e); err != nil {
			t.Fatalf("CreateAgentEvent: %v", err)
		}
	}

	events, err := database.ListAgentEvents(ctx, "v1", 2)
	if err != nil {
		t.Fatalf("ListAgentEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Action != "repay" {
		t.Fatalf("expected newest first, got %s", events[0].Action)
	}
}
