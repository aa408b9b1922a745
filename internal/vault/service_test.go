package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"agent-core/internal/chain"
	"agent-core/internal/events"
	"agent-core/internal/strategy"
	"agent-core/pkg/db"
)

type fakeCustody struct {
	walletCalls int
	deployErr   error
	depositErr  error
	balance     float64
}

func (f *fakeCustody) CreateWallet(_ context.Context, userID string) (chain.WalletInfo, error) {
	f.walletCalls++
	return chain.WalletInfo{Address: "0xwallet-" + userID, ChainID: 8453}, nil
}

func (f *fakeCustody) DeployVault(_ context.Context, walletAddress, strategyID string) (chain.VaultDeployment, error) {
	if f.deployErr != nil {
		return chain.VaultDeployment{}, f.deployErr
	}
	return chain.VaultDeployment{
		VaultAddress:   "0xvault",
		DepositAddress: "0xdeposit",
		TxHash:         "0xdeploy",
	}, nil
}

func (f *fakeCustody) Deposit(_ context.Context, vaultAddress, tokenAddress string, amount, slippage float64) (chain.DepositReceipt, error) {
	if f.depositErr != nil {
		return chain.DepositReceipt{}, f.depositErr
	}
	f.balance += amount
	return chain.DepositReceipt{TxHash: "0xfund", NewBalance: f.balance}, nil
}

func testCatalog(t *testing.T) *strategy.Catalog {
	t.Helper()
	c, err := strategy.New([]strategy.Definition{{
		ID:                 "eth-usdc-loop",
		CollateralToken:    "wstETH",
		DebtToken:          "USDC",
		TargetLTV:          0.65,
		MaxLTV:             0.77,
		RebalanceThreshold: 0.05,
		MinDeposit:         100,
		IsActive:           true,
	}})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

func newService(t *testing.T) (*Service, *fakeCustody) {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	now := time.Now()
	if err := database.CreateUser(context.Background(), db.User{
		ID: "u1", Email: "a@b.c", PasswordHash: "x", CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	custody := &fakeCustody{}
	return &Service{
		DB:      database,
		Custody: custody,
		Catalog: testCatalog(t),
		Bus:     events.NewBus(),
	}, custody
}

func TestCreateVaultProvisionsWalletOnce(t *testing.T) {
	s, custody := newService(t)
	ctx := context.Background()

	info, err := s.CreateVault(ctx, "u1", "eth-usdc-loop", 500, nil)
	if err != nil {
		t.Fatalf("CreateVault: %v", err)
	}
	if info.Status != db.VaultStatusPending || info.DepositAddress != "0xdeposit" {
		t.Fatalf("info=%+v", info)
	}
	if custody.walletCalls != 1 {
		t.Fatalf("walletCalls=%d", custody.walletCalls)
	}

	// A second vault reuses the stored wallet.
	if _, err := s.CreateVault(ctx, "u1", "eth-usdc-loop", 500, nil); err != nil {
		t.Fatalf("CreateVault: %v", err)
	}
	if custody.walletCalls != 1 {
		t.Fatalf("walletCalls=%d after second vault", custody.walletCalls)
	}

	vaults, err := s.DB.ListVaultsByUser(ctx, "u1")
	if err != nil || len(vaults) != 2 {
		t.Fatalf("vaults=%v err=%v", vaults, err)
	}
}

func TestCreateVaultRejectsUnknownStrategy(t *testing.T) {
	s, _ := newService(t)
	_, err := s.CreateVault(context.Background(), "u1", "does-not-exist", 500, nil)
	if !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("err=%v", err)
	}
}

func TestCreateVaultRejectsSmallDeposit(t *testing.T) {
	s, _ := newService(t)
	_, err := s.CreateVault(context.Background(), "u1", "eth-usdc-loop", 50, nil)
	if !errors.Is(err, ErrDepositTooSmall) {
		t.Fatalf("err=%v", err)
	}
}

func TestCreateVaultDeployFailureLeavesNoRecord(t *testing.T) {
	s, custody := newService(t)
	custody.deployErr = errors.New("chain halted")

	if _, err := s.CreateVault(context.Background(), "u1", "eth-usdc-loop", 500, nil); err == nil {
		t.Fatal("expected deploy error")
	}
	vaults, err := s.DB.ListVaultsByUser(context.Background(), "u1")
	if err != nil || len(vaults) != 0 {
		t.Fatalf("vaults=%v err=%v", vaults, err)
	}
}

func TestDepositActivatesPendingVault(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	info, err := s.CreateVault(ctx, "u1", "eth-usdc-loop", 500, nil)
	if err != nil {
		t.Fatalf("CreateVault: %v", err)
	}

	balances, unsub := s.Bus.Subscribe(events.EventBalanceUpdate, 1)
	defer unsub()

	result, err := s.HandleDeposit(ctx, "u1", info.ID, 500, "0xusdc", 0.01)
	if err != nil {
		t.Fatalf("HandleDeposit: %v", err)
	}
	if result.Status != "success" || result.NewBalance != 500 {
		t.Fatalf("result=%+v", result)
	}

	v, err := s.DB.GetVault(ctx, info.ID)
	if err != nil || v == nil {
		t.Fatalf("GetVault: %v %v", v, err)
	}
	if v.Status != db.VaultStatusActive || v.CurrentBalance != 500 {
		t.Fatalf("vault=%+v", v)
	}

	select {
	case msg := <-balances:
		u, ok := msg.(events.BalanceUpdate)
		if !ok || u.VaultID != info.ID || u.NewBalance != 500 {
			t.Fatalf("event=%v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no balance event published")
	}
}

func TestDepositOwnershipAndLifecycleChecks(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	info, err := s.CreateVault(ctx, "u1", "eth-usdc-loop", 500, nil)
	if err != nil {
		t.Fatalf("CreateVault: %v", err)
	}

	if _, err := s.HandleDeposit(ctx, "intruder", info.ID, 100, "0xusdc", 0.01); !errors.Is(err, ErrNotVaultOwner) {
		t.Fatalf("err=%v", err)
	}
	if _, err := s.HandleDeposit(ctx, "u1", "missing", 100, "0xusdc", 0.01); !errors.Is(err, ErrVaultNotFound) {
		t.Fatalf("err=%v", err)
	}

	if err := s.Close(ctx, "u1", info.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.HandleDeposit(ctx, "u1", info.ID, 100, "0xusdc", 0.01); !errors.Is(err, ErrVaultNotOpen) {
		t.Fatalf("err=%v", err)
	}
}

func TestPauseResumeLifecycle(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	info, err := s.CreateVault(ctx, "u1", "eth-usdc-loop", 500, nil)
	if err != nil {
		t.Fatalf("CreateVault: %v", err)
	}

	// Pending vaults cannot be paused.
	if err := s.Pause(ctx, "u1", info.ID); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("pause pending: err=%v", err)
	}

	if _, err := s.HandleDeposit(ctx, "u1", info.ID, 500, "0xusdc", 0.01); err != nil {
		t.Fatalf("HandleDeposit: %v", err)
	}

	pausedCh, unsubPaused := s.Bus.Subscribe(events.EventVaultPaused, 1)
	defer unsubPaused()
	resumedCh, unsubResumed := s.Bus.Subscribe(events.EventVaultResumed, 1)
	defer unsubResumed()

	if err := s.Pause(ctx, "u1", info.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	v, _ := s.DB.GetVault(ctx, info.ID)
	if v.Status != db.VaultStatusPaused {
		t.Fatalf("status=%s", v.Status)
	}
	select {
	case msg := <-pausedCh:
		if msg != info.ID {
			t.Fatalf("paused event=%v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no paused event")
	}

	// Double pause is rejected.
	if err := s.Pause(ctx, "u1", info.ID); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("double pause: err=%v", err)
	}

	if err := s.Resume(ctx, "u1", info.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	v, _ = s.DB.GetVault(ctx, info.ID)
	if v.Status != db.VaultStatusActive {
		t.Fatalf("status=%s", v.Status)
	}
	select {
	case msg := <-resumedCh:
		if msg != info.ID {
			t.Fatalf("resumed event=%v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no resumed event")
	}

	// Closed is terminal.
	if err := s.Close(ctx, "u1", info.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Resume(ctx, "u1", info.ID); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("resume closed: err=%v", err)
	}
	if err := s.Pause(ctx, "intruder", info.ID); !errors.Is(err, ErrNotVaultOwner) {
		t.Fatalf("intruder pause: err=%v", err)
	}
}

func TestAddressesRoundTrip(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	info, err := s.CreateVault(ctx, "u1", "eth-usdc-loop", 500, nil)
	if err != nil {
		t.Fatalf("CreateVault: %v", err)
	}
	walletAddr, vaultAddr, err := s.Addresses(ctx, info.ID)
	if err != nil {
		t.Fatalf("Addresses: %v", err)
	}
	if walletAddr != "0xwallet-u1" || vaultAddr != "0xvault" {
		t.Fatalf("wallet=%s vault=%s", walletAddr, vaultAddr)
	}
}
