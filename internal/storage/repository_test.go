package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"kharcha/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTestUser(t *testing.T, repo *SQLiteRepository, username string) int64 {
	t.Helper()
	id, err := repo.CreateUser(context.Background(), username, "x")
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return id
}

func testExpense(userID int64, cents int64, method core.PaymentMethod) core.Expense {
	return core.Expense{
		UserID:   userID,
		Category: "Groceries",
		Title:    "Weekly shop",
		Amount:   core.Money{Cents: cents},
		Date:     core.NewDate(2024, 7, 21),
		Method:   method,
	}
}

func wallet(t *testing.T, repo *SQLiteRepository, userID int64) core.Wallet {
	t.Helper()
	w, err := repo.WalletBalances(context.Background(), userID)
	if err != nil {
		t.Fatalf("wallet balances: %v", err)
	}
	return w
}

func seedWallet(t *testing.T, repo *SQLiteRepository, userID, upi, cash int64) {
	t.Helper()
	if err := repo.SetWalletBalances(context.Background(), userID, upi, cash); err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
}

func TestAddExpenseDebitsWallet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	user := newTestUser(t, repo, "asha")
	seedWallet(t, repo, user, 10000, 5000)

	id, err := repo.AddExpense(ctx, testExpense(user, 4550, core.MethodUPI))
	if err != nil {
		t.Fatalf("add expense: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive expense id, got %d", id)
	}

	w := wallet(t, repo, user)
	if w.UPI.Cents != 5450 {
		t.Errorf("UPI balance = %d, want 5450", w.UPI.Cents)
	}
	if w.Cash.Cents != 5000 {
		t.Errorf("Cash balance = %d, want unchanged 5000", w.Cash.Cents)
	}

	e, err := repo.ExpenseByID(ctx, id, user)
	if err != nil {
		t.Fatalf("expense by id: %v", err)
	}
	if e.Amount.Cents != 4550 || e.Method != core.MethodUPI || e.Title != "Weekly shop" {
		t.Errorf("stored expense mismatch: %+v", e)
	}
	if e.Date.String() != "2024-07-21" {
		t.Errorf("stored date = %s", e.Date.String())
	}
}

func TestAddExpenseInsufficientFunds(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	user := newTestUser(t, repo, "asha")
	seedWallet(t, repo, user, 0, 4000)

	_, err := repo.AddExpense(ctx, testExpense(user, 10000, core.MethodCash))
	if !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	var ife *core.InsufficientFundsError
	if !errors.As(err, &ife) {
		t.Fatalf("expected *InsufficientFundsError, got %T", err)
	}
	if ife.Available.Cents != 4000 || ife.Required.Cents != 10000 || ife.Method != core.MethodCash {
		t.Errorf("reported figures wrong: %+v", ife)
	}

	// No partial mutation: wallet and expense table are untouched.
	w := wallet(t, repo, user)
	if w.Cash.Cents != 4000 || w.UPI.Cents != 0 {
		t.Errorf("balances changed after rejection: %+v", w)
	}
	got, err := repo.FilteredExpenses(ctx, user, core.ExpenseFilter{})
	if err != nil {
		t.Fatalf("filtered expenses: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expense table should be empty, has %d rows", len(got))
	}
}

func TestDeleteRestoresBalance(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	user := newTestUser(t, repo, "asha")
	seedWallet(t, repo, user, 10000, 7500)

	before := wallet(t, repo, user)
	id, err := repo.AddExpense(ctx, testExpense(user, 3200, core.MethodCash))
	if err != nil {
		t.Fatalf("add expense: %v", err)
	}

	ok, err := repo.DeleteExpense(ctx, id, user)
	if err != nil || !ok {
		t.Fatalf("delete expense: ok=%v err=%v", ok, err)
	}

	// Conservation: delete(add(x)) restores the pre-add balance exactly.
	after := wallet(t, repo, user)
	if after != before {
		t.Errorf("round trip changed balances: before %+v after %+v", before, after)
	}

	if _, err := repo.ExpenseByID(ctx, id, user); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("deleted expense still readable: %v", err)
	}
}

func TestUpdateIdenticalValuesIsNetZero(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	user := newTestUser(t, repo, "asha")
	seedWallet(t, repo, user, 10000, 10000)

	e := testExpense(user, 2500, core.MethodUPI)
	id, err := repo.AddExpense(ctx, e)
	if err != nil {
		t.Fatalf("add expense: %v", err)
	}
	mid := wallet(t, repo, user)

	e.ID = id
	if err := repo.UpdateExpense(ctx, e); err != nil {
		t.Fatalf("update expense: %v", err)
	}

	if got := wallet(t, repo, user); got != mid {
		t.Errorf("identical update changed balances: %+v -> %+v", mid, got)
	}
}

func TestUpdateMethodSwitchAccounting(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	user := newTestUser(t, repo, "asha")
	seedWallet(t, repo, user, 10000, 10000)

	e := testExpense(user, 5000, core.MethodUPI)
	id, err := repo.AddExpense(ctx, e)
	if err != nil {
		t.Fatalf("add expense: %v", err)
	}
	if w := wallet(t, repo, user); w.UPI.Cents != 5000 {
		t.Fatalf("UPI after add = %d, want 5000", w.UPI.Cents)
	}

	e.ID = id
	e.Method = core.MethodCash
	if err := repo.UpdateExpense(ctx, e); err != nil {
		t.Fatalf("update expense: %v", err)
	}

	// Full reversal and reapply: UPI refunded, Cash debited.
	w := wallet(t, repo, user)
	if w.UPI.Cents != 10000 {
		t.Errorf("UPI after switch = %d, want 10000", w.UPI.Cents)
	}
	if w.Cash.Cents != 5000 {
		t.Errorf("Cash after switch = %d, want 5000", w.Cash.Cents)
	}

	got, err := repo.ExpenseByID(ctx, id, user)
	if err != nil {
		t.Fatalf("expense by id: %v", err)
	}
	if got.Method != core.MethodCash {
		t.Errorf("stored method = %s, want Cash", got.Method)
	}
}

func TestUpdateChecksProjectedBalance(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	user := newTestUser(t, repo, "asha")
	seedWallet(t, repo, user, 10000, 0)

	e := testExpense(user, 8000, core.MethodUPI)
	id, err := repo.AddExpense(ctx, e)
	if err != nil {
		t.Fatalf("add expense: %v", err)
	}
	// Raw balance is 2000, but reversing the old 8000 debit frees room:
	// raising the amount to 9500 must succeed.
	e.ID = id
	e.Amount.Cents = 9500
	if err := repo.UpdateExpense(ctx, e); err != nil {
		t.Fatalf("update within projected balance: %v", err)
	}
	if w := wallet(t, repo, user); w.UPI.Cents != 500 {
		t.Errorf("UPI after update = %d, want 500", w.UPI.Cents)
	}

	// Beyond the projected balance the update is rejected with the
	// projected figure, not the raw current balance.
	e.Amount.Cents = 12000
	err = repo.UpdateExpense(ctx, e)
	var ife *core.InsufficientFundsError
	if !errors.As(err, &ife) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if ife.Available.Cents != 10000 {
		t.Errorf("reported available = %d, want projected 10000", ife.Available.Cents)
	}
	// Rejection leaves the previous state intact.
	if w := wallet(t, repo, user); w.UPI.Cents != 500 {
		t.Errorf("UPI changed after rejected update: %d", w.UPI.Cents)
	}
	got, _ := repo.ExpenseByID(ctx, id, user)
	if got.Amount.Cents != 9500 {
		t.Errorf("expense amount changed after rejected update: %d", got.Amount.Cents)
	}
}

func TestDeleteOwnershipIsolation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	alice := newTestUser(t, repo, "alice")
	bob := newTestUser(t, repo, "bob")
	seedWallet(t, repo, alice, 10000, 0)

	id, err := repo.AddExpense(ctx, testExpense(alice, 2000, core.MethodUPI))
	if err != nil {
		t.Fatalf("add expense: %v", err)
	}

	ok, err := repo.DeleteExpense(ctx, id, bob)
	if err != nil {
		t.Fatalf("cross-user delete errored: %v", err)
	}
	if ok {
		t.Fatal("cross-user delete must report not found")
	}

	// Alice's expense and wallet are untouched.
	if _, err := repo.ExpenseByID(ctx, id, alice); err != nil {
		t.Errorf("alice's expense vanished: %v", err)
	}
	if w := wallet(t, repo, alice); w.UPI.Cents != 8000 {
		t.Errorf("alice's balance changed: %d", w.UPI.Cents)
	}

	// Cross-user read and update are equally blind.
	if _, err := repo.ExpenseByID(ctx, id, bob); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("cross-user read should be not found, got %v", err)
	}
	foreign := testExpense(bob, 1000, core.MethodUPI)
	foreign.ID = id
	if err := repo.UpdateExpense(ctx, foreign); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("cross-user update should be not found, got %v", err)
	}
}

func TestBalancesNeverGoNegative(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	user := newTestUser(t, repo, "asha")
	seedWallet(t, repo, user, 5000, 5000)

	check := func(step string) {
		t.Helper()
		w := wallet(t, repo, user)
		if w.UPI.Cents < 0 || w.Cash.Cents < 0 {
			t.Fatalf("%s: negative balance %+v", step, w)
		}
	}

	var ids []int64
	for _, op := range []struct {
		cents  int64
		method core.PaymentMethod
	}{
		{3000, core.MethodUPI},
		{3000, core.MethodUPI}, // fails, only 2000 left
		{4999, core.MethodCash},
		{2, core.MethodCash}, // fails, 1 left
		{1, core.MethodCash},
	} {
		if id, err := repo.AddExpense(ctx, testExpense(user, op.cents, op.method)); err == nil {
			ids = append(ids, id)
		} else if !errors.Is(err, core.ErrInsufficientFunds) {
			t.Fatalf("unexpected error: %v", err)
		}
		check("add")
	}

	for _, id := range ids {
		if _, err := repo.DeleteExpense(ctx, id, user); err != nil {
			t.Fatalf("delete: %v", err)
		}
		check("delete")
	}

	if w := wallet(t, repo, user); w.UPI.Cents != 5000 || w.Cash.Cents != 5000 {
		t.Errorf("conservation after full unwind: %+v", w)
	}
}

func TestFilteredExpensesDeterministicOrdering(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	user := newTestUser(t, repo, "asha")
	seedWallet(t, repo, user, 1000000, 1000000)

	seed := []struct {
		cents    int64
		date     core.Date
		category string
	}{
		{1000, core.NewDate(2024, 7, 1), "Groceries"},
		{2000, core.NewDate(2024, 7, 15), "Travel"},
		{3000, core.NewDate(2024, 7, 15), "Groceries"}, // same day as above
		{4000, core.NewDate(2024, 6, 30), "Groceries"},
		{5000, core.NewDate(2024, 8, 2), "Shopping"},
	}
	ids := make([]int64, len(seed))
	for i, s := range seed {
		e := testExpense(user, s.cents, core.MethodUPI)
		e.Date = s.date
		e.Category = s.category
		id, err := repo.AddExpense(ctx, e)
		if err != nil {
			t.Fatalf("seed expense %d: %v", i, err)
		}
		ids[i] = id
	}

	t.Run("date range and category set", func(t *testing.T) {
		got, err := repo.FilteredExpenses(ctx, user, core.ExpenseFilter{
			From:       core.NewDate(2024, 7, 1),
			To:         core.NewDate(2024, 7, 31),
			Categories: []string{"Groceries", "Travel"},
		})
		if err != nil {
			t.Fatalf("filtered expenses: %v", err)
		}
		// 2024-07-15 twice (higher id first), then 2024-07-01.
		want := []int64{ids[2], ids[1], ids[0]}
		if len(got) != len(want) {
			t.Fatalf("got %d rows, want %d", len(got), len(want))
		}
		for i, e := range got {
			if e.ID != want[i] {
				t.Errorf("row %d: id %d, want %d", i, e.ID, want[i])
			}
		}
	})

	t.Run("amount range", func(t *testing.T) {
		got, err := repo.FilteredExpenses(ctx, user, core.ExpenseFilter{
			MinCents: 2000,
			MaxCents: 4000,
		})
		if err != nil {
			t.Fatalf("filtered expenses: %v", err)
		}
		// Bounds are inclusive on both ends.
		want := []int64{ids[2], ids[1], ids[3]}
		if len(got) != len(want) {
			t.Fatalf("got %d rows, want %d", len(got), len(want))
		}
		for i, e := range got {
			if e.ID != want[i] {
				t.Errorf("row %d: id %d, want %d", i, e.ID, want[i])
			}
		}
	})

	t.Run("no match is empty, not an error", func(t *testing.T) {
		got, err := repo.FilteredExpenses(ctx, user, core.ExpenseFilter{
			Categories: []string{"Pets"},
		})
		if err != nil {
			t.Fatalf("filtered expenses: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected empty result, got %d rows", len(got))
		}
	})
}

func TestUserCategoriesAndYears(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	user := newTestUser(t, repo, "asha")
	other := newTestUser(t, repo, "noor")
	seedWallet(t, repo, user, 1000000, 0)
	seedWallet(t, repo, other, 1000000, 0)

	for _, s := range []struct {
		category string
		date     core.Date
	}{
		{"Travel", core.NewDate(2023, 12, 30)},
		{"Groceries", core.NewDate(2024, 1, 2)},
		{"Groceries", core.NewDate(2024, 3, 2)},
	} {
		e := testExpense(user, 100, core.MethodUPI)
		e.Category = s.category
		e.Date = s.date
		if _, err := repo.AddExpense(ctx, e); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	// Another user's data must not leak into scoped lookups.
	leak := testExpense(other, 100, core.MethodUPI)
	leak.Category = "Pets"
	leak.Date = core.NewDate(2020, 1, 1)
	if _, err := repo.AddExpense(ctx, leak); err != nil {
		t.Fatalf("seed other: %v", err)
	}

	cats, err := repo.UserCategories(ctx, user)
	if err != nil {
		t.Fatalf("user categories: %v", err)
	}
	if len(cats) != 2 || cats[0] != "Groceries" || cats[1] != "Travel" {
		t.Errorf("categories = %v", cats)
	}

	years, err := repo.ExpenseYears(ctx, user)
	if err != nil {
		t.Fatalf("expense years: %v", err)
	}
	if len(years) != 2 || years[0] != 2024 || years[1] != 2023 {
		t.Errorf("years = %v", years)
	}

	max, err := repo.MaxExpenseAmount(ctx, user)
	if err != nil || max != 100 {
		t.Errorf("max amount = %d err=%v", max, err)
	}
}

func TestWalletDefaultsAndValidation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	// Unknown user reads as zero balances, not an error.
	w, err := repo.WalletBalances(ctx, 9999)
	if err != nil {
		t.Fatalf("wallet for unknown user: %v", err)
	}
	if w.UPI.Cents != 0 || w.Cash.Cents != 0 {
		t.Errorf("expected zero wallet, got %+v", w)
	}

	user := newTestUser(t, repo, "asha")
	if err := repo.SetWalletBalances(ctx, user, -1, 0); !errors.Is(err, core.ErrNegativeBalance) {
		t.Errorf("negative UPI accepted: %v", err)
	}
	if err := repo.SetWalletBalances(ctx, user, 0, -1); !errors.Is(err, core.ErrNegativeBalance) {
		t.Errorf("negative Cash accepted: %v", err)
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.CreateUser(ctx, "asha", "h1"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := repo.CreateUser(ctx, "asha", "h2"); !errors.Is(err, core.ErrDuplicateUser) {
		t.Fatalf("expected ErrDuplicateUser, got %v", err)
	}
}

func TestResponseCacheIdempotence(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	const prompt = "parse: dinner 450 upi yesterday"
	if _, hit, err := repo.CachedResponse(ctx, prompt); err != nil || hit {
		t.Fatalf("expected miss, hit=%v err=%v", hit, err)
	}

	payload := `{"category":"Food & Dining","title":"Dinner","amount":450,"date":"2024-07-20","payment_method":"UPI"}`
	if err := repo.CacheResponse(ctx, prompt, payload); err != nil {
		t.Fatalf("cache response: %v", err)
	}

	got, hit, err := repo.CachedResponse(ctx, prompt)
	if err != nil || !hit {
		t.Fatalf("expected hit, hit=%v err=%v", hit, err)
	}
	if got != payload {
		t.Errorf("payload mismatch: %q", got)
	}

	// Overwrite semantics on re-cache.
	if err := repo.CacheResponse(ctx, prompt, "v2"); err != nil {
		t.Fatalf("re-cache: %v", err)
	}
	got, _, _ = repo.CachedResponse(ctx, prompt)
	if got != "v2" {
		t.Errorf("overwrite failed: %q", got)
	}

	// A different prompt is a different key.
	if _, hit, _ := repo.CachedResponse(ctx, "another prompt"); hit {
		t.Error("unexpected hit for different prompt")
	}
}

func TestUserCascadeDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	user := newTestUser(t, repo, "asha")
	seedWallet(t, repo, user, 10000, 0)
	id, err := repo.AddExpense(ctx, testExpense(user, 100, core.MethodUPI))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := repo.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, user); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	if _, err := repo.ExpenseByID(ctx, id, user); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expense survived user delete: %v", err)
	}
	w, err := repo.WalletBalances(ctx, user)
	if err != nil || w.UPI.Cents != 0 {
		t.Errorf("wallet survived user delete: %+v err=%v", w, err)
	}
}
