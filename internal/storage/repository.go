package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"kharcha/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the persistent store and the wallet ledger engine.
// It is the only component allowed to mutate wallet balances.
type SQLiteRepository struct {
	db *sql.DB

	// mu serializes every balance-affecting mutation. The preflight balance
	// check and the paired wallet/record writes are read-then-write, so two
	// concurrent operations could both pass the check against a stale
	// balance and overdraw the wallet without it. Read-only queries do not
	// take the lock.
	mu sync.Mutex
}

// UserRecord is the stored user row, including the credential hash.
// It never leaves the auth layer.
type UserRecord struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// busy_timeout gives writers a bounded wait on a locked database instead
	// of failing immediately; foreign_keys enables the cascade deletes the
	// schema relies on.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// --- users ---

// CreateUser inserts a user together with a zero-balance wallet in one
// transaction. A taken username maps to core.ErrDuplicateUser.
func (r *SQLiteRepository) CreateUser(ctx context.Context, username, passwordHash string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create user: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, passwordHash, now())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, core.ErrDuplicateUser
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("user id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO wallets (user_id) VALUES (?)`, id); err != nil {
		return 0, fmt.Errorf("insert wallet: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create user: %w", err)
	}

	slog.InfoContext(ctx, "User created", "user_id", id, "username", username)
	return id, nil
}

// UserByUsername returns the stored user row. A missing user surfaces as a
// wrapped sql.ErrNoRows for the auth layer to translate.
func (r *SQLiteRepository) UserByUsername(ctx context.Context, username string) (*UserRecord, error) {
	var (
		u         UserRecord
		createdAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`,
		username).Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("select user %q: %w", username, err)
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

// UserByID resolves an authenticated user id back to its profile row.
func (r *SQLiteRepository) UserByID(ctx context.Context, id int64) (*core.User, error) {
	var (
		u         core.User
		createdAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM users WHERE id = ?`,
		id).Scan(&u.ID, &u.Username, &createdAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user %d: %w", id, err)
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

// --- wallet ---

// EnsureWallet inserts a zero wallet row if the user has none. Every
// authenticated user is guaranteed a wallet row through this self-healing
// hook on login.
func (r *SQLiteRepository) EnsureWallet(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO wallets (user_id) VALUES (?)`, userID); err != nil {
		return fmt.Errorf("ensure wallet: %w", err)
	}
	return nil
}

// WalletBalances returns the user's wallet, zero balances when no row exists.
func (r *SQLiteRepository) WalletBalances(ctx context.Context, userID int64) (core.Wallet, error) {
	w := core.Wallet{UserID: userID}
	err := r.db.QueryRowContext(ctx,
		`SELECT upi_balance, cash_balance FROM wallets WHERE user_id = ?`,
		userID).Scan(&w.UPI.Cents, &w.Cash.Cents)
	if err == sql.ErrNoRows {
		return w, nil
	}
	if err != nil {
		return w, fmt.Errorf("select wallet: %w", err)
	}
	return w, nil
}

// SetWalletBalances overrides both balances directly, bypassing expense
// accounting. It is an explicit user correction trusted as-is; no existing
// expense is reconciled against the new baseline.
func (r *SQLiteRepository) SetWalletBalances(ctx context.Context, userID, upiCents, cashCents int64) error {
	if upiCents < 0 || cashCents < 0 {
		return core.ErrNegativeBalance
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, upi_balance, cash_balance) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			upi_balance = excluded.upi_balance,
			cash_balance = excluded.cash_balance`,
		userID, upiCents, cashCents)
	if err != nil {
		return fmt.Errorf("set wallet balances: %w", err)
	}

	slog.InfoContext(ctx, "Wallet balances set",
		"user_id", userID, "upi_cents", upiCents, "cash_cents", cashCents)
	return nil
}

// --- ledger ---

// AddExpense debits the wallet and inserts the expense as one atomic unit.
// The debit is checked against the current balance first; on insufficient
// funds nothing is written and the caller gets both figures back.
func (r *SQLiteRepository) AddExpense(ctx context.Context, e core.Expense) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin add expense: %w", err)
	}
	defer tx.Rollback()

	w, err := r.walletForUpdate(ctx, tx, e.UserID)
	if err != nil {
		return 0, fmt.Errorf("add expense: %w", err)
	}

	if w.BalanceFor(e.Method).Cents < e.Amount.Cents {
		return 0, &core.InsufficientFundsError{
			Method:    e.Method,
			Available: w.BalanceFor(e.Method),
			Required:  e.Amount,
		}
	}

	w = w.Debit(e.Method, e.Amount.Cents)
	if err := writeWallet(ctx, tx, w); err != nil {
		return 0, fmt.Errorf("add expense: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO expenses (user_id, category, title, amount, date, notes, payment_method, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Category, e.Title, e.Amount.Cents, e.Date.String(), e.Notes, string(e.Method), now())
	if err != nil {
		return 0, fmt.Errorf("insert expense: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("expense id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit add expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense saved",
		"id", id,
		"user_id", e.UserID,
		"amount_cents", e.Amount.Cents,
		"method", string(e.Method),
		"category", e.Category)
	return id, nil
}

// UpdateExpense rewrites an expense and nets the wallet effect of the change
// in the same transaction: the old debit is reversed, the new one applied,
// whether or not the payment method changed. The preflight check runs
// against the projected balance, since reversing the old leg may free up
// room even on the same method.
func (r *SQLiteRepository) UpdateExpense(ctx context.Context, e core.Expense) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update expense: %w", err)
	}
	defer tx.Rollback()

	old, err := expenseInTx(ctx, tx, e.ID, e.UserID)
	if err != nil {
		return err
	}

	w, err := r.walletForUpdate(ctx, tx, e.UserID)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}

	projected := w.Credit(old.Method, old.Amount.Cents).Debit(e.Method, e.Amount.Cents)
	if projected.BalanceFor(e.Method).Cents < 0 {
		return &core.InsufficientFundsError{
			Method:    e.Method,
			Available: w.Credit(old.Method, old.Amount.Cents).BalanceFor(e.Method),
			Required:  e.Amount,
		}
	}

	if err := writeWallet(ctx, tx, projected); err != nil {
		return fmt.Errorf("update expense: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE expenses
		SET category = ?, title = ?, amount = ?, date = ?, notes = ?, payment_method = ?
		WHERE id = ? AND user_id = ?`,
		e.Category, e.Title, e.Amount.Cents, e.Date.String(), e.Notes, string(e.Method),
		e.ID, e.UserID)
	if err != nil {
		return fmt.Errorf("update expense row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense updated",
		"id", e.ID,
		"user_id", e.UserID,
		"old_amount_cents", old.Amount.Cents,
		"new_amount_cents", e.Amount.Cents,
		"old_method", string(old.Method),
		"new_method", string(e.Method))
	return nil
}

// DeleteExpense credits the wallet back and removes the expense as one
// atomic unit. Expenses of other users are invisible: the call reports
// false without touching anything.
func (r *SQLiteRepository) DeleteExpense(ctx context.Context, id, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete expense: %w", err)
	}
	defer tx.Rollback()

	old, err := expenseInTx(ctx, tx, id, userID)
	if err == core.ErrNotFound {
		slog.WarnContext(ctx, "Delete of missing or foreign expense",
			"id", id, "user_id", userID)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	w, err := r.walletForUpdate(ctx, tx, userID)
	if err != nil {
		return false, fmt.Errorf("delete expense: %w", err)
	}

	w = w.Credit(old.Method, old.Amount.Cents)
	if err := writeWallet(ctx, tx, w); err != nil {
		return false, fmt.Errorf("delete expense: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM expenses WHERE id = ? AND user_id = ?`, id, userID); err != nil {
		return false, fmt.Errorf("delete expense row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense deleted",
		"id", id,
		"user_id", userID,
		"refund_cents", old.Amount.Cents,
		"method", string(old.Method))
	return true, nil
}

// walletForUpdate reads the wallet inside a mutation transaction, creating
// the row first if it is missing so the later UPDATE always lands.
func (r *SQLiteRepository) walletForUpdate(ctx context.Context, tx *sql.Tx, userID int64) (core.Wallet, error) {
	w := core.Wallet{UserID: userID}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO wallets (user_id) VALUES (?)`, userID); err != nil {
		return w, fmt.Errorf("ensure wallet: %w", err)
	}
	err := tx.QueryRowContext(ctx,
		`SELECT upi_balance, cash_balance FROM wallets WHERE user_id = ?`,
		userID).Scan(&w.UPI.Cents, &w.Cash.Cents)
	if err != nil {
		return w, fmt.Errorf("select wallet: %w", err)
	}
	return w, nil
}

func writeWallet(ctx context.Context, tx *sql.Tx, w core.Wallet) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE wallets SET upi_balance = ?, cash_balance = ? WHERE user_id = ?`,
		w.UPI.Cents, w.Cash.Cents, w.UserID)
	if err != nil {
		return fmt.Errorf("write wallet: %w", err)
	}
	return nil
}

func expenseInTx(ctx context.Context, tx *sql.Tx, id, userID int64) (core.Expense, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, user_id, category, title, amount, date, notes, payment_method, created_at
		FROM expenses WHERE id = ? AND user_id = ?`, id, userID)
	e, err := scanExpense(row)
	if err == sql.ErrNoRows {
		return e, core.ErrNotFound
	}
	if err != nil {
		return e, fmt.Errorf("select expense: %w", err)
	}
	return e, nil
}

// --- queries (read-only, no mutation lock) ---

// ExpenseByID returns a single expense scoped to its owner.
func (r *SQLiteRepository) ExpenseByID(ctx context.Context, id, userID int64) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, category, title, amount, date, notes, payment_method, created_at
		FROM expenses WHERE id = ? AND user_id = ?`, id, userID)
	e, err := scanExpense(row)
	if err == sql.ErrNoRows {
		return e, core.ErrNotFound
	}
	if err != nil {
		return e, fmt.Errorf("select expense by id: %w", err)
	}
	return e, nil
}

// FilteredExpenses returns the user's expenses matching the filter, ordered
// by date descending with id descending as the tie break, so same-day
// expenses list most-recently-inserted first.
func (r *SQLiteRepository) FilteredExpenses(ctx context.Context, userID int64, f core.ExpenseFilter) ([]core.Expense, error) {
	query := `
		SELECT id, user_id, category, title, amount, date, notes, payment_method, created_at
		FROM expenses WHERE user_id = ?`
	args := []any{userID}

	if !f.From.IsZero() {
		query += ` AND date >= ?`
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		query += ` AND date <= ?`
		args = append(args, f.To.String())
	}
	if len(f.Categories) > 0 {
		query += ` AND category IN (?` + strings.Repeat(",?", len(f.Categories)-1) + `)`
		for _, c := range f.Categories {
			args = append(args, c)
		}
	}
	if f.MinCents > 0 {
		query += ` AND amount >= ?`
		args = append(args, f.MinCents)
	}
	if f.MaxCents > 0 {
		query += ` AND amount <= ?`
		args = append(args, f.MaxCents)
	}
	query += ` ORDER BY date DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query filtered expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return expenses, nil
}

// UserCategories lists the distinct categories the user has spent in.
func (r *SQLiteRepository) UserCategories(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT category FROM expenses WHERE user_id = ? ORDER BY category`, userID)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// ExpenseYears lists the distinct years the user has expenses in, newest first.
func (r *SQLiteRepository) ExpenseYears(ctx context.Context, userID int64) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT STRFTIME('%Y', date) AS year
		FROM expenses WHERE user_id = ? ORDER BY year DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query expense years: %w", err)
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var y string
		if err := rows.Scan(&y); err != nil {
			return nil, fmt.Errorf("scan year: %w", err)
		}
		n, err := strconv.Atoi(y)
		if err != nil {
			return nil, fmt.Errorf("parse year %q: %w", y, err)
		}
		years = append(years, n)
	}
	return years, rows.Err()
}

// MaxExpenseAmount returns the user's largest single expense in cents,
// zero when there are none. The UI uses it to bound the amount filter.
func (r *SQLiteRepository) MaxExpenseAmount(ctx context.Context, userID int64) (int64, error) {
	var max int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(amount), 0) FROM expenses WHERE user_id = ?`, userID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("query max amount: %w", err)
	}
	return max, nil
}

// --- response cache ---

// CachedResponse looks up a memoized parser response by prompt.
func (r *SQLiteRepository) CachedResponse(ctx context.Context, prompt string) (string, bool, error) {
	var payload string
	err := r.db.QueryRowContext(ctx,
		`SELECT response_payload FROM response_cache WHERE prompt_hash = ?`,
		hashPrompt(prompt)).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select cached response: %w", err)
	}
	return payload, true, nil
}

// CacheResponse stores a parser response, overwriting any previous payload
// for the same prompt.
func (r *SQLiteRepository) CacheResponse(ctx context.Context, prompt, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO response_cache (prompt_hash, response_payload, created_at)
		VALUES (?, ?, ?)`,
		hashPrompt(prompt), payload, now())
	if err != nil {
		return fmt.Errorf("cache response: %w", err)
	}
	return nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var (
		e         core.Expense
		date      string
		method    string
		createdAt string
	)
	err := row.Scan(&e.ID, &e.UserID, &e.Category, &e.Title, &e.Amount.Cents,
		&date, &e.Notes, &method, &createdAt)
	if err != nil {
		return e, err
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return e, fmt.Errorf("stored date %q: %w", date, err)
	}
	e.Date = d
	e.Method = core.PaymentMethod(method)
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

func hashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
