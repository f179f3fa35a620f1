package services

import (
	"context"
	"fmt"
	"log/slog"

	"kharcha/internal/amqp"
	"kharcha/internal/core"
	"kharcha/internal/storage"
)

// LedgerService fronts the wallet ledger: it validates domain input, hands
// mutations to the repository's transactional methods, and announces
// committed changes on the event stream.
type LedgerService struct {
	storage *storage.SQLiteRepository
	events  *amqp.Client
}

func NewLedgerService(storage *storage.SQLiteRepository, events *amqp.Client) *LedgerService {
	return &LedgerService{
		storage: storage,
		events:  events,
	}
}

// AddExpense validates and commits a new expense, debiting the wallet.
// Parser-produced candidates pass through here exactly like manual entry.
func (s *LedgerService) AddExpense(ctx context.Context, e core.Expense) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}

	id, err := s.storage.AddExpense(ctx, e)
	if err != nil {
		return 0, err
	}

	s.publishEvent(ctx, id, e.UserID, amqp.ActionCreated)
	return id, nil
}

// UpdateExpense validates and commits a rewrite of an existing expense,
// netting the wallet effect of the change.
func (s *LedgerService) UpdateExpense(ctx context.Context, e core.Expense) error {
	if err := e.Validate(); err != nil {
		return err
	}

	if err := s.storage.UpdateExpense(ctx, e); err != nil {
		return err
	}

	s.publishEvent(ctx, e.ID, e.UserID, amqp.ActionUpdated)
	return nil
}

// DeleteExpense removes an owned expense and credits the wallet back.
func (s *LedgerService) DeleteExpense(ctx context.Context, id, userID int64) (bool, error) {
	ok, err := s.storage.DeleteExpense(ctx, id, userID)
	if err != nil || !ok {
		return ok, err
	}

	s.publishEvent(ctx, id, userID, amqp.ActionDeleted)
	return true, nil
}

// SetWalletBalances applies a direct balance override.
func (s *LedgerService) SetWalletBalances(ctx context.Context, userID, upiCents, cashCents int64) error {
	return s.storage.SetWalletBalances(ctx, userID, upiCents, cashCents)
}

func (s *LedgerService) UserByID(ctx context.Context, userID int64) (*core.User, error) {
	return s.storage.UserByID(ctx, userID)
}

func (s *LedgerService) WalletBalances(ctx context.Context, userID int64) (core.Wallet, error) {
	return s.storage.WalletBalances(ctx, userID)
}

func (s *LedgerService) ExpenseByID(ctx context.Context, id, userID int64) (core.Expense, error) {
	return s.storage.ExpenseByID(ctx, id, userID)
}

func (s *LedgerService) FilteredExpenses(ctx context.Context, userID int64, f core.ExpenseFilter) ([]core.Expense, error) {
	return s.storage.FilteredExpenses(ctx, userID, f)
}

func (s *LedgerService) UserCategories(ctx context.Context, userID int64) ([]string, error) {
	return s.storage.UserCategories(ctx, userID)
}

func (s *LedgerService) ExpenseYears(ctx context.Context, userID int64) ([]int, error) {
	return s.storage.ExpenseYears(ctx, userID)
}

func (s *LedgerService) MaxExpenseAmount(ctx context.Context, userID int64) (int64, error) {
	return s.storage.MaxExpenseAmount(ctx, userID)
}

// publishEvent is best effort: the mutation is already committed, so a
// publish failure is logged and swallowed.
func (s *LedgerService) publishEvent(ctx context.Context, expenseID, userID int64, action string) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishExpenseEvent(ctx, expenseID, userID, action); err != nil {
		slog.ErrorContext(ctx, "Failed to publish expense event",
			"expense_id", expenseID,
			"user_id", userID,
			"action", action,
			"error", err)
	}
}

// Close closes both storage and the event stream connection.
func (s *LedgerService) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if s.events != nil {
		if err := s.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %v", errs)
	}

	return nil
}
