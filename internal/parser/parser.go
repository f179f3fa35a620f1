// Package parser turns free-form expense text (typed or voice-transcribed)
// into structured candidates via a generative model, memoizing responses so
// identical prompts never hit the model twice.
package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"kharcha/internal/cache"
	"kharcha/internal/core"
	"kharcha/internal/log"
)

var (
	ErrNoModel     = errors.New("no model configured")
	ErrUnparseable = errors.New("could not parse expense from input")
)

// Model generates text for a prompt. Satisfied by GeminiModel; tests supply
// fakes.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ResponseStore is the persistent prompt cache, keyed by prompt hash.
type ResponseStore interface {
	CachedResponse(ctx context.Context, prompt string) (string, bool, error)
	CacheResponse(ctx context.Context, prompt, payload string) error
}

// Candidate is a parsed expense proposal. It still needs a payment method
// and user confirmation before it becomes a ledger entry.
type Candidate struct {
	Category string  `json:"category"`
	Title    string  `json:"title"`
	Amount   float64 `json:"amount"`
	Date     string  `json:"date"`
}

// Validate mirrors what the ledger will check later, so bad model output is
// rejected before it is cached.
func (c Candidate) Validate() error {
	if strings.TrimSpace(c.Category) == "" {
		return core.ErrEmptyCategory
	}
	if strings.TrimSpace(c.Title) == "" {
		return core.ErrEmptyTitle
	}
	if c.Amount <= 0 {
		return core.ErrInvalidAmount
	}
	if _, err := core.ParseDate(c.Date); err != nil {
		return err
	}
	return nil
}

// ToExpense converts a validated candidate into a ledger entry for the given
// user and payment method.
func (c Candidate) ToExpense(userID int64, method core.PaymentMethod) (core.Expense, error) {
	if err := c.Validate(); err != nil {
		return core.Expense{}, err
	}
	cents, err := core.CentsFromFloat(c.Amount)
	if err != nil {
		return core.Expense{}, err
	}
	date, err := core.ParseDate(c.Date)
	if err != nil {
		return core.Expense{}, err
	}
	return core.Expense{
		UserID:   userID,
		Category: strings.TrimSpace(c.Category),
		Title:    strings.TrimSpace(c.Title),
		Amount:   core.Money{Cents: cents},
		Date:     date,
		Method:   method,
	}, nil
}

// Parser combines the model with a two-layer response cache: a bounded
// in-memory LRU in front of the persistent store.
type Parser struct {
	model  Model
	store  ResponseStore
	memo   *cache.LRUCache[Candidate]
	logger *log.Logger
	now    func() time.Time
}

func NewParser(model Model, store ResponseStore, memoSize int, memoTTL time.Duration, logger *log.Logger) *Parser {
	return &Parser{
		model:  model,
		store:  store,
		memo:   cache.NewLRUCache[Candidate](memoSize, memoTTL),
		logger: logger.WithComponent(log.ComponentParser),
		now:    time.Now,
	}
}

// Memo exposes the in-memory layer for cleanup registration.
func (p *Parser) Memo() *cache.LRUCache[Candidate] { return p.memo }

// ParseExpenseInput turns free-form text into a candidate. Cache order is
// memo, persistent store, model.
func (p *Parser) ParseExpenseInput(ctx context.Context, input string) (Candidate, error) {
	if p.model == nil {
		return Candidate{}, ErrNoModel
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return Candidate{}, ErrUnparseable
	}

	prompt := p.buildExpensePrompt(input)

	if c, ok := p.memo.Get(prompt); ok {
		return c, nil
	}

	if p.store != nil {
		payload, ok, err := p.store.CachedResponse(ctx, prompt)
		if err != nil {
			p.logger.WarnContext(ctx, "Persistent cache lookup failed", "error", err)
		} else if ok {
			var c Candidate
			if err := json.Unmarshal([]byte(payload), &c); err == nil && c.Validate() == nil {
				p.memo.Set(prompt, c)
				return c, nil
			}
			p.logger.WarnContext(ctx, "Discarding corrupt cached response")
		}
	}

	text, err := p.model.Generate(ctx, prompt)
	if err != nil {
		return Candidate{}, fmt.Errorf("generate: %w", err)
	}

	c, ok := extractCandidate(text)
	if !ok {
		p.logger.WarnContext(ctx, "Model response had no usable JSON object")
		return Candidate{}, ErrUnparseable
	}
	if err := c.Validate(); err != nil {
		p.logger.WarnContext(ctx, "Model response failed validation", "error", err)
		return Candidate{}, ErrUnparseable
	}

	p.memo.Set(prompt, c)
	if p.store != nil {
		payload, err := json.Marshal(c)
		if err == nil {
			if err := p.store.CacheResponse(ctx, prompt, string(payload)); err != nil {
				p.logger.WarnContext(ctx, "Persistent cache write failed", "error", err)
			}
		}
	}

	return c, nil
}

// buildExpensePrompt embeds today's date and the category vocabulary so the
// model's output lands directly in our schema.
func (p *Parser) buildExpensePrompt(input string) string {
	today := p.now().Format("2006-01-02")
	categories := "'" + strings.Join(core.DefaultCategories, "', '") + "'"
	return fmt.Sprintf(`You are an expert expense parser. Convert the input into a structured JSON object.
- Fields: category, title, amount, date.
- Date format must be YYYY-MM-DD. If unspecified, use today: %s.
- Standardize the category to one of the following: %s. If it doesn't fit, use 'Miscellaneous'.

Input: "%s"

Example Output: { "category": "Food & Dining", "title": "Dinner with friends", "amount": 1250, "date": "2024-07-21" }

Respond with only the JSON object.`, today, categories, input)
}

// Models often wrap the JSON in prose or code fences; take the outermost
// object.
var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

func extractCandidate(text string) (Candidate, bool) {
	match := jsonObjectPattern.FindString(text)
	if match == "" {
		return Candidate{}, false
	}
	var c Candidate
	if err := json.Unmarshal([]byte(match), &c); err != nil {
		return Candidate{}, false
	}
	return c, true
}
