package reports

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perf "github.com/EmrahCan/budget-sub000"
	"github.com/EmrahCan/budget-sub000/pool"
)

func newLayer(t *testing.T) *perf.Layer {
	t.Helper()
	l, err := perf.New(perf.Options{
		Pools: map[string]pool.Config{"main": {
			Dialect: pool.SQLite,
			Path:    filepath.Join(t.TempDir(), "budget.db"),
		}},
		CleanupInterval:  -1,
		OptimizeInterval: -1,
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, l.Initialize(ctx))
	t.Cleanup(func() { _ = l.Shutdown(context.Background()) })
	require.NoError(t, EnsureSchema(ctx, l.Runner()))
	return l
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func tx(id, user int64, kind, amount, category, date string) Transaction {
	return Transaction{
		ID:       id,
		UserID:   user,
		Type:     kind,
		Amount:   decimal.RequireFromString(amount),
		Category: category,
		Date:     day(date),
	}
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func seed(t *testing.T, l *perf.Layer) {
	t.Helper()
	n, err := RecordTransactions(context.Background(), l, []Transaction{
		tx(1, 7, Income, "1000.50", "salary", "2024-03-01"),
		tx(2, 7, Expense, "120.25", "groceries", "2024-03-04"),
		tx(3, 7, Expense, "30.10", "groceries", "2024-03-18"),
		tx(4, 7, Expense, "500", "rent", "2024-03-05"),
		tx(5, 7, Expense, "99.99", "rent", "2024-04-01"),
		tx(6, 8, Expense, "12.00", "coffee", "2024-03-02"),
	})
	require.NoError(t, err)
	require.EqualValues(t, 6, n)
}

func TestMonthlySummary(t *testing.T) {
	l := newLayer(t)
	seed(t, l)

	s, err := MonthlySummary(context.Background(), l, 7, "2024-03")
	require.NoError(t, err)

	assert.Equal(t, int64(7), s.UserID)
	assert.Equal(t, "2024-03", s.Month)
	assertMoney(t, "1000.50", s.Income)
	assertMoney(t, "650.35", s.Expense)
	assertMoney(t, "350.15", s.Net)
	require.Len(t, s.Categories, 2)
	assert.Equal(t, "rent", s.Categories[0].Category)
	assertMoney(t, "500", s.Categories[0].Total)
	assert.Equal(t, "groceries", s.Categories[1].Category)
	assertMoney(t, "150.35", s.Categories[1].Total)
}

func TestMonthlySummaryEmptyMonth(t *testing.T) {
	l := newLayer(t)
	seed(t, l)

	s, err := MonthlySummary(context.Background(), l, 7, "2023-12")
	require.NoError(t, err)
	assert.True(t, s.Income.IsZero())
	assert.True(t, s.Net.IsZero())
	assert.Empty(t, s.Categories)
}

func TestMonthlySummaryCachedUntilRecorded(t *testing.T) {
	l := newLayer(t)
	seed(t, l)
	ctx := context.Background()

	first, err := MonthlySummary(ctx, l, 7, "2024-03")
	require.NoError(t, err)

	// a write that skips RecordTransactions is not seen
	_, err = l.Runner().Query(ctx, "",
		"INSERT INTO transactions (id, user_id, type, amount, category, transaction_date) VALUES (?, ?, ?, ?, ?, ?)",
		int64(9), int64(7), Expense, "10.00", "books", "2024-03-09")
	require.NoError(t, err)
	cached, err := MonthlySummary(ctx, l, 7, "2024-03")
	require.NoError(t, err)
	assertMoney(t, first.Expense.String(), cached.Expense)

	_, err = RecordTransactions(ctx, l, []Transaction{tx(10, 7, Income, "0.01", "refund", "2024-03-20")})
	require.NoError(t, err)
	fresh, err := MonthlySummary(ctx, l, 7, "2024-03")
	require.NoError(t, err)
	assertMoney(t, "1000.51", fresh.Income)
	assertMoney(t, "660.35", fresh.Expense)
	assert.Len(t, fresh.Categories, 3)
}

func TestConcurrentSummariesStayPerUser(t *testing.T) {
	l := newLayer(t)
	ctx := context.Background()
	const users = 30

	var rows []Transaction
	for u := int64(1); u <= users; u++ {
		rows = append(rows,
			tx(u*10, u, Income, fmt.Sprintf("%d.00", 1000+u), "salary", "2024-03-01"),
			tx(u*10+1, u, Expense, fmt.Sprintf("%d.00", u), "rent", "2024-03-02"))
	}
	_, err := RecordTransactions(ctx, l, rows)
	require.NoError(t, err)

	for round := 0; round < 3; round++ {
		var wg sync.WaitGroup
		got := make([]Summary, users+1)
		errs := make([]error, users+1)
		for u := int64(1); u <= users; u++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got[u], errs[u] = MonthlySummary(ctx, l, u, "2024-03")
			}()
		}
		wg.Wait()

		for u := int64(1); u <= users; u++ {
			require.NoError(t, errs[u])
			assert.Equal(t, u, got[u].UserID)
			assertMoney(t, fmt.Sprintf("%d", 1000+u), got[u].Income)
			assertMoney(t, fmt.Sprintf("%d", u), got[u].Expense)
		}
	}
}

func TestRecordTransactionsUpserts(t *testing.T) {
	l := newLayer(t)
	seed(t, l)
	ctx := context.Background()

	_, err := RecordTransactions(ctx, l, []Transaction{tx(4, 7, Expense, "450", "rent", "2024-03-05")})
	require.NoError(t, err)

	s, err := MonthlySummary(ctx, l, 7, "2024-03")
	require.NoError(t, err)
	assertMoney(t, "600.35", s.Expense)
}

func TestRecordTransactionsRejectsBadRows(t *testing.T) {
	l := newLayer(t)
	ctx := context.Background()

	_, err := RecordTransactions(ctx, l, []Transaction{tx(1, 7, "transfer", "1", "x", "2024-03-01")})
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	_, err = RecordTransactions(ctx, l, []Transaction{tx(1, 7, Expense, "-5", "x", "2024-03-01")})
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	n, err := RecordTransactions(ctx, l, nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestMonthlySummaryBadMonth(t *testing.T) {
	l := newLayer(t)
	_, err := MonthlySummary(context.Background(), l, 7, "March")
	assert.ErrorContains(t, err, "month")
}

func TestSchemaPerDialect(t *testing.T) {
	assert.Contains(t, Schema(pool.SQLite), "amount TEXT NOT NULL")
	assert.Contains(t, Schema(pool.Postgres), "amount DECIMAL(15,2) NOT NULL")
	assert.Contains(t, Schema(pool.MySQL), "transaction_date DATE NOT NULL")
}

func TestUserTag(t *testing.T) {
	assert.Equal(t, "user:42", UserTag(42))
}
