// Package reports holds the finance report computations served through the
// performance layer. Money is decimal throughout; amounts are stored as
// DECIMAL (TEXT on SQLite) and summed in Go so no float rounding creeps in.
package reports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	perf "github.com/EmrahCan/budget-sub000"
	"github.com/EmrahCan/budget-sub000/batch"
	"github.com/EmrahCan/budget-sub000/pool"
)

const (
	Income  = "income"
	Expense = "expense"

	monthLayout = "2006-01"
	dateLayout  = "2006-01-02"
	summaryTTL  = 10 * time.Minute
)

var ErrInvalidTransaction = errors.New("reports: invalid transaction")

// Transaction is one row of the transactions table.
type Transaction struct {
	ID       int64
	UserID   int64
	Type     string // Income or Expense
	Amount   decimal.Decimal
	Category string
	Date     time.Time
}

type CategoryTotal struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
}

// Summary is one user's month.
type Summary struct {
	UserID     int64           `json:"userId"`
	Month      string          `json:"month"`
	Income     decimal.Decimal `json:"income"`
	Expense    decimal.Decimal `json:"expense"`
	Net        decimal.Decimal `json:"net"`
	Categories []CategoryTotal `json:"categories"`
}

// UserTag is the cache tag every report of userID carries.
func UserTag(userID int64) string { return "user:" + strconv.FormatInt(userID, 10) }

// Schema returns the transactions table DDL for d.
func Schema(d pool.Dialect) string {
	amount := "DECIMAL(15,2)"
	date := "DATE"
	if d == pool.SQLite {
		amount, date = "TEXT", "TEXT"
	}
	return "CREATE TABLE IF NOT EXISTS transactions (" +
		"id BIGINT PRIMARY KEY, " +
		"user_id BIGINT NOT NULL, " +
		"type VARCHAR(16) NOT NULL, " +
		"amount " + amount + " NOT NULL, " +
		"category VARCHAR(64) NOT NULL, " +
		"transaction_date " + date + " NOT NULL)"
}

// EnsureSchema creates the transactions table on the runner's default pool.
func EnsureSchema(ctx context.Context, r perf.Runner) error {
	d, err := r.Dialect("")
	if err != nil {
		return err
	}
	_, err = r.Query(ctx, "", Schema(d))
	return err
}

// MonthlySummary totals income and expense of userID for month ("2006-01")
// and breaks expenses down by category. The three reads run concurrently;
// the result is cached under UserTag(userID).
func MonthlySummary(ctx context.Context, l *perf.Layer, userID int64, month string) (Summary, error) {
	start, err := time.Parse(monthLayout, month)
	if err != nil {
		return Summary{}, fmt.Errorf("reports: month %q: %w", month, err)
	}
	params := map[string]any{"user": userID, "month": month}
	return perf.Compute(ctx, l, "monthly_summary", params, func(ctx context.Context, r perf.Runner) (Summary, error) {
		return monthlySummary(ctx, r, userID, month, start)
	}, perf.ComputeOptions{
		TTL:   summaryTTL,
		Tags:  []string{UserTag(userID)},
		Codec: "json",
	})
}

func monthlySummary(ctx context.Context, r perf.Runner, userID int64, month string, start time.Time) (Summary, error) {
	d, err := r.Dialect("")
	if err != nil {
		return Summary{}, err
	}
	span := []any{start.Format(dateLayout), start.AddDate(0, 1, 0).Format(dateLayout)}
	const base = "SELECT %s FROM transactions WHERE transaction_date >= ? AND transaction_date < ?"

	o := batch.QueryOptions{Placeholder: d.Placeholder()}
	if d == pool.MySQL {
		o.UseIndex = "idx_transactions_user_type_date"
	}
	// keys name timings too, so they carry the user and month
	suffix := ":" + strconv.FormatInt(userID, 10) + ":" + month
	var ds []batch.Descriptor
	for _, q := range []struct{ key, cols, kind, order string }{
		{"income", "amount", Income, ""},
		{"expense", "amount", Expense, ""},
		{"categories", "category, amount", Expense, "category"},
	} {
		o.OrderBy = q.order
		sql, args, err := batch.GenerateOptimizedQuery(fmt.Sprintf(base, q.cols),
			map[string]any{"user_id": userID, "type": q.kind}, o)
		if err != nil {
			return Summary{}, err
		}
		ds = append(ds, batch.Descriptor{
			Key:    q.key + suffix,
			Mode:   batch.Read,
			SQL:    sql,
			Params: append(append([]any(nil), span...), args...),
		})
	}

	res, err := r.Batch(ctx, ds)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{UserID: userID, Month: month, Categories: []CategoryTotal{}}
	if s.Income, err = sumColumn(res["income"+suffix], 0); err != nil {
		return Summary{}, err
	}
	if s.Expense, err = sumColumn(res["expense"+suffix], 0); err != nil {
		return Summary{}, err
	}
	s.Net = s.Income.Sub(s.Expense)

	byCat := map[string]decimal.Decimal{}
	cats, _ := res["categories"+suffix].(pool.Result)
	for _, row := range cats.Rows {
		amt, err := toDecimal(row[1])
		if err != nil {
			return Summary{}, err
		}
		c := asString(row[0])
		byCat[c] = byCat[c].Add(amt)
	}
	for c, total := range byCat {
		s.Categories = append(s.Categories, CategoryTotal{Category: c, Total: total})
	}
	sort.Slice(s.Categories, func(i, j int) bool {
		if !s.Categories[i].Total.Equal(s.Categories[j].Total) {
			return s.Categories[i].Total.GreaterThan(s.Categories[j].Total)
		}
		return s.Categories[i].Category < s.Categories[j].Category
	})
	return s, nil
}

// RecordTransactions upserts rows on the default pool and drops the cached
// reports of every user they touch. Returns the rows affected.
func RecordTransactions(ctx context.Context, l *perf.Layer, rows []Transaction) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	values := make([][]any, 0, len(rows))
	users := map[int64]struct{}{}
	for _, t := range rows {
		if t.Type != Income && t.Type != Expense {
			return 0, fmt.Errorf("%w: transaction %d has type %q", ErrInvalidTransaction, t.ID, t.Type)
		}
		if t.Amount.IsNegative() {
			return 0, fmt.Errorf("%w: transaction %d has a negative amount", ErrInvalidTransaction, t.ID)
		}
		values = append(values, []any{t.ID, t.UserID, t.Type, t.Amount.StringFixed(2), t.Category, t.Date.Format(dateLayout)})
		users[t.UserID] = struct{}{}
	}

	results, err := l.Runner().Insert(ctx, "transactions",
		[]string{"id", "user_id", "type", "amount", "category", "transaction_date"}, values,
		pool.BatchInsertOptions{OnDuplicateUpdate: true, ConflictColumns: []string{"id"}})
	var affected int64
	for _, r := range results {
		affected += r.RowsAffected
	}

	// chunks written before a failure are visible, so invalidate regardless
	tags := make([]string, 0, len(users))
	for u := range users {
		tags = append(tags, UserTag(u))
	}
	sort.Strings(tags)
	l.Invalidate(ctx, tags...)
	return affected, err
}

func sumColumn(v any, col int) (decimal.Decimal, error) {
	res, _ := v.(pool.Result)
	sum := decimal.Zero
	for _, row := range res.Rows {
		amt, err := toDecimal(row[col])
		if err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(amt)
	}
	return sum, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, nil
	case string:
		return decimal.NewFromString(x)
	case []byte:
		return decimal.NewFromString(string(x))
	case int64:
		return decimal.NewFromInt(x), nil
	case float64:
		return decimal.NewFromFloat(x), nil
	default:
		return decimal.NewFromString(fmt.Sprint(x))
	}
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}
