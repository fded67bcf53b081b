package batch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmrahCan/budget-sub000/pool"
)

// barrier blocks each caller until n callers have arrived, proving they ran
// at the same time.
func barrier(n int) func(context.Context) error {
	var mu sync.Mutex
	arrived := 0
	all := make(chan struct{})
	return func(ctx context.Context) error {
		mu.Lock()
		arrived++
		if arrived == n {
			close(all)
		}
		mu.Unlock()
		select {
		case <-all:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("reads did not run concurrently")
		}
	}
}

func TestBatchReadsRunConcurrentlyAndWritesInOrder(t *testing.T) {
	e := New(Options{})
	wait := barrier(3)
	read := func(v string, delay time.Duration) QueryFunc {
		return func(ctx context.Context) (any, error) {
			if err := wait(ctx); err != nil {
				return nil, err
			}
			time.Sleep(delay)
			return v, nil
		}
	}
	var mu sync.Mutex
	var applied []string
	write := func(name string) QueryFunc {
		return func(context.Context) (any, error) {
			mu.Lock()
			applied = append(applied, name)
			mu.Unlock()
			return name + " done", nil
		}
	}

	out, err := e.ExecuteBatchQueries(context.Background(), []Descriptor{
		{Key: "A", Mode: Write, Query: write("A")},
		{Key: "income", Query: read("100", 30*time.Millisecond)},
		{Key: "B", Mode: Write, Query: write("B")},
		{Key: "expense", Query: read("40", 5*time.Millisecond)},
		{Key: "categories", Query: read("3", 15*time.Millisecond)},
		{Key: "C", Mode: Write, Query: write("C")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, applied)
	assert.Equal(t, map[string]any{
		"income": "100", "expense": "40", "categories": "3",
		"A": "A done", "B": "B done", "C": "C done",
	}, out)
}

func TestBatchFailedReadLetsOtherReadsFinish(t *testing.T) {
	e := New(Options{})
	boom := errors.New("boom")
	wrote := false

	out, err := e.ExecuteBatchQueries(context.Background(), []Descriptor{
		{Key: "bad", Query: func(context.Context) (any, error) { return nil, boom }},
		{Key: "slow", Query: func(context.Context) (any, error) {
			time.Sleep(20 * time.Millisecond)
			return "late", nil
		}},
		{Key: "w", Mode: Write, Query: func(context.Context) (any, error) {
			wrote = true
			return nil, nil
		}},
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `"bad"`)
	assert.Equal(t, "late", out["slow"], "in-flight reads are not cancelled")
	assert.False(t, wrote, "writes are skipped after a failed read")
}

func TestBatchFailedWriteStopsLaterWrites(t *testing.T) {
	e := New(Options{})
	var applied []string
	w := func(name string, err error) QueryFunc {
		return func(context.Context) (any, error) {
			applied = append(applied, name)
			return name, err
		}
	}
	_, err := e.ExecuteBatchQueries(context.Background(), []Descriptor{
		{Key: "A", Mode: Write, Query: w("A", nil)},
		{Key: "B", Mode: Write, Query: w("B", errors.New("constraint"))},
		{Key: "C", Mode: Write, Query: w("C", nil)},
	})
	require.Error(t, err)
	assert.Equal(t, []string{"A", "B"}, applied)
}

func TestBatchRejectsBadDescriptors(t *testing.T) {
	e := New(Options{})
	q := func(context.Context) (any, error) { return nil, nil }
	cases := map[string]struct {
		ds   []Descriptor
		want error
	}{
		"empty key": {[]Descriptor{{Query: q}}, ErrEmptyKey},
		"duplicate": {[]Descriptor{{Key: "a", Query: q}, {Key: "a", Query: q}}, ErrDuplicateKey},
		"no query":  {[]Descriptor{{Key: "a"}}, ErrNoQuery},
		"no pools":  {[]Descriptor{{Key: "a", SQL: "SELECT 1"}}, ErrNoPools},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.ExecuteBatchQueries(context.Background(), tc.ds)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func newPools(t *testing.T) *pool.Manager {
	t.Helper()
	m := pool.NewManager(pool.Options{})
	t.Cleanup(func() { m.CloseAllPools(context.Background()) })
	_, err := m.CreatePool(context.Background(), "main", pool.Config{
		Dialect:        pool.SQLite,
		Path:           filepath.Join(t.TempDir(), "budget.db"),
		MaxConnections: 1,
	})
	require.NoError(t, err)
	_, err = m.Execute(context.Background(), `CREATE TABLE transactions (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		category TEXT,
		amount TEXT NOT NULL,
		transaction_date TEXT NOT NULL
	)`, nil, pool.ExecOptions{Pool: "main"})
	require.NoError(t, err)
	return m
}

func TestBatchSQLDescriptorsRunOnPool(t *testing.T) {
	e := New(Options{Pools: newPools(t)})
	ctx := context.Background()
	ins := "INSERT INTO transactions (user_id, type, amount, transaction_date) VALUES (?, ?, ?, ?)"

	_, err := e.ExecuteBatchQueries(ctx, []Descriptor{
		{Key: "t1", Mode: Write, SQL: ins, Params: []any{7, "income", "100", "2024-01-02"}, Options: DescriptorOptions{Pool: "main"}},
		{Key: "t2", Mode: Write, SQL: ins, Params: []any{7, "expense", "40", "2024-01-03"}, Options: DescriptorOptions{Pool: "main"}},
	})
	require.NoError(t, err)

	out, err := e.ExecuteBatchQueries(ctx, []Descriptor{
		{Key: "count", SQL: "SELECT COUNT(*) FROM transactions WHERE user_id = ?", Params: []any{7}, Options: DescriptorOptions{Pool: "main"}},
		{Key: "missing", SQL: "SELECT COUNT(*) FROM transactions", Options: DescriptorOptions{Pool: "nope"}},
	})
	require.Error(t, err)
	assert.Equal(t, pool.Configuration, pool.KindOf(err))
	res, ok := out["count"].(pool.Result)
	require.True(t, ok)
	assert.Equal(t, [][]any{{int64(2)}}, res.Rows)
}

func TestCreateOptimalIndexesIsIdempotentAndIsolatesFailures(t *testing.T) {
	e := New(Options{Pools: newPools(t)})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rep, err := e.CreateOptimalIndexes(ctx, "main")
		require.NoError(t, err)
		assert.Equal(t, []string{
			"idx_transactions_user_date",
			"idx_transactions_user_category",
			"idx_transactions_user_type_date",
		}, rep.Created)
		// the side tables do not exist in this schema
		assert.Len(t, rep.Failed, len(FinanceIndexes)-3)
		assert.Contains(t, rep.Failed, "idx_accounts_user")
	}

	_, err := e.CreateOptimalIndexes(ctx, "nope")
	assert.ErrorIs(t, err, pool.ErrPoolNotFound)
}

func TestIndexStatementPerDialect(t *testing.T) {
	i := Index{Name: "idx_a", Table: "t", Columns: []string{"a", "b"}}
	assert.Equal(t, "CREATE INDEX IF NOT EXISTS idx_a ON t (a, b)", i.Statement(pool.Postgres))
	assert.Equal(t, "CREATE INDEX idx_a ON t (a, b)", i.Statement(pool.MySQL))
}
