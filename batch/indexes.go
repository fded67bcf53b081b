package batch

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/EmrahCan/budget-sub000/logging"
	"github.com/EmrahCan/budget-sub000/pool"
)

// Index is one secondary index the report queries rely on.
type Index struct {
	Name    string
	Table   string
	Columns []string
}

// FinanceIndexes covers the filters of the report queries: per-user lookups
// by date, category and type, and the per-user side tables.
var FinanceIndexes = []Index{
	{"idx_transactions_user_date", "transactions", []string{"user_id", "transaction_date"}},
	{"idx_transactions_user_category", "transactions", []string{"user_id", "category"}},
	{"idx_transactions_user_type_date", "transactions", []string{"user_id", "type", "transaction_date"}},
	{"idx_accounts_user", "accounts", []string{"user_id"}},
	{"idx_credit_cards_user", "credit_cards", []string{"user_id"}},
	{"idx_fixed_payments_user_due", "fixed_payments", []string{"user_id", "due_day"}},
	{"idx_installments_user_next", "installment_payments", []string{"user_id", "next_payment_date"}},
	{"idx_notifications_user_read", "notifications", []string{"user_id", "is_read"}},
}

// Statement renders the CREATE INDEX for dialect d. MySQL has no
// IF NOT EXISTS here; an existing index surfaces as error 1061 instead.
func (i Index) Statement(d pool.Dialect) string {
	ine := "IF NOT EXISTS "
	if d == pool.MySQL {
		ine = ""
	}
	return "CREATE INDEX " + ine + i.Name + " ON " + i.Table + " (" + strings.Join(i.Columns, ", ") + ")"
}

// IndexReport is the outcome of CreateOptimalIndexes.
type IndexReport struct {
	Created []string          `json:"created"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// CreateOptimalIndexes issues FinanceIndexes on poolName. It is idempotent;
// one failing index is logged and the rest still run. Only an unknown pool
// or a missing pool manager fails the call.
func (e *Executor) CreateOptimalIndexes(ctx context.Context, poolName string) (IndexReport, error) {
	return e.CreateIndexes(ctx, poolName, FinanceIndexes)
}

// CreateIndexes is CreateOptimalIndexes over an explicit list.
func (e *Executor) CreateIndexes(ctx context.Context, poolName string, idx []Index) (IndexReport, error) {
	if e.pools == nil {
		return IndexReport{}, ErrNoPools
	}
	p, err := e.pools.Pool(poolName)
	if err != nil {
		return IndexReport{}, err
	}

	rep := IndexReport{Failed: map[string]string{}}
	for _, i := range idx {
		_, err := e.pools.Execute(ctx, i.Statement(p.Dialect()), nil, pool.ExecOptions{Pool: poolName})
		if err != nil && !indexExists(err) {
			rep.Failed[i.Name] = err.Error()
			e.log.Warn("index creation failed", logging.Fields{"pool": poolName, "index": i.Name, "err": err})
			continue
		}
		rep.Created = append(rep.Created, i.Name)
	}
	e.log.Info("indexes ensured", logging.Fields{"pool": poolName, "created": len(rep.Created), "failed": len(rep.Failed)})
	return rep, nil
}

func indexExists(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1061 // ER_DUP_KEYNAME
}
