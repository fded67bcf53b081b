package batch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// QueryOptions drive GenerateOptimizedQuery.
type QueryOptions struct {
	UseIndex string   // index hinted after the FROM table
	GroupBy  []string // appended unless the base already groups
	OrderBy  string   // e.g. "transaction_date DESC"
	Limit    int
	Offset   int
	// Placeholder formats the filter parameters; nil => "?".
	Placeholder sq.PlaceholderFormat
}

var (
	identRe   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
	orderRe   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*(\s+(?i:ASC|DESC))?(\s*,\s*[A-Za-z_][A-Za-z0-9_.]*(\s+(?i:ASC|DESC))?)*$`)
	fromRe    = regexp.MustCompile(`(?i)\bFROM\s+([A-Za-z_][A-Za-z0-9_.]*)`)
	whereRe   = regexp.MustCompile(`(?i)\bWHERE\b`)
	groupRe   = regexp.MustCompile(`(?i)\bGROUP\s+BY\b`)
	tailRe    = regexp.MustCompile(`(?i)\b(GROUP\s+BY|HAVING|ORDER\s+BY|LIMIT)\b`)
	aliasStop = map[string]bool{
		"WHERE": true, "JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
		"CROSS": true, "ON": true, "GROUP": true, "ORDER": true, "HAVING": true, "LIMIT": true,
		"UNION": true, "USE": true, "FORCE": true, "IGNORE": true,
	}
)

// GenerateOptimizedQuery rewrites base without touching any store: an index
// hint after the FROM table (and its alias), equality filters in sorted
// column order (ANDed onto an existing WHERE), grouping, ordering and
// pagination. Filter values come back as parameters; nil means IS NULL and a
// slice means IN.
func GenerateOptimizedQuery(base string, filters map[string]any, o QueryOptions) (string, []any, error) {
	q := strings.TrimRight(strings.TrimSpace(base), ";")
	if q == "" {
		return "", nil, fmt.Errorf("batch: empty base query")
	}

	if o.UseIndex != "" {
		if !identRe.MatchString(o.UseIndex) {
			return "", nil, fmt.Errorf("batch: invalid index name %q", o.UseIndex)
		}
		var err error
		if q, err = withIndexHint(q, o.UseIndex); err != nil {
			return "", nil, err
		}
	}

	var args []any
	if len(filters) > 0 {
		for _, c := range sortedKeys(filters) {
			if !identRe.MatchString(c) {
				return "", nil, fmt.Errorf("batch: invalid filter column %q", c)
			}
		}
		cond, a, err := sq.Eq(filters).ToSql()
		if err != nil {
			return "", nil, err
		}
		args = a
		glue := " WHERE "
		if whereRe.MatchString(q) {
			glue = " AND "
		}
		// filters go before any trailing GROUP BY / ORDER BY / LIMIT of the base
		if loc := tailRe.FindStringIndex(q); loc != nil {
			q = strings.TrimRight(q[:loc[0]], " ") + glue + cond + " " + q[loc[0]:]
		} else {
			q += glue + cond
		}
	}

	if len(o.GroupBy) > 0 && !groupRe.MatchString(q) {
		for _, c := range o.GroupBy {
			if !identRe.MatchString(c) {
				return "", nil, fmt.Errorf("batch: invalid group column %q", c)
			}
		}
		q += " GROUP BY " + strings.Join(o.GroupBy, ", ")
	}
	if o.OrderBy != "" {
		if !orderRe.MatchString(o.OrderBy) {
			return "", nil, fmt.Errorf("batch: invalid order clause %q", o.OrderBy)
		}
		q += " ORDER BY " + o.OrderBy
	}
	if o.Limit > 0 {
		q += " LIMIT " + strconv.Itoa(o.Limit)
	}
	if o.Offset > 0 {
		q += " OFFSET " + strconv.Itoa(o.Offset)
	}

	if o.Placeholder != nil {
		var err error
		if q, err = o.Placeholder.ReplacePlaceholders(q); err != nil {
			return "", nil, err
		}
	}
	return q, args, nil
}

func withIndexHint(q, index string) (string, error) {
	loc := fromRe.FindStringSubmatchIndex(q)
	if loc == nil {
		return "", fmt.Errorf("batch: index hint needs a FROM clause")
	}
	at := loc[3] // end of table name
	rest := q[at:]
	fields := strings.Fields(rest)
	if len(fields) > 0 {
		w := fields[0]
		skip := 0
		if strings.EqualFold(w, "AS") && len(fields) > 1 {
			skip = 2
		} else if !aliasStop[strings.ToUpper(w)] && identRe.MatchString(w) {
			skip = 1
		}
		for i := 0; i < skip; i++ {
			rest = strings.TrimLeft(rest, " \t\r\n")
			rest = rest[len(fields[i]):]
		}
		at = len(q) - len(rest)
	}
	return q[:at] + " USE INDEX (" + index + ")" + q[at:], nil
}
