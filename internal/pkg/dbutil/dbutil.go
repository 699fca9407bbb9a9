package dbutil

import (
	"database/sql"
	"errors"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// SQLSTATE for unique_violation.
const uniqueViolation pq.ErrorCode = "23505"

// gendry renders _limit in mysql order: "LIMIT offset,count".
var mysqlLimit = regexp.MustCompile(`(?i)LIMIT\s+\?\s*,\s*\?`)

// Finalize rewrites a gendry statement for postgres: the limit clause becomes
// "LIMIT count OFFSET offset" and placeholders become $n.
func Finalize(query string, args []interface{}) (string, []interface{}) {
	if loc := mysqlLimit.FindStringIndex(query); loc != nil {
		idx := strings.Count(query[:loc[0]], "?")
		if idx+1 < len(args) {
			args[idx], args[idx+1] = args[idx+1], args[idx]
			query = query[:loc[0]] + "LIMIT ? OFFSET ?" + query[loc[1]:]
		}
	}
	return sqlx.Rebind(sqlx.DOLLAR, query), args
}

// Build finalizes the output of a gendry builder call, so callers can write
// dbutil.Build(builder.BuildSelect(...)).
func Build(query string, args []interface{}, err error) (string, []interface{}, error) {
	if err != nil {
		return "", nil, err
	}
	query, args = Finalize(query, args)
	return query, args, nil
}

func IsConflict(err error) bool {
	var pgErr *pq.Error
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
