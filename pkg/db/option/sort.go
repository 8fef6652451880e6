// Package option holds reusable gorm query options.
package option

import (
	"strings"

	"gorm.io/gorm"
)

// QueryOption mutates a gorm statement.
type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type SortBy struct {
	Column string
	Desc   bool
}

// WithQuerySortBy resolves user-supplied sort parameters against allowed.
// Unknown columns yield a zero SortBy, which applies nothing.
func WithQuerySortBy(sortBy, orderBy string, allowed map[string]bool) SortBy {
	column := strings.ToLower(strings.TrimSpace(sortBy))
	if column == "" || !allowed[column] {
		return SortBy{}
	}
	return SortBy{
		Column: column,
		Desc:   strings.EqualFold(strings.TrimSpace(orderBy), "desc"),
	}
}

func WithSortBy(sort SortBy) QueryOption {
	return sort
}

func (s SortBy) Apply(stmt *gorm.DB) *gorm.DB {
	if s.Column == "" {
		return stmt
	}
	direction := "ASC"
	if s.Desc {
		direction = "DESC"
	}
	return stmt.Order(s.Column + " " + direction)
}
