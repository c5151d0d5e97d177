package pagination

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
	MinLimit     = 1
)

// Params holds validated pagination parameters
type Params struct {
	Page   int
	Limit  int
	Offset int
	Search string
	Sort   string // column name, prefix "-" for descending
}

// Parse extracts and validates page/limit/search/sort from query parameters
func Parse(c *gin.Context) Params {
	page, _ := strconv.Atoi(c.DefaultQuery("page", strconv.Itoa(DefaultPage)))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultLimit)))

	if page < 1 {
		page = DefaultPage
	}
	if limit < MinLimit {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	return Params{
		Page:   page,
		Limit:  limit,
		Offset: (page - 1) * limit,
		Search: strings.TrimSpace(c.Query("search")),
		Sort:   strings.TrimSpace(c.Query("sort")),
	}
}

// OrderClause converts the sort parameter into a SQL ORDER BY fragment,
// restricted to an allow-list of column names. Empty or unknown sorts fall
// back to the provided default.
func (p Params) OrderClause(allowed map[string]bool, fallback string) string {
	sort := p.Sort
	desc := false
	if strings.HasPrefix(sort, "-") {
		desc = true
		sort = sort[1:]
	}
	if sort == "" || !allowed[sort] {
		return fallback
	}
	if desc {
		return sort + " DESC"
	}
	return sort + " ASC"
}
