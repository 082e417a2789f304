// Package pagination reads page/page_size query parameters and applies them to gorm queries.
package pagination

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Page struct {
	Number int `json:"page"`
	Size   int `json:"page_size"`
}

// FromQuery parses ?page=&page_size=; out of range values fall back to the defaults.
func FromQuery(c *fiber.Ctx) Page {
	p := Page{Number: c.QueryInt("page", 1), Size: c.QueryInt("page_size", DefaultPageSize)}
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// Apply adds LIMIT/OFFSET to db.
func (p Page) Apply(db *gorm.DB) *gorm.DB {
	return db.Offset(p.Offset()).Limit(p.Size)
}

// Result is the envelope returned by paginated list endpoints.
type Result[T any] struct {
	Count    int64 `json:"count"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Results  []T   `json:"results"`
}

func NewResult[T any](p Page, count int64, items []T) Result[T] {
	if items == nil {
		items = []T{}
	}
	return Result[T]{Count: count, Page: p.Number, PageSize: p.Size, Results: items}
}
