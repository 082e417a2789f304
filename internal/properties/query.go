package properties

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	CacheNamespace  = "properties"
	defaultOrdering = "-created_at"
)

var orderingFields = map[string]bool{
	"price":      true,
	"area":       true,
	"created_at": true,
	"updated_at": true,
}

var exactFilters = []string{
	"property_type",
	"status",
	"listing_type",
	"city",
	"state",
	"zip_code",
}

// ListQuery is the parsed form of the public listing query string.
type ListQuery struct {
	Exact     map[string]string
	Featured  *bool
	Bedrooms  *int
	Bathrooms *decimal.Decimal
	OwnerID   *uint
	AgencyID  *uint
	MinPrice  *decimal.Decimal
	MaxPrice  *decimal.Decimal
	Search    string
	Ordering  string
	raw       map[string]string
}

func badParam(name string) error {
	return fiber.NewError(fiber.StatusBadRequest, "invalid value for "+name)
}

// ParseListQuery reads filters, search and ordering from the request.
func ParseListQuery(c *fiber.Ctx) (ListQuery, error) {
	q := ListQuery{Exact: map[string]string{}, raw: c.Queries()}
	for _, f := range exactFilters {
		if v := strings.TrimSpace(c.Query(f)); v != "" {
			q.Exact[f] = v
		}
	}

	if v := c.Query("featured"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return q, badParam("featured")
		}
		q.Featured = &b
	}
	if v := c.Query("bedrooms"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return q, badParam("bedrooms")
		}
		q.Bedrooms = &n
	}
	for name, dst := range map[string]**uint{"owner": &q.OwnerID, "listing_agency": &q.AgencyID} {
		if v := c.Query(name); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return q, badParam(name)
			}
			id := uint(n)
			*dst = &id
		}
	}
	for name, dst := range map[string]**decimal.Decimal{"bathrooms": &q.Bathrooms, "min_price": &q.MinPrice, "max_price": &q.MaxPrice} {
		if v := c.Query(name); v != "" {
			d, err := decimal.NewFromString(v)
			if err != nil {
				return q, badParam(name)
			}
			*dst = &d
		}
	}

	q.Search = strings.TrimSpace(c.Query("search"))
	q.Ordering = defaultOrdering
	if o := strings.TrimSpace(c.Query("ordering")); o != "" && orderingFields[strings.TrimPrefix(o, "-")] {
		q.Ordering = o
	}
	return q, nil
}

// Apply adds the filter and search conditions to db.
func (q ListQuery) Apply(db *gorm.DB) *gorm.DB {
	for _, f := range exactFilters {
		if v, ok := q.Exact[f]; ok {
			db = db.Where(f+" = ?", v)
		}
	}
	if q.Featured != nil {
		db = db.Where("featured = ?", *q.Featured)
	}
	if q.Bedrooms != nil {
		db = db.Where("bedrooms = ?", *q.Bedrooms)
	}
	if q.Bathrooms != nil {
		db = db.Where("bathrooms = ?", *q.Bathrooms)
	}
	if q.OwnerID != nil {
		db = db.Where("owner_id = ?", *q.OwnerID)
	}
	if q.AgencyID != nil {
		db = db.Where("listing_agency_id = ?", *q.AgencyID)
	}
	if q.MinPrice != nil {
		db = db.Where("price >= ?", *q.MinPrice)
	}
	if q.MaxPrice != nil {
		db = db.Where("price <= ?", *q.MaxPrice)
	}
	if q.Search != "" {
		like := "%" + strings.ToLower(q.Search) + "%"
		db = db.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ? OR LOWER(address) LIKE ?", like, like, like)
	}
	return db
}

// OrderClause turns "-price" into "price DESC, id DESC".
func (q ListQuery) OrderClause() string {
	field, dir := q.Ordering, "ASC"
	if strings.HasPrefix(field, "-") {
		field, dir = field[1:], "DESC"
	}
	return field + " " + dir + ", id " + dir
}

// CacheKey is stable for the same set of query parameters in any order.
func (q ListQuery) CacheKey() string {
	keys := make([]string, 0, len(q.raw))
	for k := range q.raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(q.raw[k])
		b.WriteByte('&')
	}
	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
