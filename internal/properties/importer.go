package properties

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"estate-backend/internal/auth"
	"estate-backend/internal/cache"
	"estate-backend/internal/database"
	"estate-backend/internal/logger"
	"estate-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

var (
	ErrEmptySheet    = errors.New("spreadsheet has no rows")
	ErrMissingColumn = errors.New("spreadsheet is missing a required column")
)

var requiredColumns = []string{"title", "property_type", "address", "city", "state", "zip_code", "price", "area"}

type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

type ImportResult struct {
	Created int        `json:"created"`
	Errors  []RowError `json:"errors"`
}

// ImportXLSX creates one property per data row of the first sheet, owned by ownerID.
// The first row holds column names; unknown columns are ignored. Bad rows are
// reported and skipped, good rows are saved.
func ImportXLSX(db *gorm.DB, r io.Reader, ownerID uint, agencyID *uint) (*ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("could not read spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptySheet
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("could not read sheet: %w", err)
	}
	if len(rows) < 1 {
		return nil, ErrEmptySheet
	}

	cols := map[string]int{}
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, req := range requiredColumns {
		if _, ok := cols[req]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, req)
		}
	}

	res := &ImportResult{Errors: []RowError{}}
	for i, row := range rows[1:] {
		rowNum := i + 2
		cell := func(name string) string {
			idx, ok := cols[name]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if strings.Join(row, "") == "" {
			continue
		}

		p, err := rowToProperty(cell)
		if err != nil {
			res.Errors = append(res.Errors, RowError{Row: rowNum, Message: err.Error()})
			continue
		}
		p.OwnerID = ownerID
		p.ListingAgencyID = agencyID
		if err := db.Create(p).Error; err != nil {
			res.Errors = append(res.Errors, RowError{Row: rowNum, Message: err.Error()})
			continue
		}
		res.Created++
	}
	return res, nil
}

func rowToProperty(cell func(string) string) (*models.Property, error) {
	p := &models.Property{
		Title:        cell("title"),
		Description:  cell("description"),
		PropertyType: models.PropertyType(strings.ToLower(cell("property_type"))),
		Status:       models.PropertyStatus(strings.ToLower(cell("status"))),
		ListingType:  models.ListingType(strings.ToLower(cell("listing_type"))),
		Address:      cell("address"),
		City:         cell("city"),
		State:        cell("state"),
		ZipCode:      cell("zip_code"),
		ViewingFee:   models.DefaultViewingFee,
	}
	if p.Title == "" || p.Address == "" || p.City == "" || p.State == "" || p.ZipCode == "" {
		return nil, errors.New("title, address, city, state and zip_code are required")
	}
	if !p.PropertyType.Valid() {
		return nil, fmt.Errorf("invalid property_type %q", p.PropertyType)
	}
	if p.Status == "" {
		p.Status = models.StatusAvailable
	} else if !p.Status.Valid() {
		return nil, fmt.Errorf("invalid status %q", p.Status)
	}
	if p.ListingType == "" {
		p.ListingType = models.ListingSale
	} else if !p.ListingType.Valid() {
		return nil, fmt.Errorf("invalid listing_type %q", p.ListingType)
	}

	var err error
	if p.Price, err = decimal.NewFromString(cell("price")); err != nil {
		return nil, fmt.Errorf("invalid price %q", cell("price"))
	}
	if p.Area, err = decimal.NewFromString(cell("area")); err != nil {
		return nil, fmt.Errorf("invalid area %q", cell("area"))
	}
	if v := cell("viewing_fee"); v != "" {
		if p.ViewingFee, err = decimal.NewFromString(v); err != nil {
			return nil, fmt.Errorf("invalid viewing_fee %q", v)
		}
	}
	if v := cell("bedrooms"); v != "" {
		if p.Bedrooms, err = strconv.Atoi(v); err != nil || p.Bedrooms < 0 {
			return nil, fmt.Errorf("invalid bedrooms %q", v)
		}
	}
	p.Bathrooms = decimal.Zero
	if v := cell("bathrooms"); v != "" {
		if p.Bathrooms, err = decimal.NewFromString(v); err != nil {
			return nil, fmt.Errorf("invalid bathrooms %q", v)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// POST /api/admin/properties/import (multipart: file)
func ImportHandler(pc *cache.Cache) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, _ := auth.CurrentUserID(c)
		fh, err := c.FormFile("file")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "file is required")
		}
		if !strings.HasSuffix(strings.ToLower(fh.Filename), ".xlsx") {
			return fiber.NewError(fiber.StatusBadRequest, "only .xlsx files can be imported")
		}
		f, err := fh.Open()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "could not read upload")
		}
		defer f.Close()

		res, err := ImportXLSX(database.DB, f, uid, auth.CurrentAgencyID(c))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if res.Created > 0 {
			pc.Invalidate(CacheNamespace)
		}
		logger.FromCtx(c).WithField("created", res.Created).WithField("failed", len(res.Errors)).Info("property import finished")
		return c.JSON(res)
	}
}
