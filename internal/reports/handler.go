package reports

import (
	"bytes"
	"fmt"
	"time"

	"estate-backend/internal/database"
	"estate-backend/internal/logger"
	"estate-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func rangeFromQuery(c *fiber.Ctx) (Range, error) {
	r, err := ParseRange(c.Query("from"), c.Query("to"))
	if err != nil {
		return r, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return r, nil
}

func sendWorkbook(c *fiber.Ctx, name string, buf *bytes.Buffer) error {
	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s-%s.xlsx"`, name, time.Now().Format("20060102")))
	return c.Send(buf.Bytes())
}

// GET /api/admin/reports/summary?from=2026-01-01&to=2026-01-31 (staff)
func SummaryHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		r, err := rangeFromQuery(c)
		if err != nil {
			return err
		}
		s, err := BuildSummary(database.DB, r)
		if err != nil {
			logger.FromCtx(c).WithError(err).Error("summary failed")
			return fiber.NewError(fiber.StatusInternalServerError, "could not build summary")
		}
		return c.JSON(s)
	}
}

// GET /api/admin/payments/export?from=&to=&status=Paid (staff)
func ExportPaymentsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		r, err := rangeFromQuery(c)
		if err != nil {
			return err
		}
		buf, err := PaymentsWorkbook(database.DB, r, c.Query("status"))
		if err != nil {
			logger.FromCtx(c).WithError(err).Error("payments export failed")
			return fiber.NewError(fiber.StatusInternalServerError, "could not export payments")
		}
		return sendWorkbook(c, "payments", buf)
	}
}

// GET /api/admin/transactions/export?from=&to=&transaction_type=rent (staff)
func ExportTransactionsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		r, err := rangeFromQuery(c)
		if err != nil {
			return err
		}
		txType := c.Query("transaction_type")
		if txType != "" && !models.TransactionType(txType).Valid() {
			return fiber.NewError(fiber.StatusBadRequest, "invalid transaction_type")
		}
		buf, err := TransactionsWorkbook(database.DB, r, txType)
		if err != nil {
			logger.FromCtx(c).WithError(err).Error("transactions export failed")
			return fiber.NewError(fiber.StatusInternalServerError, "could not export transactions")
		}
		return sendWorkbook(c, "transactions", buf)
	}
}
