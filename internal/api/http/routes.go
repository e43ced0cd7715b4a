package httpapi

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"momobot/internal/momo"
	"momobot/internal/query"
)

var validate = validator.New()

// RegisterRoutes wires the status endpoints into the Fiber app. They
// expose the same answers the bot gives, for the addon's supervisor
// and dashboards.
func RegisterRoutes(app *fiber.App, engine *query.Engine) {
	v1 := app.Group("/api/v1")

	v1.Get("/momo/latest", func(c *fiber.Ctx) error {
		scope, err := parseScopeQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		res, err := engine.Latest(c.Context(), scope)
		if err != nil {
			if errors.Is(err, momo.ErrNoData) {
				return fiber.NewError(fiber.StatusNotFound, "no data for requested scope")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to query mortality data")
		}

		return c.JSON(fiber.Map{
			"scope":    scope,
			"date":     res.Observation.Date.Format(momo.DateLayout),
			"observed": res.Observation.Observed,
			"expected": res.Observation.Expected,
			"excess":   res.Observation.Excess(),
			"stale":    res.Stale,
		})
	})

	v1.Get("/momo/summary", func(c *fiber.Ctx) error {
		var req summaryQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		scope, err := momo.ParseScope(req.Scope)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		res, err := engine.ExcessSummary(c.Context(), scope, req.From, req.To)
		if err != nil {
			if errors.Is(err, momo.ErrNoData) {
				return fiber.NewError(fiber.StatusNotFound, "no data for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to query mortality data")
		}

		return c.JSON(fiber.Map{
			"scope":       scope,
			"from":        res.From.Format(momo.DateLayout),
			"to":          res.To.Format(momo.DateLayout),
			"days":        res.Days,
			"totalExcess": res.TotalExcess,
			"anomalyDays": res.AnomalyDays,
			"stale":       res.Stale,
		})
	})
}

// scopeQuery holds the query parameter identifying a scope.
type scopeQuery struct {
	Scope string `validate:"required"`
}

func parseScopeQuery(c *fiber.Ctx) (momo.Scope, error) {
	q := scopeQuery{Scope: c.Query("scope")}
	if err := validate.Struct(q); err != nil {
		return momo.Scope{}, err
	}
	return momo.ParseScope(q.Scope)
}

// summaryQuery holds query parameters for the summary endpoint.
type summaryQuery struct {
	Scope string    `validate:"required"`
	From  time.Time `validate:"required"`
	To    time.Time `validate:"required,gtefield=From"`
}

func (s *summaryQuery) bind(c *fiber.Ctx) error {
	s.Scope = c.Query("scope")

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseDate(fromStr)
	if err != nil {
		return err
	}
	to, err := parseDate(toStr)
	if err != nil {
		return err
	}

	s.From = from
	s.To = to
	return nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(momo.DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, errors.New("invalid date format; use YYYY-MM-DD")
	}
	return t, nil
}
