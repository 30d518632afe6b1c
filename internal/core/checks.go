package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"partnercore/pkg/domain"
)

const msgRequired = "This field is required."

func valueAt(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		for _, inner := range t {
			if !isBlank(inner) {
				return false
			}
		}
		return true
	}
	return false
}

// RequiredFields fails for every listed path that is absent or blank.
func RequiredFields(paths ...string) Check {
	return NewCheck("required_fields", func(_ context.Context, _ CheckEnv, doc domain.Document) (domain.FieldErrors, error) {
		m, err := domain.ToMap(doc)
		if err != nil {
			return nil, err
		}
		errs := domain.FieldErrors{}
		for _, p := range paths {
			if v, ok := valueAt(m, p); !ok || isBlank(v) {
				errs.Add(p, msgRequired)
			}
		}
		return errs, nil
	})
}

// MinCount requires at least n entries in the collection at path.
func MinCount(path string, n int, message string) Check {
	return NewCheck("min_count:"+path, func(_ context.Context, _ CheckEnv, doc domain.Document) (domain.FieldErrors, error) {
		m, err := domain.ToMap(doc)
		if err != nil {
			return nil, err
		}
		v, _ := valueAt(m, path)
		items, _ := v.([]any)
		if len(items) < n {
			return domain.FieldErrors{path: {message}}, nil
		}
		return nil, nil
	})
}

// AttachmentPresent requires an attachment with code (and fileType when set)
// on the document. Failures are reported under field.
func AttachmentPresent(code domain.AttachmentCode, fileType, field, message string) Check {
	return NewCheck("attachment:"+string(code), func(ctx context.Context, env CheckEnv, doc domain.Document) (domain.FieldErrors, error) {
		if env.Attachments != nil {
			found, err := env.Attachments.Find(ctx, domain.RefOf(doc), code)
			if err != nil {
				return nil, err
			}
			for _, a := range found {
				if fileType == "" || a.FileType == fileType {
					return nil, nil
				}
			}
		}
		return domain.FieldErrors{field: {message}}, nil
	})
}

// CommentRequired fails when the transition carries no comment.
func CommentRequired() Check {
	return NewCheck("comment_required", func(_ context.Context, env CheckEnv, _ domain.Document) (domain.FieldErrors, error) {
		if strings.TrimSpace(env.Comment) == "" {
			return domain.FieldErrors{"comment": {msgRequired}}, nil
		}
		return nil, nil
	})
}

// TotalsConsistent fails when stored totals drift from the priced items.
func TotalsConsistent() Check {
	return NewCheck("totals_consistent", func(_ context.Context, _ CheckEnv, doc domain.Document) (domain.FieldErrors, error) {
		t, ok := doc.(domain.Totaled)
		if !ok {
			return nil, nil
		}
		return t.TotalsErrors(), nil
	})
}

// dateOrder reports under field when end precedes start. Nil bounds pass.
func dateOrder(errs domain.FieldErrors, field string, start, end *time.Time, message string) {
	if start != nil && end != nil && end.Before(*start) {
		errs.Add(field, message)
	}
}

// notFuture reports under field when at lies after today.
func notFuture(errs domain.FieldErrors, field string, at *time.Time, now time.Time, message string) {
	if at == nil {
		return
	}
	if truncateDay(*at).After(truncateDay(now)) {
		errs.Add(field, message)
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	_, err := currency.ParseISO(code)
	return err == nil
}

// CurrencyCode requires a valid ISO-4217 code at path.
func CurrencyCode(path string) Check {
	return NewCheck("currency:"+path, func(_ context.Context, _ CheckEnv, doc domain.Document) (domain.FieldErrors, error) {
		m, err := domain.ToMap(doc)
		if err != nil {
			return nil, err
		}
		v, _ := valueAt(m, path)
		code, _ := v.(string)
		if !validCurrency(code) {
			return domain.FieldErrors{path: {fmt.Sprintf("%q is not a valid ISO 4217 currency.", code)}}, nil
		}
		return nil, nil
	})
}

// countryProgrammeCovers checks that the programme cpID exists for the tenant
// and spans [start, end]. Missing bounds are left to date checks.
func countryProgrammeCovers(ctx context.Context, env CheckEnv, tenant, cpID string, start, end *time.Time) (domain.FieldErrors, error) {
	errs := domain.FieldErrors{}
	if cpID == "" || env.RefData == nil {
		return errs, nil
	}
	cp, err := env.RefData.CountryProgramme(ctx, tenant, cpID)
	if err != nil {
		if domain.IsKind(err, domain.ErrKindNotFound) {
			errs.Add("country_programme", "Country programme does not exist.")
			return errs, nil
		}
		return nil, err
	}
	if start == nil || end == nil {
		return errs, nil
	}
	if !cp.Covers(*start, *end) {
		errs.Add("country_programme", "Document dates must fall within the country programme.")
	}
	return errs, nil
}

// frCurrencyErrors requires every funds reservation to share one valid
// currency matching the planned budget.
func frCurrencyErrors(i *domain.Intervention) domain.FieldErrors {
	errs := domain.FieldErrors{}
	if len(i.FundsReservations) == 0 {
		errs.Add("funds_reservations", "At least one funds reservation is required.")
		return errs
	}
	first := i.FundsReservations[0].Currency
	for _, fr := range i.FundsReservations {
		if !validCurrency(fr.Currency) {
			errs.Add("funds_reservations.currency", fmt.Sprintf("%q is not a valid ISO 4217 currency.", fr.Currency))
			return errs
		}
		if fr.Currency != first {
			errs.Add("funds_reservations.currency", "All funds reservations must share one currency.")
			return errs
		}
	}
	if i.PlannedBudget.Currency != "" && i.PlannedBudget.Currency != first {
		errs.Add("planned_budget.currency", "Planned budget currency must match the funds reservations.")
	}
	return errs
}

func frTotal(i *domain.Intervention) decimal.Decimal {
	var total decimal.Decimal
	for _, fr := range i.FundsReservations {
		total = total.Add(fr.Amount)
	}
	return total
}
