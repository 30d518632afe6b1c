package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"partnercore/internal/refdata"
	"partnercore/pkg/domain"
)

// FormatReference renders {country_short}/{prefix}{year}/{serial}.
func FormatReference(countryShort, prefix string, year, serial int) string {
	return fmt.Sprintf("%s/%s%d/%d", countryShort, prefix, year, serial)
}

// CountryShortCode resolves the short code of tenant, falling back to the
// upper-cased tenant code when reference data does not know it.
func CountryShortCode(ctx context.Context, data refdata.Provider, tenant string) string {
	if data != nil {
		if t, err := data.Tenant(ctx, tenant); err == nil && t.ShortCode != "" {
			return t.ShortCode
		}
	}
	return strings.ToUpper(tenant)
}

// needsReference reports whether leaving from for to should number doc: the
// first move out of the initial status, unless it goes straight to cancelled.
func needsReference(doc domain.Document, from, to domain.Status) bool {
	if _, ok := doc.(domain.Numbered); !ok {
		return false
	}
	if doc.Head().ReferenceNumber != "" {
		return false
	}
	return from == domain.InitialStatus(doc.Kind()) && to != domain.StatusCancelled
}

// assignReference allocates the next serial for (tenant, kind, year) from
// the transaction's counters, so a rolled back commit never burns one. The
// sub-type prefix only appears in the rendered number.
func assignReference(tx domain.Transaction, doc domain.Document, countryShort string, now time.Time) string {
	numbered := doc.(domain.Numbered)
	h := doc.Head()
	prefix := numbered.ReferencePrefix()
	year := now.Year()
	serial := tx.NextSerial(domain.CounterKey{Tenant: h.Tenant, Kind: doc.Kind(), Year: year})
	h.ReferenceNumber = FormatReference(countryShort, prefix, year, serial)
	return h.ReferenceNumber
}
