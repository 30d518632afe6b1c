package domain

import (
	"testing"

	"partnercore/testutil"
)

// TestDomainDoesNotImportInternal keeps the domain layer free of internal
// implementation packages.
func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "domain must stay independent of internal packages")
}

func TestDomainThirdPartyImports(t *testing.T) {
	allowed := testutil.AnyOf(
		testutil.Stdlib,
		testutil.Under("github.com/shopspring/decimal", "github.com/google/uuid"),
	)
	testutil.AssertOnlyDirectImports(t, ".", allowed, "domain depends on decimal and uuid only")
}
