package expand

import (
	"testing"

	"expandable/testutil"
)

func TestEngineDoesNotImportBackends(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImportForbidden,
		"the engine reaches storage through domain.RowStore only")
}
