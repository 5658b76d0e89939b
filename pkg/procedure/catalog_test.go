package procedure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog()

	assert.True(t, catalog.Valid("argent"))
	assert.True(t, catalog.Valid("famille"))
	assert.False(t, catalog.Valid("crypto"))
	assert.Len(t, catalog.Codes(), 10)
}

func TestCatalogValidateAll(t *testing.T) {
	catalog := DefaultCatalog()

	unknown := catalog.ValidateAll([]Code{"argent", "nope", "famille", "bogus"})
	assert.Equal(t, []Code{"nope", "bogus"}, unknown)

	assert.Nil(t, catalog.ValidateAll([]Code{"argent", "famille"}))
}

func TestSortedStrings(t *testing.T) {
	sorted := SortedStrings([]Code{"famille", "argent", "papiers"})
	assert.Equal(t, []string{"argent", "famille", "papiers"}, sorted)
}

func TestCatalogGet(t *testing.T) {
	catalog := DefaultCatalog()

	def, err := catalog.Get("papiers")
	assert.NoError(t, err)
	assert.Equal(t, "Papiers", def.ShortTitle)

	_, err = catalog.Get("nope")
	assert.Error(t, err)
}
