package library

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/checkride-sync/internal/models"
)

func TestDefaultLibrary(t *testing.T) {
	lib, err := Default()
	require.NoError(t, err)
	require.NotEmpty(t, lib.Version())
	require.NotEmpty(t, lib.Templates())

	tpl, ok := lib.Template("3f9a8c41-ifr-p1-l1")
	require.True(t, ok)
	assert.Equal(t, models.CategoryIFR, tpl.Category)

	byLegacy, ok := lib.TemplateByLegacyID("default_ifr_p2_l4")
	require.True(t, ok)
	assert.Equal(t, "3f9a8c41-ifr-p2-l4", byLegacy.ID)

	reviews := lib.ByCategory("REVIEWS")
	assert.Len(t, reviews, 2)
	for _, r := range reviews {
		assert.Equal(t, models.CategoryReview, r.Category)
	}
}

func TestLookupsReturnCopies(t *testing.T) {
	lib, err := Default()
	require.NoError(t, err)

	tpl, ok := lib.Template("7d1c2b0e-ppl-p1-l1")
	require.True(t, ok)
	tpl.Items[0].Title = "mutated"
	tpl.Items = tpl.Items[:1]

	again, _ := lib.Template("7d1c2b0e-ppl-p1-l1")
	assert.Equal(t, "Preflight inspection", again.Items[0].Title)
	assert.Len(t, again.Items, 5)
}

func TestLoadSortsItemsByOrder(t *testing.T) {
	lib, err := Load([]byte(`
version: test
templates:
  - id: t1
    name: T
    category: ppl
    items:
      - {id: b, title: B, order: 2}
      - {id: a, title: A, order: 1}
`))
	require.NoError(t, err)
	tpl, _ := lib.Template("t1")
	assert.Equal(t, "a", tpl.Items[0].ID)
	assert.Equal(t, models.CategoryPPL, tpl.Category)
}

func TestLoadRejectsInvalidCatalogs(t *testing.T) {
	cases := map[string]string{
		"missing id":       "templates: [{name: x, items: []}]",
		"duplicate id":     "templates: [{id: a, items: []}, {id: a, items: []}]",
		"duplicate item":   "templates: [{id: a, items: [{id: i}, {id: i}]}]",
		"empty item id":    "templates: [{id: a, items: [{title: x}]}]",
		"duplicate legacy": "templates: [{id: a, legacyId: l, items: []}, {id: b, legacyId: l, items: []}]",
		"bad yaml":         "templates: [",
	}
	for name, body := range cases {
		_, err := Load([]byte(body))
		assert.Error(t, err, name)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: x\ntemplates: []\n"), 0o600))
	lib, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "x", lib.Version())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
