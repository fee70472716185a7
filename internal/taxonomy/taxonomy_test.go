package taxonomy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultTaxonomyIsValid(t *testing.T) {
	t.Parallel()

	tax, err := Default()
	require.NoError(t, err)

	cats := tax.Categories()
	require.Len(t, cats, 6)
	require.Equal(t, "user_behavior_violations", cats[0].Name)
	require.Equal(t, "technical_algorithmic_flaws", cats[5].Name)
	require.Equal(t, 610, tax.Len())
	require.Len(t, tax.Pairs(), tax.Len())
	require.Equal(t, Pair{Category: "user_behavior_violations", Keyword: "tiktok impersonation"}, tax.Pairs()[0])
}

func TestParseRejectsKeywordInTwoCategories(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`
categories:
  - name: a
    keywords: [tiktok scam]
  - name: b
    keywords: [tiktok scam]
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), `"a" and "b"`)
}

func TestParseValidation(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"no categories":  `categories: []`,
		"empty name":     "categories:\n  - name: ''\n    keywords: [x]\n",
		"no keywords":    "categories:\n  - name: a\n    keywords: []\n",
		"blank keyword":  "categories:\n  - name: a\n    keywords: ['  ']\n",
		"duplicate name": "categories:\n  - name: a\n    keywords: [x]\n  - name: a\n    keywords: [y]\n",
		"bad yaml":       "categories: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestCategoriesReturnsCopy(t *testing.T) {
	t.Parallel()

	tax, err := New([]Category{{Name: "x", Keywords: []string{"y"}}})
	require.NoError(t, err)

	cats := tax.Categories()
	cats[0].Keywords[0] = "mutated"
	require.Equal(t, "y", tax.Pairs()[0].Keyword)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("categories:\n  - name: x\n    keywords: [y, z]\n"), 0o600))

	tax, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []Pair{{"x", "y"}, {"x", "z"}}, tax.Pairs())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
