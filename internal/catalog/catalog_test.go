package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	assert.False(t, c.IsPremium("template-classic"))
	assert.True(t, c.IsPremium("template-executive"))
	assert.False(t, c.IsPremium("no-such-template"))

	tpl, ok := c.Lookup("template-modern")
	require.True(t, ok)
	assert.Equal(t, "Modern", tpl.Name)
}

func TestListPutsFreeTemplatesFirst(t *testing.T) {
	c, err := Parse([]byte(`
templates:
  - {id: a, name: A, premium: true}
  - {id: b, name: B}
  - {id: c, name: C, premium: true}
  - {id: d, name: D}
`))
	require.NoError(t, err)

	var ids []string
	for _, tpl := range c.List() {
		ids = append(ids, tpl.ID)
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, ids)
}

func TestParseRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"empty":     "templates: []",
		"no id":     "templates:\n  - name: X\n",
		"duplicate": "templates:\n  - id: x\n  - id: x\n",
		"not yaml":  "templates: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}
