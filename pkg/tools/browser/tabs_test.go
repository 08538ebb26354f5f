package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pw/pkg/contextstore"
	"github.com/entrhq/pw/pkg/engine/enginetest"
	"github.com/entrhq/pw/pkg/types"
)

// withDocsTab gives the harness browser two tabs: example.com (the first
// page) and a docs tab that sorts before it.
func withDocsTab(h *harness) *enginetest.Page {
	h.page.SetURL("https://example.com")
	docs := h.browser.AddTab("https://b.example.com/docs")
	docs.SetTitle("https://b.example.com/docs", "Reference Docs")
	return docs
}

func TestTabsList(t *testing.T) {
	h := newHarness(t)
	withDocsTab(h)
	h.runtime.ProtectedURLs = []string{"https://b.example.com/*"}

	res, err := h.run(t, NewTabsListOperation(), ``, contextstore.Record{})
	require.NoError(t, err)

	data := res.Data.(TabsData)
	require.Equal(t, 2, data.Count)
	assert.Equal(t, TabInfo{Index: 0, Title: "Reference Docs", URL: "https://b.example.com/docs", Protected: true}, data.Tabs[0])
	assert.Equal(t, TabInfo{Index: 1, Title: "Example Domain", URL: "https://example.com"}, data.Tabs[1])
	assert.True(t, res.Delta.IsEmpty())
}

func TestTabsSwitch(t *testing.T) {
	h := newHarness(t)
	docs := withDocsTab(h)

	res, err := h.run(t, NewTabsSwitchOperation(), `{"target":"DOCS"}`, contextstore.Record{})
	require.NoError(t, err)

	data := res.Data.(TabData)
	assert.True(t, data.Switched)
	assert.Equal(t, 0, data.Index)
	assert.Equal(t, 1, docs.Fronted)
	assert.Same(t, docs, h.browser.Active())
	assert.Equal(t, "https://b.example.com/docs", res.Delta.URL)

	_, err = h.run(t, NewTabsSwitchOperation(), `{"target":"1"}`, contextstore.Record{})
	require.NoError(t, err)
	assert.Same(t, h.page, h.browser.Active())
}

func TestTabsSwitchSkipsProtected(t *testing.T) {
	h := newHarness(t)
	docs := withDocsTab(h)
	h.runtime.ProtectedURLs = []string{"https://b.example.com/*"}

	_, err := h.run(t, NewTabsSwitchOperation(), `{"target":"0"}`, contextstore.Record{})
	assert.Equal(t, types.CodeInvalidInput, types.CodeOf(err))

	res, err := h.run(t, NewTabsSwitchOperation(), `{"target":"example"}`, contextstore.Record{})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", res.Data.(TabData).URL)
	assert.Zero(t, docs.Fronted)
}

func TestTabsTargetErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing target", `{}`},
		{"index out of range", `{"target":"5"}`},
		{"negative index", `{"target":"-1"}`},
		{"no match", `{"target":"nowhere"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			withDocsTab(h)

			_, err := h.run(t, NewTabsCloseOperation(), tt.input, contextstore.Record{})
			assert.Equal(t, types.CodeInvalidInput, types.CodeOf(err))
		})
	}
}

func TestTabsClose(t *testing.T) {
	h := newHarness(t)
	docs := withDocsTab(h)

	res, err := h.run(t, NewTabsCloseOperation(), `{"target":"1"}`, contextstore.Record{})
	require.NoError(t, err)
	assert.True(t, res.Data.(TabData).Closed)
	assert.True(t, h.page.Closed)
	assert.False(t, docs.Closed)

	res, err = h.run(t, NewTabsListOperation(), ``, contextstore.Record{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Data.(TabsData).Count)
}

func TestTabsNew(t *testing.T) {
	h := newHarness(t)
	h.page.SetURL("https://example.com")

	res, err := h.run(t, NewTabsNewOperation(), `{"url":"https://example.com/new"}`, contextstore.Record{})
	require.NoError(t, err)

	data := res.Data.(TabData)
	assert.True(t, data.Created)
	assert.Equal(t, "https://example.com/new", data.URL)
	assert.Equal(t, 1, data.Index)
	assert.Equal(t, "https://example.com/new", res.Delta.URL)

	active := h.browser.Active()
	require.NotNil(t, active)
	assert.NotSame(t, h.page, active)
	assert.Equal(t, []string{"https://example.com/new"}, active.Gotos)
	assert.Empty(t, h.page.Gotos)
}

func TestTabsNewBlankAndProtected(t *testing.T) {
	h := newHarness(t)

	res, err := h.run(t, NewTabsNewOperation(), ``, contextstore.Record{LastURL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, "about:blank", res.Data.(TabData).URL)
	assert.True(t, res.Delta.IsEmpty())

	h.runtime.ProtectedURLs = []string{"https://bank.example.com/*"}
	_, err = h.run(t, NewTabsNewOperation(), `{"url":"https://bank.example.com/pay"}`, contextstore.Record{})
	assert.Equal(t, types.CodeInvalidInput, types.CodeOf(err))
}
