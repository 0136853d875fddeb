package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/invisinsights/internal/signal"
	"github.com/xkilldash9x/invisinsights/internal/storage"
)

func TestHost(t *testing.T) {
	page := Record{
		Kind:       KindPage,
		Ts:         1000,
		URL:        "/checkout?step=1",
		WallMs:     testWallMs,
		ProjectKey: "proj-page",
		Elements: []ElementRecord{
			{Element: signal.Element{ID: "buy", Tag: "button"}},
			{Element: signal.Element{ID: "copy", Tag: "p"}},
			{Element: signal.Element{ID: "more", Tag: "a", Href: "/more"}},
		},
	}
	host, err := NewHost(page, storage.NewMemory())
	require.NoError(t, err)

	assert.Equal(t, int64(1000), host.Now())
	assert.Equal(t, signal.Location{Path: "/checkout", Query: "step=1"}, host.Location())
	assert.Equal(t, float64(DefaultViewportHeight), host.ViewportHeight())
	assert.Equal(t, "proj-page", host.ProjectKey())

	host.Advance(3500)
	host.Advance(2000)
	assert.Equal(t, int64(3500), host.Now(), "the clock never goes backwards")
	assert.Equal(t, time.UnixMilli(testWallMs+2500).UTC(), host.WallClock())

	ctas := host.CallsToAction()
	require.Len(t, ctas, 2)
	assert.Equal(t, "buy", ctas[0].ID)
	assert.Equal(t, "more", ctas[1].ID)

	buy := host.Element("buy")
	require.NotNil(t, buy)
	assert.Same(t, buy, host.Element("buy"), "handles are stable")
	assert.Nil(t, host.Element(""))
	assert.Nil(t, host.Element("ghost"))

	host.Remove("buy")
	host.Remove("ghost")
	assert.Nil(t, host.Element("buy"))
	require.Len(t, host.CallsToAction(), 1)
	assert.Equal(t, "more", host.CallsToAction()[0].ID)
}

func TestNewHost_RejectsBadElements(t *testing.T) {
	_, err := NewHost(Record{Kind: KindPage, Elements: []ElementRecord{{Element: signal.Element{Tag: "div"}}}}, nil)
	assert.ErrorIs(t, err, ErrMalformedRecord)
}
