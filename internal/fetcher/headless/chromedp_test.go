package headless

import (
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	r, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	defer r.Close()
	require.NotNil(t, r.tabs)
	require.Equal(t, 45*time.Second, r.cfg.NavigationTimeout)
	require.Equal(t, 500*time.Millisecond, r.cfg.Settle)

	unbounded, err := NewChromedp(Config{})
	require.NoError(t, err)
	defer unbounded.Close()
	require.Nil(t, unbounded.tabs)
}

func TestNavigationKeepsTopLevelDocument(t *testing.T) {
	t.Parallel()

	var nav navigation
	nav.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  203,
			URL:     "https://example.com/app",
			Headers: network.Headers{"Content-Type": "text/html", "Vary": []any{"Accept", "Cookie"}},
		},
	})
	nav.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://ads.example.net/frame"},
	})
	nav.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500},
	})
	nav.observe("unrelated event")

	page := nav.page("https://example.com/app", "")
	require.Equal(t, 203, page.StatusCode)
	require.Equal(t, "https://example.com/app", page.URL)
	require.Equal(t, "text/html", page.ContentType())
	require.Equal(t, []string{"Accept", "Cookie"}, page.Headers.Values("Vary"))

	// the browser's final location wins over the response URL
	require.Equal(t, "https://example.com/app#/home", nav.page("https://example.com/app", "https://example.com/app#/home").URL)
}

func TestNavigationWithoutEvents(t *testing.T) {
	t.Parallel()

	var nav navigation
	page := nav.page("https://example.com/requested", "")
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, "https://example.com/requested", page.URL)
	require.NotNil(t, page.Headers)
}
