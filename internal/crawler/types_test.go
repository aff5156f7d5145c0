package crawler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageMetadata_JSONCollapsesAbsentFields(t *testing.T) {
	t.Parallel()

	title := "Example"
	data, err := json.Marshal([]PageMetadata{
		{URL: "https://example.com/a", Title: &title, Status: PageStatusOK},
		EmptyMetadata("https://example.com/b", PageStatusFetchFailed),
	})
	require.NoError(t, err)
	require.JSONEq(t, `[
		{"url":"https://example.com/a","title":"Example","description":null},
		{"url":"https://example.com/b","title":null,"description":null}
	]`, string(data))
}

func TestPageMetadata_Failed(t *testing.T) {
	t.Parallel()

	require.False(t, PageMetadata{Status: PageStatusOK}.Failed())
	require.True(t, EmptyMetadata("u", PageStatusFetchFailed).Failed())
	require.True(t, EmptyMetadata("u", PageStatusParseFailed).Failed())
}
