package drive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListChanges(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/changes", r.URL.Path)
		assert.Equal(t, "100", q.Get("pageToken"))
		assert.Equal(t, "true", q.Get("includeRemoved"))
		assert.Equal(t, "drive", q.Get("spaces"))
		_, _ = w.Write([]byte(`{
			"changes":[
				{"fileId":"a","removed":true,"time":"2024-01-01T00:00:00Z"},
				{"fileId":"b","removed":false,"file":{"id":"b","name":"dir","mimeType":"application/vnd.google-apps.folder"}}
			],
			"newStartPageToken":"101"
		}`))
	}))
	defer srv.Close()

	page, err := newTestClient(t, srv.URL).ListChanges(context.Background(), "100", 0)
	require.NoError(t, err)
	require.Len(t, page.Changes, 2)

	assert.Equal(t, "a", page.Changes[0].FileID)
	assert.True(t, page.Changes[0].Removed)
	assert.Nil(t, page.Changes[0].File)
	assert.Equal(t, 2024, page.Changes[0].Time.Year())

	require.NotNil(t, page.Changes[1].File)
	assert.True(t, page.Changes[1].File.IsFolder())

	assert.Empty(t, page.NextPageToken)
	assert.Equal(t, "101", page.NewStartPageToken)
}

func TestStartPageToken_Error(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeDriveError(w, http.StatusUnauthorized, "authError")
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).StartPageToken(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAbout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/about", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"user":{"emailAddress":"a@example.com","displayName":"A","permissionId":"perm"},
			"storageQuota":{"usage":"100"},
			"maxUploadSize":"5242880000000"
		}`))
	}))
	defer srv.Close()

	about, err := newTestClient(t, srv.URL).About(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "perm", about.PermissionID)
	assert.Equal(t, "a@example.com", about.Email)
	assert.Equal(t, int64(100), about.Usage)
	assert.Zero(t, about.Limit, "unlimited accounts omit the limit")
	assert.Equal(t, int64(5242880000000), about.MaxUploadSize)
}
