package req

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumdm/internal/pkg/errs"
)

func TestBindJSON(t *testing.T) {
	type body struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name        string
		contentType string
		payload     string
		wantCode    int
	}{
		{"ok", "application/json", `{"name":"ada"}`, 0},
		{"wrong content type", "text/plain", `{"name":"ada"}`, errs.ErrUnsupportedMediaType},
		{"syntax error", "application/json", `{"name":`, errs.ErrInvalidJSONFormat},
		{"unknown field", "application/json", `{"nick":"ada"}`, errs.ErrInvalidJSONFormat},
		{"trailing data", "application/json", `{"name":"ada"}{"name":"bob"}`, errs.ErrExtraContentInBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.payload))
			r.Header.Set("Content-Type", tt.contentType)

			var dst body
			err := BindJSON(httptest.NewRecorder(), r, &dst)
			if tt.wantCode == 0 {
				require.Nil(t, err)
				assert.Equal(t, "ada", dst.Name)
				return
			}
			require.NotNil(t, err)
			assert.Equal(t, tt.wantCode, err.Code)
		})
	}
}

func TestQueryParams(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?recipient_id=42&offset=10&bad=-1", nil)

	id, err := QueryInt64(r, "recipient_id")
	require.Nil(t, err)
	assert.Equal(t, int64(42), id)

	off, err := QueryOffset(r, "offset")
	require.Nil(t, err)
	assert.Equal(t, 10, off)

	off, err = QueryOffset(r, "missing")
	require.Nil(t, err)
	assert.Equal(t, 0, off)

	_, err = QueryInt64(r, "missing")
	require.NotNil(t, err)
	assert.Equal(t, errs.ErrInvalidParams, err.Code)

	_, err = QueryOffset(r, "bad")
	require.NotNil(t, err)
}
