package phoneintel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProvider_PostsBatchWithBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var req batchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"+14155552671"}, req.Phones)
		_ = json.NewEncoder(w).Encode(batchResponse{Results: []Lookup{
			{Phone: "+14155552671", IsValid: true, PhoneType: "voip"},
		}})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "k", srv.Client())
	got, err := p.ValidateBatch(context.Background(), []string{"+14155552671"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, PhoneUnknown, got[0].PhoneType)
}

func TestHTTPProvider_ClassifiesStatus(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		p := NewHTTPProvider(srv.URL, "", srv.Client())
		_, err := p.ValidateBatch(context.Background(), []string{"+14155552671"})
		srv.Close()

		require.Error(t, err)
		assert.Equal(t, tc.transient, errors.Is(err, ErrTransient), "status %d", tc.status)
	}
}
