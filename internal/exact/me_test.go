package exact

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentMe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/current/Me", r.URL.Path)
		_, _ = w.Write([]byte(`{"d":{"results":[{"UserID":"u-1","UserName":"ada@example.com",` +
			`"FullName":"Ada Lovelace","Email":"ada@example.com","CurrentDivision":123456}]}}`))
	}))
	defer srv.Close()

	// No division is needed for /current/Me.
	c := NewClient(srv.URL, nil, staticToken("t"), nil, Options{})

	me, err := CurrentMe(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, &Me{
		UserID:          "u-1",
		UserName:        "ada@example.com",
		FullName:        "Ada Lovelace",
		Email:           "ada@example.com",
		CurrentDivision: 123456,
	}, me)
}

func TestCurrentMe_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"d":{"results":[]}}`))
	}))
	defer srv.Close()

	_, err := CurrentMe(context.Background(), NewClient(srv.URL, nil, staticToken("t"), nil, Options{}))
	assert.ErrorIs(t, err, ErrNoCurrentUser)
}

func TestCurrentMe_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := CurrentMe(context.Background(), NewClient(srv.URL, nil, staticToken("t"), nil, Options{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
