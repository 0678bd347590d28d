package smsx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClientSend(t *testing.T) {
	t.Parallel()

	t.Run("posts normalized form payload", func(t *testing.T) {
		var gotForm map[string][]string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			gotForm = r.PostForm
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, Credentials{Login: "bot", Password: "hunter2"}, time.Second)
		err := c.Send(context.Background(), "+7 900 123 45 67", "Your code: 123456")
		require.NoError(t, err)

		require.Equal(t, []string{"bot"}, gotForm["username"])
		require.Equal(t, []string{"hunter2"}, gotForm["password"])
		require.Equal(t, []string{"79001234567"}, gotForm["data[to][]"])
		require.Equal(t, []string{"Your code: 123456"}, gotForm["data[body]"])
	})

	t.Run("non-200 is a send failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, Credentials{}, time.Second)
		err := c.Send(context.Background(), "79001234567", "code")
		require.ErrorIs(t, err, ErrSendFailed)
	})

	t.Run("unreachable gateway is a send failure", func(t *testing.T) {
		c := NewClient("http://127.0.0.1:1", Credentials{}, 200*time.Millisecond)
		err := c.Send(context.Background(), "79001234567", "code")
		require.ErrorIs(t, err, ErrSendFailed)
	})
}

func TestNormalizeNumber(t *testing.T) {
	t.Parallel()

	require.Equal(t, "79001234567", NormalizeNumber("+7 900 123 45 67"))
	require.Equal(t, "123", NormalizeNumber("123"))
	require.Equal(t, "", NormalizeNumber(" + "))
}

func TestMaskNumber(t *testing.T) {
	t.Parallel()

	require.Equal(t, "790******67", MaskNumber("+7 900 123 45 67"))
	require.Equal(t, "****", MaskNumber("1234"))
}
