package translate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestTranslateSendsLangPair(t *testing.T) {
	var gotQuery, gotPair string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotPair = r.URL.Query().Get("langpair")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"responseData":{"translatedText":"ciao"},"responseStatus":200}`))
	}))
	defer srv.Close()

	tr := NewMyMemory(srv.URL, time.Second)
	out, err := tr.Translate(context.Background(), "hello", language.MustParse("en-US"), language.Italian)
	require.NoError(t, err)
	assert.Equal(t, "ciao", out)
	assert.Equal(t, "hello", gotQuery)
	assert.Equal(t, "en|it", gotPair)
}

func TestTranslateRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"responseData":{"translatedText":"QUOTA EXCEEDED"},"responseStatus":"403"}`))
	}))
	defer srv.Close()

	_, err := NewMyMemory(srv.URL, time.Second).Translate(context.Background(), "hi", language.English, language.Italian)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestTranslateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewMyMemory(srv.URL, time.Second).Translate(context.Background(), "hi", language.English, language.Italian)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestTranslateHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewMyMemory(srv.URL, time.Minute).Translate(ctx, "hi", language.English, language.Italian)
	assert.Error(t, err)
}
