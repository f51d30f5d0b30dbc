package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDigest(t *testing.T) {
	t.Parallel()

	var gotPath, gotChat, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		gotPath = r.URL.Path
		gotChat = r.PostForm.Get("chat_id")
		gotText = r.PostForm.Get("text")
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL+"/", "123:abc", "-100")
	require.NoError(t, n.PublishDigest(context.Background(), "- github: 2 kept"))

	assert.Equal(t, "/bot123:abc/sendMessage", gotPath)
	assert.Equal(t, "-100", gotChat)
	assert.Equal(t, "PECorpus\n- github: 2 kept", gotText)
}

func TestPublishDigest_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	require.Error(t, NewNotifier(srv.URL, "token", "chat").PublishDigest(context.Background(), "x"))
	require.Error(t, NewNotifier(srv.URL, "", "chat").PublishDigest(context.Background(), "x"))
}

func TestPublishDigest_APIDescription(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	}))
	defer srv.Close()

	err := NewNotifier(srv.URL, "token", "chat").PublishDigest(context.Background(), "x")
	require.ErrorContains(t, err, "chat not found")
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 10))
	long := truncate(strings.Repeat("ж", 5000), maxMessageRunes)
	assert.Equal(t, maxMessageRunes, utf8.RuneCountInString(long))
	assert.True(t, strings.HasSuffix(long, "…"))
}
