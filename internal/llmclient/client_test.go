package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Complete_SendsRequestAndParsesContent(t *testing.T) {
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		resp := chatResponse{}
		resp.Choices = []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}{{}}
		resp.Choices[0].Message.Content = "hello there"
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", "gpt-extract", 5*time.Second)
	out, err := c.Complete(context.Background(), []Message{NewTextMessage(RoleUser, "hi")})
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)
	assert.Equal(t, "gpt-extract", gotBody.Model)
	assert.False(t, gotBody.Stream)
}

func TestClient_Complete_PropagatesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "bad request"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "model", 5*time.Second)
	_, err := c.Complete(context.Background(), []Message{NewTextMessage(RoleUser, "hi")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad request")
}

func TestClient_Complete_NoChoicesIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "model", 5*time.Second)
	_, err := c.Complete(context.Background(), []Message{NewTextMessage(RoleUser, "hi")})
	require.Error(t, err)
}

func TestClient_Complete_RequiresBaseURLAndModel(t *testing.T) {
	c := NewClient("", "", "model", time.Second)
	_, err := c.Complete(context.Background(), nil)
	require.Error(t, err)

	c = NewClient("http://example.invalid", "", "", time.Second)
	_, err = c.Complete(context.Background(), nil)
	require.Error(t, err)
}

func TestNewVisionMessage_PrependsInstructionBeforeImages(t *testing.T) {
	msg := NewVisionMessage(RoleUser, "transcribe this page", DataURI("image/png", "Zm9v"))
	parts, ok := msg.Content.([]Part)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].Type)
	assert.Equal(t, "transcribe this page", parts[0].Text)
	assert.Equal(t, "image_url", parts[1].Type)
	assert.Equal(t, "data:image/png;base64,Zm9v", parts[1].ImageURL.URL)
}

func TestContainsRefusal_DetectsKnownPhrasesCaseInsensitively(t *testing.T) {
	assert.True(t, ContainsRefusal("I'm unable to assist with that request."))
	assert.True(t, ContainsRefusal("Sorry, I CANNOT HELP with this image."))
	assert.False(t, ContainsRefusal("The invoice total is $42.00."))
}
