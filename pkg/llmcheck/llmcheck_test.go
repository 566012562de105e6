package llmcheck

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Raathmd/ammonia-desk/pkg/contracts"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestClient_CrossCheck_ParsesDisagreements(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 0.1, req.Temperature)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)

		content := `{"disagreements":[{"clause_id":"contract_price","field":"value","parsed_value":"450","llm_value":"455","note":"ambiguous rounding"}]}`
		resp := chatResponse{Choices: []struct {
			Message chatMessage `json:"message"`
		}{{Message: chatMessage{Role: "assistant", Content: content}}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "gpt-test", Timeout: 5 * time.Second}, testLogger())

	diffs, err := c.CrossCheck(context.Background(), "some contract text", []contracts.Clause{
		{ClauseID: "contract_price", Value: 450},
	})
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, "contract_price", diffs[0].ClauseID)
	assert.Equal(t, "455", diffs[0].LLMValue)
}

func TestClient_CrossCheck_NonOKStatusIsNonFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k", Model: "m", Timeout: 5 * time.Second}, testLogger())

	diffs, err := c.CrossCheck(context.Background(), "text", nil)
	assert.Error(t, err)
	assert.Nil(t, diffs)
}

func TestClient_CrossCheck_BoundsConcurrency(t *testing.T) {
	c := New(Config{BaseURL: "http://unused.invalid", APIKey: "k", Model: "m", Concurrency: 2, Timeout: time.Millisecond}, testLogger())
	assert.EqualValues(t, 2, c.cfg.Concurrency)
}
