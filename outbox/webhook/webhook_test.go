package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacaotrail/cacaotrail"
)

var _ cacaotrail.Publisher = (*Publisher)(nil)

func message(dest string) *cacaotrail.RelayMessage {
	return &cacaotrail.RelayMessage{
		ID:             "rec-1",
		SubjectID:      "CacaoBatch-b1",
		Kind:           "BatchHarvested",
		Payload:        []byte(`{"batchId":"b1","quantity":120}`),
		Seq:            1,
		Hash:           "cafe01",
		GlobalPosition: 7,
		Destination:    dest,
	}
}

func TestPublisher_Destination(t *testing.T) {
	assert.Equal(t, "webhook", New().Destination())
}

func TestExtractURL(t *testing.T) {
	assert.Equal(t, "https://example.com/events", extractURL("webhook:https://example.com/events"))
	assert.Equal(t, "", extractURL("kafka:topic"))
	assert.Equal(t, "", extractURL("webhook"))
}

func TestPublisher_Publish(t *testing.T) {
	t.Run("delivers payload and provenance headers", func(t *testing.T) {
		var got struct {
			body    map[string]interface{}
			headers http.Header
		}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got.headers = r.Header.Clone()
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got.body))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		p := New()
		err := p.Publish(context.Background(), []*cacaotrail.RelayMessage{message("webhook:" + server.URL)})
		require.NoError(t, err)

		assert.Equal(t, "b1", got.body["batchId"])
		assert.Equal(t, "CacaoBatch-b1", got.headers.Get("X-Cacaotrail-Subject"))
		assert.Equal(t, "BatchHarvested", got.headers.Get("X-Cacaotrail-Kind"))
		assert.Equal(t, "1", got.headers.Get("X-Cacaotrail-Seq"))
		assert.Equal(t, "cafe01", got.headers.Get("X-Cacaotrail-Hash"))
		assert.Equal(t, "application/json", got.headers.Get("Content-Type"))
	})

	t.Run("default headers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusAccepted)
		}))
		defer server.Close()

		p := New(WithDefaultHeaders(map[string]string{"Authorization": "Bearer token-1"}))
		err := p.Publish(context.Background(), []*cacaotrail.RelayMessage{message("webhook:" + server.URL)})
		require.NoError(t, err)
	})

	t.Run("server error fails the batch", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		p := New()
		err := p.Publish(context.Background(), []*cacaotrail.RelayMessage{
			message("webhook:" + server.URL),
			message("webhook:" + server.URL),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server error 500")
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("client error fails the batch", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		err := New().Publish(context.Background(), []*cacaotrail.RelayMessage{message("webhook:" + server.URL)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "client error 403")
	})

	t.Run("missing URL", func(t *testing.T) {
		err := New().Publish(context.Background(), []*cacaotrail.RelayMessage{message("webhook:")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing URL")
	})
}
