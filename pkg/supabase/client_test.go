package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synkro/synkro/internal/model"
	"github.com/synkro/synkro/internal/request"
)

func TestNewClient_RequiresCredentials(t *testing.T) {
	rc := request.New()

	_, err := NewClient(Config{URL: "", ServiceKey: "k"}, rc)
	assert.Error(t, err)

	_, err = NewClient(Config{URL: "https://x.supabase.co", ServiceKey: " "}, rc)
	assert.Error(t, err)

	client, err := NewClient(Config{URL: "https://x.supabase.co/", ServiceKey: "k"}, rc)
	require.NoError(t, err)
	assert.Equal(t, "https://x.supabase.co", client.baseURL)
}

func TestUpsertDeals(t *testing.T) {
	var gotRows []model.DealRow
	var gotPrefer, gotConflict, gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/deals", r.URL.Path)
		gotConflict = r.URL.Query().Get("on_conflict")
		gotPrefer = r.Header.Get("Prefer")
		gotAPIKey = r.Header.Get("apikey")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRows))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client, err := NewClient(Config{URL: srv.URL, ServiceKey: "svc"}, request.New())
	require.NoError(t, err)

	err = client.UpsertDeals(context.Background(), []model.DealRow{
		{TenantID: "acme", DealID: 100, DealName: "Big sale", MessagesCount: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "tenant_id,deal_id", gotConflict)
	assert.Equal(t, "resolution=merge-duplicates,return=minimal", gotPrefer)
	assert.Equal(t, "svc", gotAPIKey)
	require.Len(t, gotRows, 1)
	assert.Equal(t, "acme", gotRows[0].TenantID)
}

func TestUpsertDeals_NoRowsIsNoOp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty batch")
	}))
	defer srv.Close()

	client, err := NewClient(Config{URL: srv.URL, ServiceKey: "svc"}, request.New())
	require.NoError(t, err)
	assert.NoError(t, client.UpsertDeals(context.Background(), nil))
}

func TestSelectDeals_QueryShape(t *testing.T) {
	windowEnd := time.Date(2024, 5, 2, 19, 1, 0, 0, time.UTC)
	windowStart := windowEnd.Add(-24 * time.Hour)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "eq.acme", q.Get("tenant_id"))
		assert.Equal(t, []string{"gte.2024-05-01T19:01:00Z", "lt.2024-05-02T19:01:00Z"}, q["last_message_at"])
		assert.Equal(t, "gte.1", q.Get("messages_count"))
		assert.Equal(t, "last_message_at.desc", q.Get("order"))
		assert.Equal(t, "200", q.Get("limit"))
		fmt.Fprint(w, `[{"deal_id":100,"deal_name":"Big sale","status":"Won","messages_count":3}]`)
	}))
	defer srv.Close()

	client, err := NewClient(Config{URL: srv.URL, ServiceKey: "svc"}, request.New())
	require.NoError(t, err)

	records, err := client.SelectDeals(context.Background(), DealQuery{
		TenantSlug:  "acme",
		FilterField: "last_message_at",
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Limit:       200,
		MinMessages: 1,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(100), records[0].DealID)
	assert.Equal(t, "Won", records[0].Status)
}

func TestInsertReport(t *testing.T) {
	var gotRows []ReportRow
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/reports", r.URL.Path)
		assert.Equal(t, "return=minimal", r.Header.Get("Prefer"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRows))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client, err := NewClient(Config{URL: srv.URL, ServiceKey: "svc"}, request.New())
	require.NoError(t, err)

	err = client.InsertReport(context.Background(), ReportRow{
		TenantID: "acme", ReportDate: "2024-05-02", Type: "daily", Text: "all good",
	})
	require.NoError(t, err)
	require.Len(t, gotRows, 1)
	assert.Equal(t, "daily", gotRows[0].Type)
}
