// Package supabase is the analytic-store client: keyed deal upserts and
// filtered deal reads over the REST contract.
package supabase

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/synkro/synkro/internal/model"
	"github.com/synkro/synkro/internal/request"
)

// Config holds the analytic store endpoint and service credentials.
type Config struct {
	URL        string
	ServiceKey string
}

// Client talks to the analytic store through the shared request client.
type Client struct {
	baseURL string
	key     string
	rc      *request.Client
}

// NewClient validates credentials and returns a store client.
func NewClient(cfg Config, rc *request.Client) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	key := strings.TrimSpace(cfg.ServiceKey)
	if base == "" || key == "" {
		return nil, eris.New("supabase: credentials are incomplete")
	}
	return &Client{baseURL: base, key: key, rc: rc}, nil
}

func (c *Client) headers(extra map[string]string) map[string]string {
	h := map[string]string{
		"apikey":        c.key,
		"Authorization": "Bearer " + c.key,
	}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

// UpsertDeals writes unified rows keyed on (tenant_id, deal_id), so
// re-running a window overwrites rather than duplicates.
func (c *Client) UpsertDeals(ctx context.Context, rows []model.DealRow) error {
	if len(rows) == 0 {
		return nil
	}
	endpoint := c.baseURL + "/rest/v1/deals?on_conflict=tenant_id,deal_id"
	headers := c.headers(map[string]string{
		"Prefer": "resolution=merge-duplicates,return=minimal",
	})
	if err := c.rc.DoJSON(ctx, "POST", endpoint, headers, rows, nil); err != nil {
		return eris.Wrap(err, "supabase: upsert deals")
	}
	return nil
}

// DealRecord is the read-side projection used by report generation.
type DealRecord struct {
	DealID         int64      `json:"deal_id"`
	DealName       string     `json:"deal_name"`
	Status         string     `json:"status"`
	Responsible    string     `json:"responsible"`
	MessagesCount  int        `json:"messages_count"`
	FirstMessageAt *time.Time `json:"first_message_at"`
	LastMessageAt  *time.Time `json:"last_message_at"`
	UpdatedAt      *time.Time `json:"updated_at"`
	DialogNorm     string     `json:"dialog_norm"`
	Comment        string     `json:"comment"`
}

// DealQuery selects a tenant's rows within a window on a filter field.
type DealQuery struct {
	TenantSlug  string
	FilterField string // "updated_at" or "last_message_at"
	WindowStart time.Time
	WindowEnd   time.Time
	Limit       int

	// MinMessages, when positive, keeps only rows with at least that many
	// messages.
	MinMessages int
}

// SelectDeals reads unified rows back, newest first on the filter field.
func (c *Client) SelectDeals(ctx context.Context, q DealQuery) ([]DealRecord, error) {
	params := url.Values{}
	params.Set("select", "deal_id,deal_name,status,responsible,messages_count,first_message_at,last_message_at,updated_at,dialog_norm,comment")
	params.Set("tenant_id", "eq."+q.TenantSlug)
	params.Add(q.FilterField, "gte."+q.WindowStart.UTC().Format(time.RFC3339))
	params.Add(q.FilterField, "lt."+q.WindowEnd.UTC().Format(time.RFC3339))
	if q.MinMessages > 0 {
		params.Set("messages_count", "gte."+fmt.Sprint(q.MinMessages))
	}
	params.Set("order", q.FilterField+".desc")
	params.Set("limit", fmt.Sprint(q.Limit))

	endpoint := c.baseURL + "/rest/v1/deals?" + params.Encode()
	var records []DealRecord
	if err := c.rc.DoJSON(ctx, "GET", endpoint, c.headers(nil), nil, &records); err != nil {
		return nil, eris.Wrap(err, "supabase: select deals")
	}
	return records, nil
}

// ReportRow is the report artifact pushed to the analytic store.
type ReportRow struct {
	TenantID   string `json:"tenant_id"`
	ReportDate string `json:"report_date"`
	Type       string `json:"type"`
	Text       string `json:"text"`
	Comment    string `json:"comment"`
}

// InsertReport pushes a generated report row.
func (c *Client) InsertReport(ctx context.Context, row ReportRow) error {
	endpoint := c.baseURL + "/rest/v1/reports"
	headers := c.headers(map[string]string{"Prefer": "return=minimal"})
	if err := c.rc.DoJSON(ctx, "POST", endpoint, headers, []ReportRow{row}, nil); err != nil {
		return eris.Wrap(err, "supabase: insert report")
	}
	return nil
}
