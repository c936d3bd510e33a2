// Package amocrm implements the CRM connector: pipeline status lookup,
// windowed lead paging, and contact phone extraction.
package amocrm

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/synkro/synkro/internal/request"
)

const (
	leadPageSize = 250
	leadPageCap  = 50
)

// Config holds the CRM credentials.
type Config struct {
	Domain      string
	AccessToken string
}

// Client talks to the CRM REST API through the shared request client.
type Client struct {
	baseURL string
	token   string
	rc      *request.Client
}

// NewClient validates credentials and returns a connector client. Missing
// credentials fail here, before any network call.
func NewClient(cfg Config, rc *request.Client) (*Client, error) {
	domain := strings.TrimSpace(cfg.Domain)
	token := strings.TrimSpace(cfg.AccessToken)
	if domain == "" || token == "" {
		return nil, eris.New("amocrm: domain or token is not configured")
	}
	base := domain
	if !strings.HasPrefix(base, "http") {
		base = "https://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		token:   token,
		rc:      rc,
	}, nil
}

func (c *Client) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.token}
}

// CustomField is a CRM custom field with its values.
type CustomField struct {
	FieldCode string `json:"field_code"`
	FieldName string `json:"field_name"`
	Values    []struct {
		Value any `json:"value"`
	} `json:"values"`
}

// Lead is a CRM deal as returned by the lead listing.
type Lead struct {
	ID                int64         `json:"id"`
	Name              string        `json:"name"`
	StatusID          int64         `json:"status_id"`
	PipelineID        int64         `json:"pipeline_id"`
	ResponsibleUserID int64         `json:"responsible_user_id"`
	LossReasonID      *int64        `json:"loss_reason_id"`
	UpdatedAt         int64         `json:"updated_at"`
	CustomFields      []CustomField `json:"custom_fields_values"`
	Embedded          struct {
		Contacts []struct {
			ID int64 `json:"id"`
		} `json:"contacts"`
	} `json:"_embedded"`
}

type pipelinesPayload struct {
	Embedded struct {
		Pipelines []struct {
			Embedded struct {
				Statuses []struct {
					ID   int64  `json:"id"`
					Name string `json:"name"`
				} `json:"statuses"`
			} `json:"_embedded"`
		} `json:"pipelines"`
	} `json:"_embedded"`
}

type leadsPage struct {
	Embedded struct {
		Leads []Lead `json:"leads"`
	} `json:"_embedded"`
	Links struct {
		Next struct {
			Href string `json:"href"`
		} `json:"next"`
	} `json:"_links"`
}

type contactPayload struct {
	CustomFields []CustomField `json:"custom_fields_values"`
}

// StatusMap fetches the pipeline -> status-name lookup once per sync.
func (c *Client) StatusMap(ctx context.Context) (map[int64]string, error) {
	var payload pipelinesPayload
	if err := c.rc.DoJSON(ctx, "GET", c.baseURL+"/api/v4/leads/pipelines", c.headers(), nil, &payload); err != nil {
		return nil, eris.Wrap(err, "amocrm: fetch pipelines")
	}
	statuses := make(map[int64]string)
	for _, pipeline := range payload.Embedded.Pipelines {
		for _, status := range pipeline.Embedded.Statuses {
			if status.ID > 0 {
				statuses[status.ID] = strings.TrimSpace(status.Name)
			}
		}
	}
	return statuses, nil
}

// FetchLeads pages through deals updated in the window until maxLeads is
// reached or the hard page ceiling is hit. A non-retriable failure on any
// page aborts the whole fetch.
func (c *Client) FetchLeads(ctx context.Context, windowStart, windowEnd time.Time, maxLeads int) ([]Lead, error) {
	params := url.Values{
		"with":                     {"contacts"},
		"limit":                    {fmt.Sprint(leadPageSize)},
		"page":                     {"1"},
		"filter[updated_at][from]": {fmt.Sprint(windowStart.UTC().Unix())},
		"filter[updated_at][to]":   {fmt.Sprint(windowEnd.UTC().Unix())},
	}
	next := c.baseURL + "/api/v4/leads?" + params.Encode()

	var leads []Lead
	for page := 0; next != "" && len(leads) < maxLeads && page < leadPageCap; page++ {
		var payload leadsPage
		if err := c.rc.DoJSON(ctx, "GET", next, c.headers(), nil, &payload); err != nil {
			return nil, eris.Wrap(err, "amocrm: fetch leads page")
		}
		batch := payload.Embedded.Leads
		if remaining := maxLeads - len(leads); len(batch) > remaining {
			batch = batch[:remaining]
		}
		leads = append(leads, batch...)
		next = payload.Links.Next.Href
	}
	return leads, nil
}

// FetchContactPhones fetches each referenced contact (capped) and extracts
// normalized phone numbers from its custom fields.
func (c *Client) FetchContactPhones(ctx context.Context, contactIDs []int64, maxContacts int) (map[int64][]string, error) {
	if len(contactIDs) > maxContacts {
		contactIDs = contactIDs[:maxContacts]
	}
	phones := make(map[int64][]string, len(contactIDs))
	for _, id := range contactIDs {
		var payload contactPayload
		endpoint := fmt.Sprintf("%s/api/v4/contacts/%d", c.baseURL, id)
		if err := c.rc.DoJSON(ctx, "GET", endpoint, c.headers(), nil, &payload); err != nil {
			return nil, eris.Wrapf(err, "amocrm: fetch contact %d", id)
		}
		phones[id] = normalizePhones(extractPhones(payload.CustomFields))
	}
	return phones, nil
}
