package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/auth"
)

// rpaClient triggers the external RPA bot that rebuilds the SharePoint lists
// from the IPS and MTESS portals. The run itself is asynchronous; the webhook
// only acknowledges the request.
type rpaClient struct {
	http *resty.Client
	url  string
}

func newRPAClient(webhookURL, token string) *rpaClient {
	c := resty.New().
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &rpaClient{http: c, url: webhookURL}
}

func (c *rpaClient) trigger(ctx context.Context, requestedBy string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"requested_by": requestedBy,
			"requested_at": time.Now().UTC().Format(time.RFC3339),
		}).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("httpapi: rpa webhook: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("httpapi: rpa webhook: status %d", resp.StatusCode())
	}
	return nil
}

// handleRPARun asks the RPA bot for a fresh scrape of both portals.
func (s *Server) handleRPARun(w http.ResponseWriter, r *http.Request) {
	c := auth.FromContext(r.Context())
	if err := s.rpa.trigger(r.Context(), c.Email); err != nil {
		s.logger.Error("rpa trigger failed", "error", err, "requested_by", c.Email)
		writeError(w, 502, err)
		return
	}
	s.logger.Info("rpa run requested", "requested_by", c.Email)
	writeJSON(w, 202, map[string]string{"status": "requested"})
}
