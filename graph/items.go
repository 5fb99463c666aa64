package graph

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/dataset"
)

// item is the wire shape of one list item with expanded fields.
type item struct {
	ID             string `json:"id"`
	LastModified   string `json:"lastModifiedDateTime"`
	LastModifiedBy struct {
		User struct {
			DisplayName string `json:"displayName"`
		} `json:"user"`
	} `json:"lastModifiedBy"`
	Fields map[string]any `json:"fields"`
}

type itemsPage struct {
	Value    []item `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// FetchRows pages through all items of the dataset's list and maps them into
// canonical rows. Pagination follows @odata.nextLink until exhausted.
func (c *Client) FetchRows(ctx context.Context, id dataset.ID) ([]dataset.Row, error) {
	m, ok := c.reg[id]
	if !ok {
		return nil, fmt.Errorf("graph: no mapping for dataset %s", id)
	}

	siteID, listID, err := c.listID(ctx, string(id))
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("/sites/%s/lists/%s/items?expand=fields&$top=%d", siteID, listID, c.cfg.PageSize)

	var rows []dataset.Row
	for url != "" {
		var page itemsPage
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&page).
			Get(url)
		if err != nil {
			return nil, fmt.Errorf("graph: fetch items %s: %w", id, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("graph: fetch items %s: %s: %s", id, resp.Status(), resp.String())
		}

		for _, it := range page.Value {
			rows = append(rows, m.MapRow(remoteItem(it)))
		}
		url = page.NextLink
	}

	c.logger.Debug("graph: fetched items", "dataset", id, "rows", len(rows))
	return rows, nil
}

// remoteItem converts the wire item to the mapping input. Unparseable
// modification timestamps map to the zero time rather than failing the row.
func remoteItem(it item) dataset.RemoteItem {
	mod, _ := time.Parse(time.RFC3339, it.LastModified)
	return dataset.RemoteItem{
		ID:         it.ID,
		Modified:   mod,
		ModifiedBy: it.LastModifiedBy.User.DisplayName,
		Fields:     it.Fields,
	}
}

// PatchItemField issues a single-field partial update against one row of the
// dataset's list. Success is a 200 from the fields endpoint.
func (c *Client) PatchItemField(ctx context.Context, id dataset.ID, itemID, field string, value any) error {
	siteID, listID, err := c.listID(ctx, string(id))
	if err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{field: value}).
		Patch(fmt.Sprintf("/sites/%s/lists/%s/items/%s/fields", siteID, listID, itemID))
	if err != nil {
		return fmt.Errorf("graph: patch item %s/%s: %w", id, itemID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("graph: patch item %s/%s: %s: %s", id, itemID, resp.Status(), resp.String())
	}
	return nil
}

// ListItem is one raw item from a non-dataset list (the whitelist).
type ListItem struct {
	ID     string
	Fields map[string]any
}

// ListItems pages through all items of a logical list.
func (c *Client) ListItems(ctx context.Context, key string) ([]ListItem, error) {
	siteID, listID, err := c.listID(ctx, key)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("/sites/%s/lists/%s/items?expand=fields", siteID, listID)

	var items []ListItem
	for url != "" {
		var page itemsPage
		resp, err := c.http.R().
			SetContext(ctx).
			SetResult(&page).
			Get(url)
		if err != nil {
			return nil, fmt.Errorf("graph: list items %s: %w", key, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("graph: list items %s: %s: %s", key, resp.Status(), resp.String())
		}
		for _, it := range page.Value {
			items = append(items, ListItem{ID: it.ID, Fields: it.Fields})
		}
		url = page.NextLink
	}
	return items, nil
}

// CreateItem adds an item with the given fields to a logical list.
func (c *Client) CreateItem(ctx context.Context, key string, fields map[string]any) error {
	siteID, listID, err := c.listID(ctx, key)
	if err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"fields": fields}).
		Post(fmt.Sprintf("/sites/%s/lists/%s/items", siteID, listID))
	if err != nil {
		return fmt.Errorf("graph: create item in %s: %w", key, err)
	}
	if resp.StatusCode() != http.StatusCreated {
		return fmt.Errorf("graph: create item in %s: %s: %s", key, resp.Status(), resp.String())
	}
	return nil
}

// DeleteItem removes an item from a logical list by id.
func (c *Client) DeleteItem(ctx context.Context, key, itemID string) error {
	siteID, listID, err := c.listID(ctx, key)
	if err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/sites/%s/lists/%s/items/%s", siteID, listID, itemID))
	if err != nil {
		return fmt.Errorf("graph: delete item %s/%s: %w", key, itemID, err)
	}
	if resp.StatusCode() != http.StatusNoContent {
		return fmt.Errorf("graph: delete item %s/%s: %s: %s", key, itemID, resp.Status(), resp.String())
	}
	return nil
}
