package product

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	pkgerrors "github.com/pkg/errors"

	model "github.com/zhouzirui/shopmate/backend/internal/model/product"
)

const maxProductBody = 4 << 20

// ErrProductNotFound marks a referenced product that no longer exists.
var ErrProductNotFound = errors.New("product not found")

// Fetcher loads a single catalog record.
type Fetcher interface {
	GetProduct(ctx context.Context, id string) (model.Summary, error)
}

// Catalog fetches products from the storefront API.
type Catalog struct {
	http    *http.Client
	baseURL string
	token   string
}

// NewCatalog returns a Catalog rooted at baseURL (e.g. http://localhost:5000/api).
func NewCatalog(baseURL, token string, httpClient *http.Client) (*Catalog, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("storefront API base URL is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Catalog{http: httpClient, baseURL: base, token: strings.TrimSpace(token)}, nil
}

// GetProduct fetches GET /products/:id. A 404 yields ErrProductNotFound.
func (c *Catalog) GetProduct(ctx context.Context, id string) (model.Summary, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Summary{}, ErrProductNotFound
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/products/"+url.PathEscape(id), nil)
	if err != nil {
		return model.Summary{}, pkgerrors.Wrap(err, "build product request")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return model.Summary{}, pkgerrors.Wrapf(err, "fetch product %s", id)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return model.Summary{}, fmt.Errorf("product %s: %w", id, ErrProductNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.Summary{}, fmt.Errorf("fetch product %s: unexpected status %s", id, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProductBody+1))
	if err != nil {
		return model.Summary{}, pkgerrors.Wrapf(err, "read product %s", id)
	}
	if len(data) > maxProductBody {
		return model.Summary{}, fmt.Errorf("product %s: response exceeds %d bytes", id, maxProductBody)
	}

	summary, err := model.Decode(data)
	if err != nil {
		if errors.Is(err, model.ErrMissingRecord) {
			return model.Summary{}, fmt.Errorf("product %s: %w", id, ErrProductNotFound)
		}
		return model.Summary{}, pkgerrors.Wrapf(err, "product %s", id)
	}
	return summary, nil
}
