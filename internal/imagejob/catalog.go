package imagejob

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/ashureev/roa-designer/internal/domain"
	"golang.org/x/sync/errgroup"
)

// catalogFetchConcurrency bounds parallel template detail requests.
const catalogFetchConcurrency = 4

type templateSummary struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
}

type templateDetail struct {
	UID                    string `json:"uid"`
	Name                   string `json:"name"`
	AvailableModifications []struct {
		Name string `json:"name"`
	} `json:"available_modifications"`
}

// Catalog loads the list of templates and their layer names.
type Catalog struct {
	client *Client
	logger *slog.Logger
}

// NewCatalog creates a catalog loader that shares the client's transport.
func NewCatalog(client *Client, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{client: client, logger: logger}
}

// Load fetches every template with its layers. Detail requests run
// concurrently; the first failure cancels the rest. Order follows the
// summary listing.
func (c *Catalog) Load(ctx context.Context) ([]domain.Template, error) {
	var summaries []templateSummary
	if err := c.client.do(ctx, http.MethodGet, c.client.baseURL+"/templates", nil, &summaries); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	templates := make([]domain.Template, len(summaries))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(catalogFetchConcurrency)

	for i, summary := range summaries {
		if summary.UID == "" {
			continue
		}
		eg.Go(func() error {
			var detail templateDetail
			endpoint := c.client.baseURL + "/templates/" + url.PathEscape(summary.UID)
			if err := c.client.do(egCtx, http.MethodGet, endpoint, nil, &detail); err != nil {
				return fmt.Errorf("template %s details: %w", summary.UID, err)
			}

			tpl := domain.Template{ID: detail.UID, Name: detail.Name}
			if tpl.ID == "" {
				tpl.ID = summary.UID
			}
			if tpl.Name == "" {
				tpl.Name = summary.Name
			}
			for _, m := range detail.AvailableModifications {
				if m.Name != "" {
					tpl.Layers = append(tpl.Layers, m.Name)
				}
			}
			templates[i] = tpl
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := templates[:0]
	for _, tpl := range templates {
		if tpl.ID != "" {
			out = append(out, tpl)
		}
	}
	c.logger.Info("Template catalog loaded", "count", len(out))
	return out, nil
}
