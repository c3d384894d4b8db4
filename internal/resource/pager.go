package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/exact-go/internal/odata"
)

// ErrPageLoop is returned when the server repeats a __next link.
var ErrPageLoop = errors.New("resource: pagination loop detected")

// FindAllPages walks the collection page by page, following __next links
// until the server stops sending one. Filters in opts are applied. fn is
// called once per page; a non-nil return stops paging and is returned.
func (r *Resource) FindAllPages(ctx context.Context, opts FindOptions, fn func(*odata.ResultSet) error) error {
	uri := r.URI(opts, odata.SegmentOrder, odata.SegmentSelect, odata.SegmentFilters)
	seen := make(map[string]bool)

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := r.Get(ctx, uri)
		if err != nil {
			return err
		}

		rs := resp.Results()

		r.logger.Debug("fetched page",
			slog.String("resource", r.def.Name),
			slog.Int("page", page),
			slog.Int("records", rs.Len()),
		)

		if err := fn(rs); err != nil {
			return err
		}

		if !rs.HasNextPage() {
			return nil
		}

		if seen[rs.NextPageURL] {
			return fmt.Errorf("%w: %s", ErrPageLoop, rs.NextPageURL)
		}

		seen[rs.NextPageURL] = true
		uri = rs.NextPageURL
	}
}
