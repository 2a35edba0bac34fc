package index

import (
	"context"
	"errors"
	"fmt"
)

// ErrStalledListing is returned when a truncated page does not advance the
// listing marker.
var ErrStalledListing = errors.New("index: listing did not advance")

// Each pages through indexID in pageSize chunks, following NextMarker while
// pages are truncated, and calls fn for every entry. Iteration stops early
// when fn returns false or an error.
func Each(ctx context.Context, c Client, indexID string, pageSize int, fn func(Entry) (bool, error)) error {
	marker := ""
	for {
		page, err := c.List(ctx, indexID, pageSize, marker)
		if err != nil {
			return err
		}
		for _, e := range page.Keys {
			more, err := fn(e)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		if !page.IsTruncated {
			return nil
		}

		next := page.NextMarker
		if next == "" && len(page.Keys) > 0 {
			next = page.Keys[len(page.Keys)-1].Key
		}
		if next == "" || next == marker {
			return fmt.Errorf("%w: index %s marker %q", ErrStalledListing, indexID, marker)
		}
		marker = next

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// ListAll returns every entry of indexID in listing order.
func ListAll(ctx context.Context, c Client, indexID string, pageSize int) ([]Entry, error) {
	var out []Entry
	err := Each(ctx, c, indexID, pageSize, func(e Entry) (bool, error) {
		out = append(out, e)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
