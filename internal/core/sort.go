package core

import (
	"sort"
	"strings"
)

// Order sorts candidate member ids with the requested comparator. Ties are
// broken by product id ascending so every key yields a total order and
// repeated runs never disagree.
//
// SortManual keeps the incoming order (the resolver already preserved the
// stored list); ids without a product in the snapshot sort last, which only
// matters for callers that skipped Resolve.
func Order(ids []string, snap *Snapshot, key SortKey) []string {
	ordered := make([]string, len(ids))
	copy(ordered, ids)

	if key == SortManual {
		return ordered
	}

	less := comparator(key)
	sort.Slice(ordered, func(i, j int) bool {
		a, aok := snap.Lookup(ordered[i])
		b, bok := snap.Lookup(ordered[j])
		if !aok || !bok {
			if aok != bok {
				return aok
			}
			return ordered[i] < ordered[j]
		}
		switch less(a, b) {
		case -1:
			return true
		case 1:
			return false
		default:
			return a.ID < b.ID
		}
	})

	return ordered
}

// comparator returns a three-way compare for the sort key. Unknown keys fall
// back to created-desc, the storefront's newest-first default.
func comparator(key SortKey) func(a, b Product) int {
	switch key {
	case SortBestSelling:
		return func(a, b Product) int { return intCompare(b.SalesCount, a.SalesCount) }
	case SortTitleAsc:
		return func(a, b Product) int { return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)) }
	case SortTitleDesc:
		return func(a, b Product) int { return strings.Compare(strings.ToLower(b.Name), strings.ToLower(a.Name)) }
	case SortPriceAsc:
		return func(a, b Product) int { return a.Price.Cmp(b.Price) }
	case SortPriceDesc:
		return func(a, b Product) int { return b.Price.Cmp(a.Price) }
	case SortCreatedAsc:
		return func(a, b Product) int { return a.CreatedAt.Compare(b.CreatedAt) }
	default:
		return func(a, b Product) int { return b.CreatedAt.Compare(a.CreatedAt) }
	}
}

func intCompare(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Paginate slices an ordered member sequence into one page. Page numbers
// below 1 are treated as 1 and a non-positive page size as 1; clamping the
// size to the configured maximum is the caller's concern. Pages past the end
// yield an empty slice with the correct totals, never an error.
func Paginate(ordered []string, page, pageSize int) Page {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}

	total := len(ordered)
	totalPages := (total + pageSize - 1) / pageSize

	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	ids := make([]string, end-start)
	copy(ids, ordered[start:end])

	return Page{
		ProductIDs: ids,
		Page:       page,
		TotalPages: totalPages,
		Total:      total,
		PageSize:   pageSize,
	}
}
