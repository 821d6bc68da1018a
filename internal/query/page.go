package query

// Meta is the paging block returned with every paged list.
type Meta struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

// Page is one slice of a larger result.
type Page[T any] struct {
	Data []T  `json:"data"`
	Meta Meta `json:"meta"`
}

// TotalPagesFor returns ceil(total/limit), at least 1 when total > 0.
func TotalPagesFor(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// Paginate slices items locally. Page is one-based; a page past the end is
// empty but keeps the real totals.
func Paginate[T any](items []T, page, limit int) Page[T] {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = len(items)
		if limit == 0 {
			limit = 1
		}
	}
	meta := Meta{
		Total:      len(items),
		Page:       page,
		Limit:      limit,
		TotalPages: TotalPagesFor(len(items), limit),
	}

	// Checked before multiplying so a huge page cannot overflow.
	if page > meta.TotalPages {
		return Page[T]{Data: []T{}, Meta: meta}
	}
	start := (page - 1) * limit
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return Page[T]{Data: items[start:end], Meta: meta}
}
