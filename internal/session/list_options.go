package session

// SortOrder defines how results are ordered when listing sessions.
type SortOrder int

const (
	// SortByCreatedDesc orders sessions by creation time, newest first.
	SortByCreatedDesc SortOrder = iota
	// SortByCreatedAsc orders sessions by creation time, oldest first.
	SortByCreatedAsc
)

// ListOptions controls pagination and filtering when querying the store.
type ListOptions struct {
	Limit      int
	Page       int
	ActiveOnly bool
	Order      SortOrder
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Order != SortByCreatedAsc {
		opts.Order = SortByCreatedDesc
	}
}

// Offset returns the number of records to skip for the requested page.
func (opts ListOptions) Offset() int {
	return (opts.Page - 1) * opts.Limit
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit caps the number of sessions returned per page.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithPage selects the 1-based result page.
func WithPage(page int) ListOption {
	return func(opts *ListOptions) {
		opts.Page = page
	}
}

// WithActiveOnly drops expired sessions from the listing.
func WithActiveOnly() ListOption {
	return func(opts *ListOptions) {
		opts.ActiveOnly = true
	}
}

// WithSortOrder changes the returned order of sessions.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

// buildListOptions applies option functions on top of defaults.
func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}
