package shared

// ListWindow bounds a skip/limit style listing request.
type ListWindow struct {
	Skip  int
	Limit int
}

// DefaultLimit caps listings that do not specify their own limit.
const DefaultLimit = 100

// MaxLimit is the hard ceiling for a single page.
const MaxLimit = 1000

// NewListWindow clamps skip/limit into a usable window.
func NewListWindow(skip, limit int) ListWindow {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return ListWindow{Skip: skip, Limit: limit}
}
