package history

import (
	"github.com/adhole/ftlbridge/internal/ftlmem"
)

// Params are the search parameters of one history request.  Zero values
// mean "no constraint"; optional enum filters are pointers so that the zero
// enum value remains expressible.
type Params struct {
	// Cursor resumes a previous search.  It must have been produced by a
	// search with identical filters.
	Cursor *Cursor

	// Domain, Client and Upstream are substring filters.  Client matches
	// both the client IP and its resolved name; Upstream likewise.
	Domain   string
	Client   string
	Upstream string

	// From and Until bound the timestamp range, in unix seconds.  Zero
	// means unbounded.
	From  int64
	Until int64

	QueryType *ftlmem.QueryType
	Status    *ftlmem.QueryStatus
	Blocked   *bool
	Dnssec    *ftlmem.DnssecType
	Reply     *ftlmem.ReplyType

	// Limit is the maximum number of records per page.  Zero means
	// [DefaultLimit].
	Limit int
}

// limit returns the effective page size.
func (p *Params) limit() (n int) {
	if p.Limit <= 0 {
		return DefaultLimit
	}

	return p.Limit
}
