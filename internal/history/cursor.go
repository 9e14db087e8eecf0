package history

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
)

// ErrBadCursor is returned when a cursor token cannot be decoded or does not
// address exactly one position.
const ErrBadCursor errors.Error = "bad history cursor"

// Cursor is an opaque pagination token addressing a position in either the
// live buffer or the persisted store.  Exactly one of the fields is set.
// Cursors are monotonic toward older records and round-trip losslessly
// through their string encoding.
type Cursor struct {
	// ID is the live sequence id, or nil.
	ID *int64 `json:"id"`

	// DBID is the persisted row id, or nil.
	DBID *int64 `json:"db_id"`
}

// LiveCursor returns a cursor addressing the live record id.
func LiveCursor(id int64) (c *Cursor) {
	return &Cursor{ID: &id}
}

// DBCursor returns a cursor addressing the persisted row id.
func DBCursor(dbID int64) (c *Cursor) {
	return &Cursor{DBID: &dbID}
}

// String encodes the cursor into its opaque token form.
func (c *Cursor) String() (s string) {
	// Marshaling a struct of two scalar pointers cannot fail.
	data, _ := json.Marshal(c)

	return base64.StdEncoding.EncodeToString(data)
}

// ParseCursor decodes an opaque token back into a cursor.
func ParseCursor(s string) (c *Cursor, err error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadCursor, err)
	}

	c = &Cursor{}
	err = json.Unmarshal(data, c)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadCursor, err)
	}

	if (c.ID == nil) == (c.DBID == nil) {
		return nil, fmt.Errorf("%w: exactly one of id and db_id must be set", ErrBadCursor)
	}

	return c, nil
}
