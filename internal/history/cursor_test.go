package history_test

import (
	"testing"

	"github.com/adhole/ftlbridge/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_roundTrip(t *testing.T) {
	testCases := []struct {
		cursor *history.Cursor
		name   string
	}{{
		cursor: history.LiveCursor(7),
		name:   "live",
	}, {
		cursor: history.DBCursor(95),
		name:   "db",
	}, {
		cursor: history.LiveCursor(0),
		name:   "live_zero",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := history.ParseCursor(tc.cursor.String())
			require.NoError(t, err)

			assert.Equal(t, tc.cursor, parsed)
		})
	}
}

func TestParseCursor_errors(t *testing.T) {
	testCases := []struct {
		name  string
		token string
	}{{
		name:  "not_base64",
		token: "%%%",
	}, {
		name:  "not_json",
		token: "bm90IGpzb24=",
	}, {
		name:  "both_unset",
		token: "eyJpZCI6bnVsbCwiZGJfaWQiOm51bGx9",
	}, {
		name:  "both_set",
		token: "eyJpZCI6MSwiZGJfaWQiOjJ9",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := history.ParseCursor(tc.token)
			assert.ErrorIs(t, err, history.ErrBadCursor)
		})
	}
}
