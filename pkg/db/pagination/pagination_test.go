package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "42", CreatedAt: "2025-05-01T00:00:00Z"})
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	cursor, err := DecodeCursor(token)
	assert.NoError(t, err)
	assert.Equal(t, "42", cursor.ID)
	assert.Equal(t, "2025-05-01T00:00:00Z", cursor.CreatedAt)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("not base64!!")
	assert.Error(t, err)
}

func TestBuildCursorPageInfo(t *testing.T) {
	type row struct{ ID string }
	extract := func(r *row) string { return r.ID }

	info := BuildCursorPageInfo([]*row{}, 2, extract)
	assert.False(t, info.HasMore)

	// Fetching limit+1 rows signals another page; the cursor points at the
	// last row of the returned page, not the lookahead row.
	rows := []*row{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	info = BuildCursorPageInfo(rows, 2, extract)
	assert.True(t, info.HasMore)
	assert.Equal(t, "b", info.NextPageToken)

	info = BuildCursorPageInfo(rows[:2], 2, extract)
	assert.False(t, info.HasMore)
	assert.Equal(t, "b", info.NextPageToken)
}
