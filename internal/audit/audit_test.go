package audit

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestWriter_WritesEntriesOnClose(t *testing.T) {
	db := &mockDB{}
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	w := NewWriter(db, zerolog.Nop())
	actor := "ana"
	jobID := int64(7)
	w.Record(Entry{Actor: &actor, Action: ActionStart, JobID: &jobID, Method: "POST", Path: "/api/v1/maintenance/jobs/7/start", StatusCode: 202})
	w.Record(Entry{Action: ActionSessionExpired})
	w.Close()
	w.Close()

	db.AssertNumberOfCalls(t, "Exec", 2)
	args := db.Calls[0].Arguments.Get(2).([]any)
	assert.Equal(t, &actor, args[0])
	assert.Equal(t, ActionStart, args[1])
	assert.Equal(t, &jobID, args[2])
	assert.Equal(t, 202, args[5])

	// Entries after Close are ignored.
	w.Record(Entry{Action: ActionReport})
	db.AssertNumberOfCalls(t, "Exec", 2)
}

func TestWriter_ContinuesAfterWriteError(t *testing.T) {
	db := &mockDB{}
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, errors.New("connection reset")).Once()
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	w := NewWriter(db, zerolog.Nop())
	w.Record(Entry{Action: ActionSchedule})
	w.Record(Entry{Action: ActionSchedule})
	w.Close()

	db.AssertNumberOfCalls(t, "Exec", 2)
}

func TestList(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	row := func(id int64, action string) func(dest ...any) error {
		return func(dest ...any) error {
			*dest[0].(*int64) = id
			*dest[2].(*string) = action
			*dest[6].(*int) = 200
			*dest[7].(*json.RawMessage) = json.RawMessage(`{"status":"fallido"}`)
			*dest[8].(*time.Time) = now
			return nil
		}
	}

	db := &mockDB{}
	db.On("Query", mock.Anything, mock.Anything, []any{ActionSetStatus, int64(4), int64(90), 3}).
		Return(newMockRows(row(89, ActionSetStatus), row(88, ActionSetStatus), row(87, ActionSetStatus)), nil)

	entries, hasMore, err := List(t.Context(), db, ListParams{Limit: 2, Cursor: 90, Action: ActionSetStatus, JobID: 4})
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(89), entries[0].ID)
	assert.Equal(t, now, entries[0].CreatedAt)
	assert.JSONEq(t, `{"status":"fallido"}`, string(entries[1].Detail))

	sql := db.Calls[0].Arguments.String(1)
	assert.Contains(t, sql, "action = $1")
	assert.Contains(t, sql, "job_id = $2")
	assert.Contains(t, sql, "id < $3")
	assert.Contains(t, sql, "LIMIT $4")
}

func TestList_QueryError(t *testing.T) {
	db := &mockDB{}
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	_, _, err := List(t.Context(), db, ListParams{Limit: 10})
	assert.ErrorContains(t, err, "db down")
}

func TestSanitize(t *testing.T) {
	out := Sanitize([]byte(`{"username":"ana","password":"hunter2","token":"abc"}`))

	var result map[string]any
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "ana", result["username"])
	assert.Equal(t, "[REDACTED]", result["password"])
	assert.Equal(t, "[REDACTED]", result["token"])

	nested := Sanitize([]byte(`{"auth":{"Password":"x"},"items":[{"token":"y"}]}`))
	assert.JSONEq(t, `{"auth":{"Password":"[REDACTED]"},"items":[{"token":"[REDACTED]"}]}`, string(nested))

	assert.Nil(t, Sanitize([]byte("username=ana&password=hunter2")))
	assert.Nil(t, Sanitize([]byte(`["password"]`)))
	assert.Nil(t, Sanitize([]byte("null")))
}
