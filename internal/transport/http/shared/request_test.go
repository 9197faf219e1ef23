package shared

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2026-03-31")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseDate("2026-03-31T23:30:00-02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = ParseDate("31/03/2026")
	assert.Error(t, err)
}

func TestParsePagination(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=900&offset=20", nil)
	assert.Equal(t, Page{Limit: 500, Offset: 20}, ParsePagination(r, 100, 500))

	r = httptest.NewRequest(http.MethodGet, "/?limit=-1&offset=x", nil)
	assert.Equal(t, Page{Limit: 100}, ParsePagination(r, 100, 500))
}

func TestValidatorRejectsWithSortedIssues(t *testing.T) {
	v := NewValidator()
	v.Required("frequency", " ", "is required")
	v.Enum("kind", "Quarterly", []string{"monthly", "annual"}, "must be monthly or annual")
	v.Enum("kind", "ANNUAL", []string{"monthly", "annual"}, "unexpected")
	v.Date("payDate", "tomorrow")
	assert.Equal(t, 2026, v.Int("year", "2026", true))
	v.Int("month", "", false)
	v.Int("month", "three", false)

	rec := httptest.NewRecorder()
	require.True(t, v.Reject(rec, "req-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Details struct {
				Fields []ValidationIssue `json:"fields"`
			} `json:"details"`
		} `json:"error"`
		RequestID string `json:"requestId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body.Error.Code)
	assert.Equal(t, "req-1", body.RequestID)
	fields := []string{}
	for _, issue := range body.Error.Details.Fields {
		fields = append(fields, issue.Field)
	}
	assert.Equal(t, []string{"frequency", "kind", "month", "payDate"}, fields)
}

func TestValidatorWithoutIssuesDoesNotWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	assert.False(t, NewValidator().Reject(rec, ""))
	assert.Equal(t, 0, rec.Body.Len())
}
