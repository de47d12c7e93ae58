package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/chat-relay/internal/apperror"
)

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantType    string
		wantMessage string
	}{
		{
			name:        "validation",
			err:         apperror.ValidationFailed("peer", "peer identity is required"),
			wantStatus:  http.StatusBadRequest,
			wantType:    "validation_error",
			wantMessage: "peer identity is required",
		},
		{
			name:        "not found through a wrap",
			err:         fmt.Errorf("loading: %w", apperror.NotFound("user", "bob@example.com")),
			wantStatus:  http.StatusNotFound,
			wantType:    "not_found",
			wantMessage: "user not found with id bob@example.com",
		},
		{
			name:        "persistence hides its cause",
			err:         apperror.Persistence("listing users", errors.New("disk I/O error at /var/lib/relay.db")),
			wantStatus:  http.StatusInternalServerError,
			wantType:    "internal_error",
			wantMessage: "An internal error occurred",
		},
		{
			name:        "plain error",
			err:         errors.New("boom"),
			wantStatus:  http.StatusInternalServerError,
			wantType:    "internal_error",
			wantMessage: "An internal error occurred",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeError(rr, tt.err)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var res ErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
			assert.Equal(t, tt.wantType, res.Error)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, res.Message)
			}
		})
	}
}

func TestWriteJSON_NilBody(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusNoContent, nil)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.String())
}
