package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"council/internal/service"
)

func TestRespondServiceErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		err  error
		code int
	}{
		{service.ErrRoomNotFound, http.StatusNotFound},
		{service.ErrProposalNotFound, http.StatusNotFound},
		{service.ErrNotMember, http.StatusForbidden},
		{service.ErrForbidden, http.StatusForbidden},
		{service.ErrVotingClosed, http.StatusConflict},
		{service.ErrInvalidOption, http.StatusConflict},
		{&service.ValidationError{Reason: "duration must be between 1 and 168 hours"}, http.StatusBadRequest},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		respondServiceError(c, tc.err)
		if w.Code != tc.code {
			t.Fatalf("%v mapped to %d, want %d", tc.err, w.Code, tc.code)
		}
	}
}
