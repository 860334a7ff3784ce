package test

import (
	"Beacon/pkg/log"
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// Format of Request helper ExecuteAPITest() handles
type RequestAPITest struct {
	Method       string            // Method of API request - [GET, POST, PUT, DELETE . . .]
	Path         string            // API Path
	Body         *bytes.Reader     // Request Body
	WantResponse []int             // Expected Response according to request
	WantBody     string            // Expected Response body, skipped when empty
	Headers      map[string]string // Request headers
	Cookies      []*http.Cookie    // Request cookies
}

// Helper to execute API tests in Beacon.
func ExecuteAPITest(logger log.Logger, t *testing.T, router *gin.Engine, request RequestAPITest) {
	// Setup the test request
	var req *http.Request
	var reqerr error
	if request.Body != nil {
		req, reqerr = http.NewRequest(request.Method, request.Path, request.Body)
	} else {
		req, reqerr = http.NewRequest(request.Method, request.Path, nil)
	}
	if reqerr != nil {
		// Error in NewRequest
		logger.Error().Err(reqerr).Msg("Error occured during calling NewRequest in ExecuteAPITest()")
	}
	for key, val := range request.Headers {
		req.Header.Set(key, val)
	}
	for _, cookie := range request.Cookies {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	// Assert the response
	assert.Contains(t, request.WantResponse, w.Code)
	if request.WantBody != "" {
		assert.Equal(t, request.WantBody, w.Body.String())
	}
}
