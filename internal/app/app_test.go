package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalfonso89/crypto-conversion-service/internal/resilience"
	"github.com/dalfonso89/crypto-conversion-service/internal/testutils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNewWiresComponents(t *testing.T) {
	server := testutils.NewMockBudaServer()
	defer server.Close()

	configuration := testutils.MockConfig(server.URL())
	application := New(configuration, testutils.MockLogger())
	defer application.Close()

	require.NotNil(t, application.Handlers)
	assert.Nil(t, application.RateLimiter)
	assert.IsType(t, &resilience.MemoryStore{}, application.Store)
	assert.Equal(t, resilience.StateClosed, application.Breaker.State())
}

func TestNewWithRateLimiter(t *testing.T) {
	server := testutils.NewMockBudaServer()
	defer server.Close()

	configuration := testutils.MockConfig(server.URL())
	configuration.RateLimitEnabled = true
	application := New(configuration, testutils.MockLogger())
	defer application.Close()

	assert.NotNil(t, application.RateLimiter)
}

func TestRouterServesLiveness(t *testing.T) {
	server := testutils.NewMockBudaServer()
	defer server.Close()

	application := New(testutils.MockConfig(server.URL()), testutils.MockLogger())
	defer application.Close()

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	application.Router().ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 0, server.TotalRequests())
}
