package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBearerFromRequestQueryParamTakesPriority(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/subscribe?token=qtok&job_name=issue-tracker", nil)
	r.Header.Set("Authorization", "Bearer htok")
	assert.Equal(t, "qtok", bearerFromRequest(r))
}

func TestBearerFromRequestHeaderWithPrefix(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/subscribe", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", bearerFromRequest(r))
}

func TestBearerFromRequestHeaderWithoutPrefix(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/subscribe", nil)
	r.Header.Set("Authorization", "abc123")
	assert.Equal(t, "abc123", bearerFromRequest(r))
}

func TestBearerFromRequestEmpty(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/subscribe", nil)
	assert.Equal(t, "", bearerFromRequest(r))
}
