package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) error { return nil }

func TestCheckerAggregates(t *testing.T) {
	c := NewChecker("transform")
	c.Register("postgres", PingCheck(up, true))
	c.Register("redis", PingCheck(func(context.Context) error { return errors.New("refused") }, false))

	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusUp, report.Components["postgres"].Status)
	assert.Equal(t, "refused", report.Components["redis"].Message)

	c.Register("kafka", PingCheck(func(context.Context) error { return errors.New("no leader") }, true))
	assert.Equal(t, StatusDown, c.Run(context.Background()).Status)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker("transform")
	c.Register("postgres", PingCheck(up, true))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusUp, report.Status)
	assert.Equal(t, "transform", report.Service)

	c.Register("blob", PingCheck(func(context.Context) error { return errors.New("denied") }, true))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestKafkaCheckNoBrokers(t *testing.T) {
	assert.Equal(t, StatusDown, KafkaCheck(nil)(context.Background()).Status)
}

func TestBlobCheck(t *testing.T) {
	notFound := func(_ context.Context, loc string) ([]byte, error) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrBlobNotFound, loc)
	}
	assert.Equal(t, StatusUp, BlobCheck(notFound)(context.Background()).Status)

	denied := func(context.Context, string) ([]byte, error) { return nil, errors.New("403 forbidden") }
	res := BlobCheck(denied)(context.Background())
	assert.Equal(t, StatusDown, res.Status)
	assert.Equal(t, "403 forbidden", res.Message)
}

func TestLiveHandlerNamesService(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker("index").LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"service":"index","status":"alive"}`, rec.Body.String())
}
