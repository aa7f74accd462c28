// handlers/sync_routes_test.go
package handlers

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"settlement-mirror-system/models"
	"settlement-mirror-system/services"
	"settlement-mirror-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStore covers only the lookups the route tests touch; anything else
// hitting the embedded nil interface is a test bug.
type stubStore struct {
	services.Store
	settlements map[string]models.MirroredSettlement
	getErr      error
}

func (s *stubStore) GetSettlement(ctx context.Context, remoteID string) (*models.MirroredSettlement, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if row, ok := s.settlements[remoteID]; ok {
		return &row, nil
	}
	return nil, nil
}

// stubAPI keeps any background loop inert.
type stubAPI struct{}

func (stubAPI) FetchDirectory(ctx context.Context, mode workers.DirectoryMode, cap int) (*workers.DirectoryResult, error) {
	return &workers.DirectoryResult{}, nil
}

func (stubAPI) FetchRoster(ctx context.Context, settlementID string) (*workers.RosterResult, error) {
	return &workers.RosterResult{}, nil
}

func (stubAPI) FetchCitizens(ctx context.Context, settlementID string) (*workers.CitizensResult, error) {
	return &workers.CitizensResult{}, nil
}

func (stubAPI) FetchBalance(ctx context.Context, settlementID string) (*workers.BalanceResult, error) {
	return nil, errors.New("not wired in route tests")
}

func newTestApp(t *testing.T, store services.Store) (*fiber.App, *services.TreasuryService) {
	t.Setenv("SERVICE_TOKEN", "route-test-token")

	cfg := services.DefaultSyncConfig()
	cfg.TreasuryPollInterval = time.Hour

	api := stubAPI{}
	master := services.NewMasterSyncService(store, api, cfg)
	members := services.NewMemberSyncService(store, api, cfg)
	treasury := services.NewTreasuryService(store, api, cfg, nil)
	scheduler := services.NewPollingScheduler(master, members, treasury, cfg, "")

	app := fiber.New()
	SetupSyncRoutes(app, scheduler, treasury, store)
	return app, treasury
}

func TestTreasuryStartRejectsMissingToken(t *testing.T) {
	app, _ := newTestApp(t, &stubStore{})

	req := httptest.NewRequest("POST", "/s/treasury/S1/start", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestTreasuryStartUnknownSettlement(t *testing.T) {
	app, _ := newTestApp(t, &stubStore{settlements: map[string]models.MirroredSettlement{}})

	req := httptest.NewRequest("POST", "/s/treasury/nope/start", nil)
	req.Header.Set("X-Service-Token", "route-test-token")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestTreasuryStartLookupFailure(t *testing.T) {
	app, _ := newTestApp(t, &stubStore{getErr: errors.New("connection refused")})

	req := httptest.NewRequest("POST", "/s/treasury/S1/start", nil)
	req.Header.Set("X-Service-Token", "route-test-token")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestTreasuryStartMirroredSettlement(t *testing.T) {
	store := &stubStore{settlements: map[string]models.MirroredSettlement{
		"route-s1": {RemoteID: "route-s1", IsActive: true},
	}}
	app, treasury := newTestApp(t, store)
	defer treasury.StopPolling("route-s1")

	req := httptest.NewRequest("POST", "/s/treasury/route-s1/start", nil)
	req.Header.Set("X-Service-Token", "route-test-token")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
