// handlers/sync_routes.go
package handlers

import (
	"context"
	"log"

	"settlement-mirror-system/middleware"
	"settlement-mirror-system/models"
	"settlement-mirror-system/services"
	"settlement-mirror-system/workers"

	"github.com/gofiber/fiber/v2"
)

// SetupSyncRoutes wires the inbound trigger surface. These routes only
// fire syncs and report results — the mirrored data itself is served by
// the consuming application, not here.
func SetupSyncRoutes(app *fiber.App, scheduler *services.PollingScheduler, treasury *services.TreasuryService, store services.Store) {
	group := app.Group("/s", middleware.ServiceAuthMiddleware())

	group.Post("/sync/full", func(c *fiber.Ctx) error {
		result := scheduler.TriggerDirectorySync(c.UserContext(), workers.DirectoryModeFull)
		return respondSyncResult(c, result)
	})

	group.Post("/sync/incremental", func(c *fiber.Ctx) error {
		result := scheduler.TriggerDirectorySync(c.UserContext(), workers.DirectoryModeIncremental)
		return respondSyncResult(c, result)
	})

	group.Post("/sync/settlements/:id/members", func(c *fiber.Ctx) error {
		result := scheduler.TriggerMemberSync(c.UserContext(), c.Params("id"), models.TriggerManual)
		return respondSyncResult(c, result)
	})

	// Fired when a user newly selects a settlement: scoped member/citizen
	// refresh only.
	group.Post("/onboarding/:id", func(c *fiber.Ctx) error {
		result := scheduler.TriggerMemberSync(c.UserContext(), c.Params("id"), models.TriggerOnboarding)
		return respondSyncResult(c, result)
	})

	group.Post("/sync/members/bulk", func(c *fiber.Ctx) error {
		summary := scheduler.TriggerBulkMemberSync(c.UserContext())
		status := fiber.StatusOK
		if !summary.Success {
			status = fiber.StatusBadGateway
		}
		return c.Status(status).JSON(summary)
	})

	group.Post("/treasury/:id/poll", func(c *fiber.Ctx) error {
		// Transient poll failures are expected: respond with a null
		// snapshot either way, the previous data remains valid.
		snap, err := treasury.PollNow(c.UserContext(), c.Params("id"))
		if err != nil {
			log.Printf("[HTTP] ⚠️ Manual treasury poll failed for %s: %v", c.Params("id"), err)
		}
		return c.JSON(fiber.Map{
			"recorded": snap != nil,
			"snapshot": snap,
		})
	})

	group.Post("/treasury/:id/prune", func(c *fiber.Ctx) error {
		removed, err := treasury.PruneSnapshots(c.UserContext(), c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "prune failed",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"pruned": removed})
	})

	group.Post("/treasury/:id/start", func(c *fiber.Ctx) error {
		// Only mirrored settlements get a poll loop; a bad id would
		// otherwise burn rate budget on a settlement that never resolves.
		settlement, err := store.GetSettlement(c.UserContext(), c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to look up settlement",
				"cause": err.Error(),
			})
		}
		if settlement == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "settlement not mirrored",
			})
		}
		// Poll loops must outlive the request; never tie them to the
		// request context.
		treasury.StartPolling(context.Background(), settlement.RemoteID)
		return c.JSON(fiber.Map{"polling": true})
	})

	group.Post("/treasury/:id/stop", func(c *fiber.Ctx) error {
		treasury.StopPolling(c.Params("id"))
		return c.JSON(fiber.Map{"polling": false})
	})

	group.Post("/scheduler/start", func(c *fiber.Ctx) error {
		if err := scheduler.StartPolling(context.Background()); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to start polling",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"running": true})
	})

	group.Post("/scheduler/stop", func(c *fiber.Ctx) error {
		scheduler.StopPolling()
		return c.JSON(fiber.Map{"running": false})
	})

	group.Get("/sync/status", func(c *fiber.Ctx) error {
		records, err := store.RecentAuditRecords(c.UserContext(), 20)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load audit records",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"running": scheduler.IsRunning(),
			"records": records,
		})
	})
}

func respondSyncResult(c *fiber.Ctx, result services.SyncResult) error {
	status := fiber.StatusOK
	if !result.Success {
		status = fiber.StatusBadGateway
	}
	return c.Status(status).JSON(result)
}
