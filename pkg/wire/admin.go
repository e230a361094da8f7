package wire

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/rqure/qcore/pkg/metrics"
)

// NewAdminApp builds the small HTTP sidecar served next to the QRESP
// listener: a health probe and the Prometheus exposition endpoint.
func NewAdminApp(serviceName string, m *metrics.StoreMetrics) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": serviceName})
	})

	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	return app
}
