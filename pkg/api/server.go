package api

import (
	"github.com/buswatch/buswatch/pkg/api/routes"
	"github.com/buswatch/buswatch/pkg/tracker/locationcache"
	"github.com/gofiber/fiber/v2"
)

func SetupServer(listen string, liveCache *locationcache.Cache) error {
	routes.LiveCache = liveCache

	webApp := fiber.New()
	webApp.Use(NewLogger())

	group := webApp.Group("/core")

	group.Get("version", routes.APIVersion)

	routes.VehiclesRouter(group.Group("/vehicles"))
	routes.ServicesRouter(group.Group("/services"))
	routes.OperatorsRouter(group.Group("/operators"))
	routes.PositionsRouter(group.Group("/positions"))

	return webApp.Listen(listen)
}
