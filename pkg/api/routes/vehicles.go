package routes

import (
	"context"

	"github.com/buswatch/buswatch/pkg/database"
	"github.com/buswatch/buswatch/pkg/model"
	"github.com/buswatch/buswatch/pkg/tracker/locationcache"
	"github.com/gofiber/fiber/v2"
	"github.com/liip/sheriff"
	"go.mongodb.org/mongo-driver/bson"
)

// LiveCache is wired in by the server on startup; position endpoints read
// nothing but the cache
var LiveCache *locationcache.Cache

func VehiclesRouter(router fiber.Router) {
	router.Get("/:identifier", getVehicle)
	router.Get("/:identifier/position", getVehiclePosition)
}

func getVehicle(c *fiber.Ctx) error {
	identifier := c.Params("identifier")

	vehiclesCollection := database.GetCollection("vehicles")
	var vehicle *model.Vehicle
	vehiclesCollection.FindOne(context.Background(), bson.M{"primaryidentifier": identifier}).Decode(&vehicle)

	if vehicle == nil {
		c.SendStatus(fiber.StatusNotFound)
		return c.JSON(fiber.Map{
			"error": "Could not find Vehicle matching Vehicle Identifier",
		})
	}

	reduced, err := sheriff.Marshal(&sheriff.Options{
		Groups: []string{"basic"},
	}, vehicle)
	if err != nil {
		c.SendStatus(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": "Sherrif could not reduce Vehicle",
		})
	}

	return c.JSON(reduced)
}

func getVehiclePosition(c *fiber.Ctx) error {
	identifier := c.Params("identifier")

	entry, err := LiveCache.GetCurrent(c.Context(), identifier)
	if err != nil {
		c.SendStatus(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": "Live vehicle cache unavailable",
		})
	}

	if entry == nil {
		c.SendStatus(fiber.StatusNotFound)
		return c.JSON(fiber.Map{
			"error": "No current position for Vehicle Identifier",
		})
	}

	return c.JSON(entry)
}
