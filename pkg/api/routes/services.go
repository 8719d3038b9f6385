package routes

import (
	"context"

	"github.com/buswatch/buswatch/pkg/database"
	"github.com/buswatch/buswatch/pkg/model"
	"github.com/gofiber/fiber/v2"
	"github.com/liip/sheriff"
	"go.mongodb.org/mongo-driver/bson"
)

func ServicesRouter(router fiber.Router) {
	router.Get("/:identifier", getService)
	router.Get("/:identifier/vehicles", getServiceVehicles)
}

func getService(c *fiber.Ctx) error {
	identifier := c.Params("identifier")

	servicesCollection := database.GetCollection("services")
	var service *model.Service
	servicesCollection.FindOne(context.Background(), bson.M{"primaryidentifier": identifier}).Decode(&service)

	if service == nil {
		c.SendStatus(fiber.StatusNotFound)
		return c.JSON(fiber.Map{
			"error": "Could not find Service matching Service Identifier",
		})
	}

	reduced, err := sheriff.Marshal(&sheriff.Options{
		Groups: []string{"basic"},
	}, service)
	if err != nil {
		c.SendStatus(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": "Sherrif could not reduce Service",
		})
	}

	return c.JSON(reduced)
}

func getServiceVehicles(c *fiber.Ctx) error {
	identifier := c.Params("identifier")

	entries, err := LiveCache.ListByService(c.Context(), identifier)
	if err != nil {
		c.SendStatus(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": "Live vehicle cache unavailable",
		})
	}

	return c.JSON(fiber.Map{
		"vehicles": entries,
	})
}
