package routes

import (
	"context"

	"github.com/buswatch/buswatch/pkg/database"
	"github.com/buswatch/buswatch/pkg/model"
	"github.com/gofiber/fiber/v2"
	"github.com/liip/sheriff"
	"go.mongodb.org/mongo-driver/bson"
)

func OperatorsRouter(router fiber.Router) {
	router.Get("/:identifier", getOperator)
	router.Get("/:identifier/vehicles", getOperatorVehicles)
}

func getOperator(c *fiber.Ctx) error {
	identifier := c.Params("identifier")

	operatorsCollection := database.GetCollection("operators")
	var operator *model.Operator
	operatorsCollection.FindOne(context.Background(), bson.M{
		"$or": bson.A{
			bson.M{"primaryidentifier": identifier},
			bson.M{"otheridentifiers": identifier},
		},
	}).Decode(&operator)

	if operator == nil {
		c.SendStatus(fiber.StatusNotFound)
		return c.JSON(fiber.Map{
			"error": "Could not find Operator matching Operator Identifier",
		})
	}

	reduced, err := sheriff.Marshal(&sheriff.Options{
		Groups: []string{"basic"},
	}, operator)
	if err != nil {
		c.SendStatus(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": "Sherrif could not reduce Operator",
		})
	}

	return c.JSON(reduced)
}

func getOperatorVehicles(c *fiber.Ctx) error {
	identifier := c.Params("identifier")

	entries, err := LiveCache.ListByOperator(c.Context(), identifier)
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
