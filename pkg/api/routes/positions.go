package routes

import (
	"strconv"
	"strings"

	"github.com/buswatch/buswatch/pkg/model"
	"github.com/gofiber/fiber/v2"
)

func PositionsRouter(router fiber.Router) {
	router.Get("/", listPositionsWithinBounds)
}

// listPositionsWithinBounds serves the map view: every live vehicle inside
// ?bounds=minLon,minLat,maxLon,maxLat
func listPositionsWithinBounds(c *fiber.Ctx) error {
	box, err := parseBounds(c.Query("bounds"))
	if err != nil {
		c.SendStatus(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{
			"error": "bounds must be minLon,minLat,maxLon,maxLat",
		})
	}

	entries, err := LiveCache.ListWithinBounds(c.Context(), box)
	if err != nil {
		c.SendStatus(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": "Live vehicle cache unavailable",
		})
	}

	return c.JSON(fiber.Map{
		"positions": entries,
	})
}

func parseBounds(value string) (model.BoundingBox, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return model.BoundingBox{}, strconv.ErrSyntax
	}

	var numbers [4]float64
	for i, part := range parts {
		number, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return model.BoundingBox{}, err
		}
		numbers[i] = number
	}

	return model.BoundingBox{
		MinLon: numbers[0],
		MinLat: numbers[1],
		MaxLon: numbers[2],
		MaxLat: numbers[3],
	}, nil
}
