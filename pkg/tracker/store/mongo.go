package store

import (
	"context"
	"errors"
	"time"

	"github.com/buswatch/buswatch/pkg/database"
	"github.com/buswatch/buswatch/pkg/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore backs the tracker with the shared MongoDB database
type MongoStore struct{}

func NewMongoStore() *MongoStore {
	return &MongoStore{}
}

func decodeOne[T any](result *mongo.SingleResult) (*T, error) {
	var record T
	err := result.Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &record, nil
}

func (s *MongoStore) GetVehicleBySourceCode(ctx context.Context, sourceRef string, vendorCode string) (*model.Vehicle, error) {
	collection := database.GetCollection("vehicles")
	return decodeOne[model.Vehicle](collection.FindOne(ctx, bson.M{
		"sourceref":  sourceRef,
		"vendorcode": vendorCode,
	}))
}

func (s *MongoStore) GetVehicleByRegistration(ctx context.Context, operatorRef string, registration string) (*model.Vehicle, error) {
	collection := database.GetCollection("vehicles")
	return decodeOne[model.Vehicle](collection.FindOne(ctx, bson.M{
		"operatorref":  operatorRef,
		"registration": registration,
	}))
}

func (s *MongoStore) GetVehicleByFleetNumber(ctx context.Context, operatorRef string, fleetNumber int) (*model.Vehicle, error) {
	collection := database.GetCollection("vehicles")
	return decodeOne[model.Vehicle](collection.FindOne(ctx, bson.M{
		"operatorref": operatorRef,
		"fleetnumber": fleetNumber,
	}))
}

func (s *MongoStore) GetVehicle(ctx context.Context, primaryIdentifier string) (*model.Vehicle, error) {
	collection := database.GetCollection("vehicles")
	return decodeOne[model.Vehicle](collection.FindOne(ctx, bson.M{
		"primaryidentifier": primaryIdentifier,
	}))
}

func (s *MongoStore) UpsertVehicle(ctx context.Context, vehicle *model.Vehicle) error {
	collection := database.GetCollection("vehicles")

	_, err := collection.UpdateOne(ctx,
		bson.M{"primaryidentifier": vehicle.PrimaryIdentifier},
		bson.M{"$set": vehicle},
		options.Update().SetUpsert(true),
	)

	return err
}

func (s *MongoStore) GetJourney(ctx context.Context, journeyRef string) (*model.VehicleJourney, error) {
	collection := database.GetCollection("vehicle_journeys")
	return decodeOne[model.VehicleJourney](collection.FindOne(ctx, bson.M{
		"primaryidentifier": journeyRef,
	}))
}

func (s *MongoStore) GetOpenJourney(ctx context.Context, vehicleRef string) (*model.VehicleJourney, error) {
	collection := database.GetCollection("vehicle_journeys")
	return decodeOne[model.VehicleJourney](collection.FindOne(ctx, bson.M{
		"vehicleref": vehicleRef,
		"open":       true,
	}))
}

func (s *MongoStore) InsertJourney(ctx context.Context, journey *model.VehicleJourney) error {
	collection := database.GetCollection("vehicle_journeys")

	_, err := collection.UpdateOne(ctx,
		bson.M{"primaryidentifier": journey.PrimaryIdentifier},
		bson.M{"$set": journey},
		options.Update().SetUpsert(true),
	)

	return err
}

func (s *MongoStore) CloseJourney(ctx context.Context, journeyRef string, at time.Time) error {
	collection := database.GetCollection("vehicle_journeys")

	_, err := collection.UpdateOne(ctx,
		bson.M{"primaryidentifier": journeyRef},
		bson.M{"$set": bson.M{
			"open":                 false,
			"modificationdatetime": at,
		}},
	)

	return err
}

func (s *MongoStore) InsertLocation(ctx context.Context, location *model.VehicleLocation) error {
	collection := database.GetCollection("vehicle_locations")

	_, err := collection.UpdateMany(ctx,
		bson.M{"journeyref": location.JourneyRef, "current": true},
		bson.M{"$set": bson.M{"current": false}},
	)
	if err != nil {
		return err
	}

	_, err = collection.InsertOne(ctx, location)
	return err
}

func (s *MongoStore) GetLatestLocationForJourney(ctx context.Context, journeyRef string) (*model.VehicleLocation, error) {
	collection := database.GetCollection("vehicle_locations")
	return decodeOne[model.VehicleLocation](collection.FindOne(ctx,
		bson.M{"journeyref": journeyRef},
		options.FindOne().SetSort(bson.D{{Key: "recordedat", Value: -1}}),
	))
}

func (s *MongoStore) GetLatestLocationPerVehicle(ctx context.Context) ([]*model.VehicleLocation, error) {
	collection := database.GetCollection("vehicle_locations")

	cursor, err := collection.Aggregate(ctx, mongo.Pipeline{
		bson.D{{Key: "$sort", Value: bson.D{{Key: "recordedat", Value: -1}}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$vehicleref"},
			{Key: "latest", Value: bson.D{{Key: "$first", Value: "$$ROOT"}}},
		}}},
		bson.D{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$latest"}}}},
	})
	if err != nil {
		return nil, err
	}

	var locations []*model.VehicleLocation
	if err := cursor.All(ctx, &locations); err != nil {
		return nil, err
	}

	return locations, nil
}

func (s *MongoStore) MarkSourceLocationsStale(ctx context.Context, sourceRef string, refreshedVehicleRefs []string) error {
	collection := database.GetCollection("vehicle_locations")

	_, err := collection.UpdateMany(ctx,
		bson.M{
			"sourceref":  sourceRef,
			"current":    true,
			"vehicleref": bson.M{"$nin": refreshedVehicleRefs},
		},
		bson.M{"$set": bson.M{"current": false}},
	)

	return err
}

func (s *MongoStore) GetSource(ctx context.Context, name string) (*model.Source, error) {
	collection := database.GetCollection("sources")
	return decodeOne[model.Source](collection.FindOne(ctx, bson.M{"name": name}))
}

func (s *MongoStore) UpsertSource(ctx context.Context, source *model.Source) error {
	collection := database.GetCollection("sources")

	_, err := collection.UpdateOne(ctx,
		bson.M{"name": source.Name},
		bson.M{"$set": source},
		options.Update().SetUpsert(true),
	)

	return err
}

func (s *MongoStore) GetOperators(ctx context.Context, operatorRefs []string) ([]*model.Operator, error) {
	collection := database.GetCollection("operators")

	cursor, err := collection.Find(ctx, bson.M{
		"$or": bson.A{
			bson.M{"primaryidentifier": bson.M{"$in": operatorRefs}},
			bson.M{"otheridentifiers": bson.M{"$in": operatorRefs}},
		},
	})
	if err != nil {
		return nil, err
	}

	var operators []*model.Operator
	if err := cursor.All(ctx, &operators); err != nil {
		return nil, err
	}

	return operators, nil
}

func (s *MongoStore) GetServicesForOperators(ctx context.Context, operatorRefs []string) ([]*model.Service, error) {
	collection := database.GetCollection("services")

	cursor, err := collection.Find(ctx, bson.M{
		"operatorref": bson.M{"$in": operatorRefs},
	})
	if err != nil {
		return nil, err
	}

	var services []*model.Service
	if err := cursor.All(ctx, &services); err != nil {
		return nil, err
	}

	return services, nil
}
