package database

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func createIndexes() {
	createReferenceIndexes()
	createTrackingIndexes()
}

func createReferenceIndexes() {
	operatorsCollection := GetCollection("operators")
	_, err := operatorsCollection.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "primaryidentifier", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "otheridentifiers", Value: 1}},
		},
	}, options.CreateIndexes())
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}

	servicesCollection := GetCollection("services")
	serviceNameOperatorRefIndexName := "ServiceNameOperatorRef"
	_, err = servicesCollection.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "primaryidentifier", Value: 1}},
		},
		{
			Options: &options.IndexOptions{
				Name: &serviceNameOperatorRefIndexName,
			},
			Keys: bson.D{
				{Key: "servicename", Value: 1},
				{Key: "operatorref", Value: 1},
			},
		},
	}, options.CreateIndexes())
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}

	sourcesCollection := GetCollection("sources")
	_, err = sourcesCollection.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "name", Value: 1}},
		},
	}, options.CreateIndexes())
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}
}

func createTrackingIndexes() {
	vehiclesCollection := GetCollection("vehicles")
	sourceVendorCodeIndexName := "SourceVendorCode"
	_, err := vehiclesCollection.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "primaryidentifier", Value: 1}},
		},
		{
			Options: options.Index().SetName(sourceVendorCodeIndexName).SetUnique(true),
			Keys: bson.D{
				{Key: "sourceref", Value: 1},
				{Key: "vendorcode", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "operatorref", Value: 1},
				{Key: "registration", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "operatorref", Value: 1},
				{Key: "fleetnumber", Value: 1},
			},
		},
	}, options.CreateIndexes())
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}

	journeysCollection := GetCollection("vehicle_journeys")
	_, err = journeysCollection.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "primaryidentifier", Value: 1}},
		},
		{
			Keys: bson.D{
				{Key: "vehicleref", Value: 1},
				{Key: "open", Value: 1},
			},
		},
		{
			Keys: bson.D{{Key: "serviceref", Value: 1}},
		},
	}, options.CreateIndexes())
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}

	locationsCollection := GetCollection("vehicle_locations")
	_, err = locationsCollection.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "primaryidentifier", Value: 1}},
		},
		{
			Keys: bson.D{
				{Key: "journeyref", Value: 1},
				{Key: "recordedat", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "vehicleref", Value: 1},
				{Key: "current", Value: 1},
			},
		},
		{
			Keys: bson.D{{Key: "location.coordinates", Value: "2d"}},
		},
		{
			Keys:    bson.D{{Key: "creationdatetime", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(7 * 24 * 3600), // Expire after a week
		},
	}, options.CreateIndexes())
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}

	tripsCollection := GetCollection("trips")
	_, err = tripsCollection.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "serviceref", Value: 1},
				{Key: "departuretime", Value: 1},
			},
		},
	}, options.CreateIndexes())
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}
}
