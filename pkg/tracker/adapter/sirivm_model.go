package adapter

type siriVehicleActivity struct {
	RecordedAtTime string
	ItemIdentifier string
	ValidUntilTime string

	MonitoredVehicleJourney *siriMonitoredVehicleJourney

	Extensions struct {
		VehicleJourney struct {
			VehicleUniqueId string
			DriverRef       string
		}
	}
}

type siriMonitoredVehicleJourney struct {
	LineRef           string
	DirectionRef      string
	PublishedLineName string

	FramedVehicleJourneyRef struct {
		DataFrameRef           string
		DatedVehicleJourneyRef string
	}

	VehicleJourneyRef string

	OperatorRef string

	OriginRef  string
	OriginName string

	DestinationRef           string
	DestinationName          string
	OriginAimedDepartureTime string

	VehicleLocation struct {
		Longitude float64
		Latitude  float64
		Easting   string
		Northing  string
	}
	Bearing *float64
	Delay   string

	BlockRef   string
	VehicleRef string
}
