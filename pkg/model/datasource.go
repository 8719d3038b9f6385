package model

type DataSource struct {
	OriginalFormat string `groups:"internal"` // eg. siri-vm, vendor-json, websocket
	Provider       string `groups:"internal"`
	DatasetID      string `groups:"internal"`
	Timestamp      string `groups:"internal"`
}
