package model

import "time"

const OperatorIDFormat = "BUSWATCH:OPERATOR:%s"

type Operator struct {
	PrimaryIdentifier string   `groups:"basic"`
	OtherIdentifiers  []string `groups:"basic"`

	CreationDateTime     time.Time `groups:"detailed"`
	ModificationDateTime time.Time `groups:"detailed"`

	PrimaryName string `groups:"basic"`

	DataSource *DataSource `groups:"internal"`
}
