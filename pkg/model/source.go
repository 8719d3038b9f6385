package model

import "time"

// Source is the durable record for one configured upstream feed. The static
// half of a source (endpoint, credentials, operator map) lives in the YAML
// registry; this row carries the mutable bookkeeping that survives restarts.
type Source struct {
	Name string `groups:"basic"`

	// Settings is an opaque blob the protocol adapters use for polling
	// cursors, ETags and vendor pagination tokens
	Settings map[string]string `groups:"internal"`

	LastSuccessfulPoll time.Time `groups:"basic"`

	CreationDateTime     time.Time `groups:"detailed"`
	ModificationDateTime time.Time `groups:"detailed"`
}
