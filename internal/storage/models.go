package storage

import (
	"time"

	"emi-offers/internal/offers"
)

// Ingestion is one parsed offers file ready to be reconciled.
type Ingestion struct {
	File        offers.RemoteFile
	Offers      []offers.Offer
	ContentHash string
	RunID       string
}

// FileRecord is the persisted freshness marker of an ingested trading date.
type FileRecord struct {
	TradingDate      time.Time
	RemoteName       string
	FileLastModified time.Time
	RecordCount      int
	ContentHash      string
	RunID            string
	IngestedAt       time.Time
}

// stamped copies rows with FileLastModified set to the source file's timestamp.
func (in Ingestion) stamped() []offers.Offer {
	rows := make([]offers.Offer, len(in.Offers))
	for i, o := range in.Offers {
		o.FileLastModified = in.File.LastModified.UTC()
		rows[i] = o
	}
	return rows
}
