// Package offers holds the offer data model and the CSV parser that turns a
// published daily offers file into filtered, site-enriched records.
package offers

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the on-disk and on-wire format of a trading date.
const DateLayout = "2006-01-02"

// RemoteFile describes one published daily offers file.
type RemoteFile struct {
	TradingDate  time.Time
	LastModified time.Time
	Name         string
}

// DateString renders the logical date of the file.
func (f RemoteFile) DateString() string {
	return f.TradingDate.Format(DateLayout)
}

// Key is the composite natural key of an offer tranche.
type Key struct {
	TradingDate       string
	TradingPeriod     int
	PointOfConnection string
	Unit              string
	Tranche           int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%s/%s/%d", k.TradingDate, k.TradingPeriod, k.PointOfConnection, k.Unit, k.Tranche)
}

// Offer is a single energy offer tranche for a unit and trading period.
type Offer struct {
	TradingDate        time.Time
	TradingPeriod      int
	Site               string
	ParticipantCode    string
	PointOfConnection  string
	Unit               string
	ProductType        string
	ProductClass       string
	ReserveType        string
	ProductDescription string
	UTCSubmissionDate  string
	UTCSubmissionTime  string
	SubmissionOrder    int
	Tranche            int

	MaximumRampUpMegawattsPerHour          decimal.NullDecimal
	MaximumRampDownMegawattsPerHour        decimal.NullDecimal
	PartiallyLoadedSpinningReservePercent  decimal.NullDecimal
	MaximumOutputMegawatts                 decimal.NullDecimal
	ForecastOfGenerationPotentialMegawatts decimal.NullDecimal
	Megawatts                              decimal.NullDecimal
	DollarsPerMegawattHour                 decimal.NullDecimal

	// FileLastModified is stamped by the store when the offer is reconciled.
	FileLastModified time.Time
}

// Key returns the composite natural key.
func (o Offer) Key() Key {
	return Key{
		TradingDate:       o.TradingDate.Format(DateLayout),
		TradingPeriod:     o.TradingPeriod,
		PointOfConnection: o.PointOfConnection,
		Unit:              o.Unit,
		Tranche:           o.Tranche,
	}
}

// PeriodStart returns the wall-clock start of a half-hour trading period.
// Period 1 starts at midnight of the trading date.
func PeriodStart(date time.Time, period int) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location()).
		Add(time.Duration(period-1) * 30 * time.Minute)
}

// ParseDate parses a trading date in DateLayout as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
