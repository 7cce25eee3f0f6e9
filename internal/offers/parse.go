package offers

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"emi-offers/internal/sites"
)

// Column names of the published offers CSV.
const (
	colTradingDate        = "TradingDate"
	colTradingPeriod      = "TradingPeriod"
	colParticipantCode    = "ParticipantCode"
	colPointOfConnection  = "PointOfConnection"
	colUnit               = "Unit"
	colProductType        = "ProductType"
	colProductClass       = "ProductClass"
	colReserveType        = "ReserveType"
	colProductDescription = "ProductDescription"
	colSubmissionDate     = "UTCSubmissionDate"
	colSubmissionTime     = "UTCSubmissionTime"
	colSubmissionOrder    = "SubmissionOrder"
	colTranche            = "Tranche"
	colRampUp             = "MaximumRampUpMegawattsPerHour"
	colRampDown           = "MaximumRampDownMegawattsPerHour"
	colPLSR               = "PartiallyLoadedSpinningReservePercent"
	colMaxOutput          = "MaximumOutputMegawatts"
	colForecast           = "ForecastOfGenerationPotentialMegawatts"
	colMegawatts          = "Megawatts"
	colPrice              = "DollarsPerMegawattHour"
	colIsLatest           = "IsLatestYesNo"
)

var requiredColumns = []string{
	colTradingDate, colTradingPeriod, colParticipantCode, colPointOfConnection, colUnit,
	colProductType, colProductClass, colReserveType, colProductDescription,
	colSubmissionDate, colSubmissionTime, colSubmissionOrder, colTranche,
	colRampUp, colRampDown, colPLSR, colMaxOutput, colForecast, colMegawatts, colPrice,
	colIsLatest,
}

// Retained rows must carry these values.
const (
	latestYes          = "Y"
	productClassInject = "Injection"
	productTypeEnergy  = "Energy"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseError reports a malformed row. The row is skipped.
type ParseError struct {
	Line   int
	Column string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: column %s: %v", e.Line, e.Column, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// LookupError reports a retained row whose site cannot be resolved. It aborts
// the file: the description table is out of sync with market participants.
type LookupError struct {
	Line int
	Key  string
	Err  error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("line %d: resolve site for %q: %v", e.Line, e.Key, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Result is the outcome of parsing one offers file.
type Result struct {
	Offers   []Offer
	Rows     int
	Filtered int
	Skipped  []*ParseError
}

// Parser filters and enriches offer rows.
type Parser struct {
	resolver sites.Resolver
	logger   zerolog.Logger
}

// NewParser constructs a parser resolving sites through resolver.
func NewParser(resolver sites.Resolver, logger zerolog.Logger) *Parser {
	return &Parser{resolver: resolver, logger: logger.With().Str("component", "offer_parser").Logger()}
}

// Parse reads CSV content with a header row and keeps only latest-version
// energy injection offers. Malformed retained rows are skipped and reported.
// Quoted fields may not span lines.
func (p *Parser) Parse(content []byte) (Result, error) {
	if p.resolver == nil {
		return Result{}, errors.New("site resolver not configured")
	}

	lines := bytes.Split(bytes.TrimPrefix(content, utf8BOM), []byte("\n"))
	headerLine := 0
	for headerLine < len(lines) && len(bytes.TrimSpace(lines[headerLine])) == 0 {
		headerLine++
	}
	if headerLine == len(lines) {
		return Result{}, errors.New("offers file is empty")
	}
	header, err := readLine(lines[headerLine])
	if err != nil {
		return Result{}, fmt.Errorf("read header: %w", err)
	}
	idx, err := indexColumns(header)
	if err != nil {
		return Result{}, err
	}

	// Each line is decoded on its own so a broken quote costs only that row.
	var res Result
	for i := headerLine + 1; i < len(lines); i++ {
		raw := lines[i]
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		line := i + 1
		res.Rows++

		record, readErr := readLine(raw)
		if readErr != nil {
			var csvErr *csv.ParseError
			if errors.As(readErr, &csvErr) {
				readErr = csvErr.Err
			}
			p.skip(&res, &ParseError{Line: line, Err: readErr})
			continue
		}

		if len(record) != len(header) {
			p.skip(&res, &ParseError{Line: line, Err: fmt.Errorf("expected %d fields, got %d", len(header), len(record))})
			continue
		}

		row := rowView{record: record, idx: idx}
		if !retain(row) {
			res.Filtered++
			continue
		}

		offer, perr := parseOffer(row, line)
		if perr != nil {
			p.skip(&res, perr)
			continue
		}

		key := sites.Key(offer.PointOfConnection, offer.Unit)
		site, lookupErr := p.resolver.Resolve(key)
		if lookupErr != nil {
			return Result{}, &LookupError{Line: line, Key: key, Err: lookupErr}
		}
		offer.Site = site

		res.Offers = append(res.Offers, offer)
	}

	return res, nil
}

// readLine decodes exactly one CSV record from a single physical line.
func readLine(raw []byte) ([]string, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimSuffix(raw, []byte("\r"))))
	reader.FieldsPerRecord = -1
	record, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty line")
		}
		return nil, err
	}
	return record, nil
}

func (p *Parser) skip(res *Result, perr *ParseError) {
	p.logger.Warn().Int("line", perr.Line).Str("column", perr.Column).Err(perr.Err).Msg("skipping malformed offer row")
	res.Skipped = append(res.Skipped, perr)
}

func indexColumns(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("offers header missing columns: %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

type rowView struct {
	record []string
	idx    map[string]int
}

func (r rowView) get(col string) string {
	return r.record[r.idx[col]]
}

func retain(r rowView) bool {
	return r.get(colIsLatest) == latestYes &&
		r.get(colProductClass) == productClassInject &&
		r.get(colProductType) == productTypeEnergy
}

func parseOffer(r rowView, line int) (Offer, *ParseError) {
	date, err := ParseDate(r.get(colTradingDate))
	if err != nil {
		return Offer{}, &ParseError{Line: line, Column: colTradingDate, Err: err}
	}

	offer := Offer{
		TradingDate:        date,
		ParticipantCode:    r.get(colParticipantCode),
		PointOfConnection:  r.get(colPointOfConnection),
		Unit:               r.get(colUnit),
		ProductType:        r.get(colProductType),
		ProductClass:       r.get(colProductClass),
		ReserveType:        r.get(colReserveType),
		ProductDescription: r.get(colProductDescription),
		UTCSubmissionDate:  r.get(colSubmissionDate),
		UTCSubmissionTime:  r.get(colSubmissionTime),
	}

	ints := []struct {
		col string
		dst *int
	}{
		{colTradingPeriod, &offer.TradingPeriod},
		{colSubmissionOrder, &offer.SubmissionOrder},
		{colTranche, &offer.Tranche},
	}
	for _, f := range ints {
		v, err := strconv.Atoi(r.get(f.col))
		if err != nil {
			return Offer{}, &ParseError{Line: line, Column: f.col, Err: err}
		}
		*f.dst = v
	}
	if offer.TradingPeriod < 1 {
		return Offer{}, &ParseError{Line: line, Column: colTradingPeriod, Err: fmt.Errorf("trading period %d out of range", offer.TradingPeriod)}
	}
	if offer.Tranche < 1 {
		return Offer{}, &ParseError{Line: line, Column: colTranche, Err: fmt.Errorf("tranche %d out of range", offer.Tranche)}
	}

	decimals := []struct {
		col string
		dst *decimal.NullDecimal
	}{
		{colRampUp, &offer.MaximumRampUpMegawattsPerHour},
		{colRampDown, &offer.MaximumRampDownMegawattsPerHour},
		{colPLSR, &offer.PartiallyLoadedSpinningReservePercent},
		{colMaxOutput, &offer.MaximumOutputMegawatts},
		{colForecast, &offer.ForecastOfGenerationPotentialMegawatts},
		{colMegawatts, &offer.Megawatts},
		{colPrice, &offer.DollarsPerMegawattHour},
	}
	for _, f := range decimals {
		v, err := ParseOptionalDecimal(r.get(f.col))
		if err != nil {
			return Offer{}, &ParseError{Line: line, Column: f.col, Err: err}
		}
		*f.dst = v
	}

	return offer, nil
}

// ParseOptionalDecimal maps an empty field to an invalid NullDecimal.
func ParseOptionalDecimal(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
