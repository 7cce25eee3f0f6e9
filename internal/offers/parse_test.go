package offers

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emi-offers/internal/sites"
)

const header = "TradingDate,TradingPeriod,ParticipantCode,PointOfConnection,Unit,ProductType,ProductClass,ReserveType,ProductDescription,UTCSubmissionDate,UTCSubmissionTime,SubmissionOrder,Tranche,MaximumRampUpMegawattsPerHour,MaximumRampDownMegawattsPerHour,PartiallyLoadedSpinningReservePercent,MaximumOutputMegawatts,ForecastOfGenerationPotentialMegawatts,Megawatts,DollarsPerMegawattHour,IsLatestYesNo"

func csvOf(rows ...string) []byte {
	return []byte(strings.Join(append([]string{header}, rows...), "\n") + "\n")
}

func testResolver() sites.Resolver {
	return sites.NewTable(map[string]string{
		"MAN2201 MAN0": "MAN",
		"HLY2201 HLY5": "HLY",
	})
}

func TestParseFiltersAndEnriches(t *testing.T) {
	content := csvOf(
		"2024-03-02,1,MERI,MAN2201,MAN0,Energy,Injection,,Energy offer,2024-03-01,10:00:00,3,1,,,,850,,200.5,0.01,Y",
		"2024-03-02,1,MERI,MAN2201,MAN0,Energy,Injection,,Energy offer,2024-03-01,09:00:00,2,1,,,,850,,190,0.02,N",
		"2024-03-02,1,MERI,MAN2201,MAN0,Reserve,Reserve,FIR,Reserve offer,2024-03-01,10:00:00,3,1,,,,,,20,5,Y",
		"2024-03-02,2,GENE,HLY2201,HLY5,Energy,Injection,,Energy offer,2024-03-01,10:00:00,7,2,,,,,,,123.45,Y",
	)

	res, err := NewParser(testResolver(), zerolog.Nop()).Parse(content)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Rows)
	assert.Equal(t, 2, res.Filtered)
	assert.Empty(t, res.Skipped)
	require.Len(t, res.Offers, 2)

	first := res.Offers[0]
	assert.Equal(t, "MAN", first.Site)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), first.TradingDate)
	assert.Equal(t, 1, first.TradingPeriod)
	assert.Equal(t, 3, first.SubmissionOrder)
	assert.Equal(t, "200.5", first.Megawatts.Decimal.String())
	assert.True(t, first.MaximumOutputMegawatts.Valid)
	assert.Equal(t, "850", first.MaximumOutputMegawatts.Decimal.String())

	second := res.Offers[1]
	assert.Equal(t, "HLY", second.Site)
	assert.False(t, second.MaximumOutputMegawatts.Valid, "empty numeric must be absent, not zero")
	assert.False(t, second.Megawatts.Valid)
	assert.Equal(t, "123.45", second.DollarsPerMegawattHour.Decimal.String())
	assert.Equal(t, Key{TradingDate: "2024-03-02", TradingPeriod: 2, PointOfConnection: "HLY2201", Unit: "HLY5", Tranche: 2}, second.Key())

	for _, o := range res.Offers {
		assert.Equal(t, "Injection", o.ProductClass)
		assert.Equal(t, "Energy", o.ProductType)
	}
}

func TestParseSkipsMalformedRows(t *testing.T) {
	content := csvOf(
		"2024-03-02,x1,MERI,MAN2201,MAN0,Energy,Injection,,Energy offer,2024-03-01,10:00:00,3,1,,,,,,200,0.01,Y",
		"2024-03-02,1,MERI,MAN2201,MAN0,Energy,Injection,,Energy offer,2024-03-01,10:00:00,3,1,,,,abc,,200,0.01,Y",
		"2024-03-02,1,MERI,MAN2201,MAN0",
		"2024-03-02,2,MERI,MAN2201,MAN0,Energy,Injection,,Energy offer,2024-03-01,10:00:00,3,1,,,,,,200,0.01,Y",
		"2024-03-02,3,MERI,MAN2201,MAN0,Energy,Injection,,Energy offer,2024-03-01,10:00:00, 3,1,,,,,,200,0.01,Y",
	)

	res, err := NewParser(testResolver(), zerolog.Nop()).Parse(content)
	require.NoError(t, err)
	require.Len(t, res.Offers, 1)
	assert.Equal(t, 2, res.Offers[0].TradingPeriod)
	require.Len(t, res.Skipped, 4)

	assert.Equal(t, colTradingPeriod, res.Skipped[0].Column)
	assert.Equal(t, 2, res.Skipped[0].Line)
	assert.Equal(t, colMaxOutput, res.Skipped[1].Column)
	assert.Empty(t, res.Skipped[2].Column)
	assert.Equal(t, colSubmissionOrder, res.Skipped[3].Column, "integers are parsed strictly")
}

func TestParseBrokenQuoteCostsOnlyItsLine(t *testing.T) {
	content := csvOf(
		"2024-03-02,1,MERI,MAN2201,MAN0,Energy,Injection,,Energy offer,2024-03-01,10:00:00,3,1,,,,,,200,0.01,Y",
		"2024-03-02,2,MERI,MAN2201,MAN0,Energy,Injection,,\"Energy offer,2024-03-01,10:00:00,3,1,,,,,,200,0.01,Y",
		"2024-03-02,3,MERI,MAN2201,MAN0,Energy,Injection,,Energy offer,2024-03-01,10:00:00,3,1,,,,,,200,0.01,Y",
		"2024-03-02,4,MERI,MAN2201,MAN0,Energy,Injection,,\"Energy, offer\",2024-03-01,10:00:00,3,1,,,,,,200,0.01,Y",
		"2024-03-02,5,MERI,MAN2201,MAN0,Energy,Injection,,Energy offer,2024-03-01,10:00:00,3,1,,,,,,200,0.01,Y\r",
	)

	res, err := NewParser(testResolver(), zerolog.Nop()).Parse(content)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Rows)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 3, res.Skipped[0].Line)

	periods := make([]int, 0, len(res.Offers))
	for _, o := range res.Offers {
		periods = append(periods, o.TradingPeriod)
	}
	assert.Equal(t, []int{1, 3, 4, 5}, periods)
	assert.Equal(t, "Energy, offer", res.Offers[2].ProductDescription)
}

func TestParseRejectsNonPositiveKeys(t *testing.T) {
	content := csvOf(
		"2024-03-02,0,MERI,MAN2201,MAN0,Energy,Injection,,Energy offer,2024-03-01,10:00:00,3,1,,,,,,200,0.01,Y",
		"2024-03-02,1,MERI,MAN2201,MAN0,Energy,Injection,,Energy offer,2024-03-01,10:00:00,3,0,,,,,,200,0.01,Y",
		"2024-03-02,-2,MERI,MAN2201,MAN0,Energy,Injection,,Energy offer,2024-03-01,10:00:00,3,1,,,,,,200,0.01,Y",
		"2024-03-02,1,MERI,MAN2201,MAN0,Energy,Injection,,Energy offer,2024-03-01,10:00:00,3,1,,,,,,200,0.01,Y",
	)

	res, err := NewParser(testResolver(), zerolog.Nop()).Parse(content)
	require.NoError(t, err)
	require.Len(t, res.Offers, 1)
	require.Len(t, res.Skipped, 3)
	assert.Equal(t, colTradingPeriod, res.Skipped[0].Column)
	assert.Equal(t, colTranche, res.Skipped[1].Column)
	assert.Equal(t, colTradingPeriod, res.Skipped[2].Column)
}

func TestParseUnknownSiteIsFatal(t *testing.T) {
	content := csvOf(
		"2024-03-02,1,MERI,ZZZ2201,ZZZ0,Energy,Injection,,Energy offer,2024-03-01,10:00:00,3,1,,,,,,200,0.01,Y",
	)

	_, err := NewParser(testResolver(), zerolog.Nop()).Parse(content)
	require.Error(t, err)

	var lookupErr *LookupError
	require.True(t, errors.As(err, &lookupErr))
	assert.Equal(t, "ZZZ2201 ZZZ0", lookupErr.Key)
	assert.ErrorIs(t, err, sites.ErrNotFound)
}

func TestParseUnknownSiteOnFilteredRowIsIgnored(t *testing.T) {
	content := csvOf(
		"2024-03-02,1,MERI,ZZZ2201,ZZZ0,Reserve,Reserve,SIR,Reserve offer,2024-03-01,10:00:00,3,1,,,,,,200,0.01,Y",
	)

	res, err := NewParser(testResolver(), zerolog.Nop()).Parse(content)
	require.NoError(t, err)
	assert.Empty(t, res.Offers)
	assert.Equal(t, 1, res.Filtered)
}

func TestParseHeaderProblems(t *testing.T) {
	p := NewParser(testResolver(), zerolog.Nop())

	_, err := p.Parse(nil)
	assert.Error(t, err)

	_, err = p.Parse([]byte("TradingDate,TradingPeriod\n2024-03-02,1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IsLatestYesNo")
}

func TestParseStripsByteOrderMark(t *testing.T) {
	content := append([]byte{0xEF, 0xBB, 0xBF}, csvOf(
		"2024-03-02,1,MERI,MAN2201,MAN0,Energy,Injection,,Energy offer,2024-03-01,10:00:00,3,1,,,,,,200,0.01,Y",
	)...)

	res, err := NewParser(testResolver(), zerolog.Nop()).Parse(content)
	require.NoError(t, err)
	assert.Len(t, res.Offers, 1)
}

func TestParseOptionalDecimal(t *testing.T) {
	v, err := ParseOptionalDecimal("")
	require.NoError(t, err)
	assert.False(t, v.Valid)

	v, err = ParseOptionalDecimal("0")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.True(t, v.Decimal.IsZero())

	v, err = ParseOptionalDecimal("1234.5678")
	require.NoError(t, err)
	assert.Equal(t, "1234.5678", v.Decimal.String())

	_, err = ParseOptionalDecimal("n/a")
	assert.Error(t, err)
}

func TestPeriodStart(t *testing.T) {
	day := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, day, PeriodStart(day, 1))
	assert.Equal(t, day.Add(23*time.Hour+30*time.Minute), PeriodStart(day, 48))
}
