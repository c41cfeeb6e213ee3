package services

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salesmerge/internal/models"
)

func rec(productID, country string, amount float64) models.SalesRecord {
	return models.SalesRecord{
		ProductID:   productID,
		ProductName: "name-" + productID + "-" + country,
		Brand:       "brand-" + country,
		Category:    "cat-" + productID,
		ShipCountry: country,
		AmountKRW:   amount,
	}
}

func TestTopN_WorkedExample(t *testing.T) {
	p := newTestPipeline(t)
	_, err := p.IngestMain(context.Background(), mainTable(
		row("1", "P1", "Shirt", "Acme", "US", "100"),
		row("X", "X", "X", "X", "X", "X"),
		row("2", "P1", "Shirt", "Acme", "US", "50"),
		row("3", "P2", "Pants", "Acme", "KR", "200"),
	))
	require.NoError(t, err)

	countries, _ := p.Countries()
	assert.Equal(t, []string{"US", "KR"}, countries)

	rows, err := p.TopN(context.Background(), models.AllCountries, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "P2", rows[0].ProductID)
	assert.Equal(t, 200.0, rows[0].AmountKRW)
	assert.Equal(t, 1, rows[0].Quantity)
	assert.Equal(t, "P1", rows[1].ProductID)
	assert.Equal(t, 150.0, rows[1].AmountKRW)
	assert.Equal(t, 2, rows[1].Quantity)
	assert.Equal(t, "Shirt", rows[1].ProductName)
}

func TestAggregate_Conservation(t *testing.T) {
	records := []models.SalesRecord{
		rec("A", "US", 10), rec("B", "US", 5), rec("A", "KR", 7), rec("C", "US", 1), rec("B", "US", 2),
	}

	buckets := Aggregate(records)
	var total float64
	var count int
	for _, b := range buckets {
		total += b.TotalAmount
		count += b.Count
	}
	assert.Equal(t, 25.0, total)
	assert.Equal(t, len(records), count)
	assert.Equal(t, []string{"A", "B", "C"}, []string{buckets[0].ProductID, buckets[1].ProductID, buckets[2].ProductID})
}

func TestRankTopN_OrderingAndLength(t *testing.T) {
	records := []models.SalesRecord{
		rec("A", "US", 10), rec("B", "US", 30), rec("C", "US", 20), rec("D", "US", 5),
	}

	tests := []struct {
		n    int
		want []string
	}{
		{n: 1, want: []string{"B"}},
		{n: 3, want: []string{"B", "C", "A"}},
		{n: 10, want: []string{"B", "C", "A", "D"}},
	}
	for _, tt := range tests {
		rows := RankTopN(records, models.AllCountries, tt.n, DescriptorsUnfiltered)
		var got []string
		for i, r := range rows {
			got = append(got, r.ProductID)
			if i > 0 {
				assert.GreaterOrEqual(t, rows[i-1].AmountKRW, r.AmountKRW)
			}
		}
		assert.Equal(t, tt.want, got, "n=%d", tt.n)
	}
}

func TestRankTopN_NonPositiveN(t *testing.T) {
	records := []models.SalesRecord{rec("A", "US", 1)}
	for _, n := range []int{0, -1} {
		rows := RankTopN(records, models.AllCountries, n, DescriptorsUnfiltered)
		assert.NotNil(t, rows)
		assert.Empty(t, rows)
	}
}

func TestRankTopN_TiesKeepFirstSeenOrder(t *testing.T) {
	records := []models.SalesRecord{
		rec("Z", "US", 10), rec("A", "US", 10), rec("M", "US", 10),
	}
	rows := RankTopN(records, models.AllCountries, 3, DescriptorsUnfiltered)
	require.Len(t, rows, 3)
	assert.Equal(t, "Z", rows[0].ProductID)
	assert.Equal(t, "A", rows[1].ProductID)
	assert.Equal(t, "M", rows[2].ProductID)
}

func TestRankTopN_NaNRanksLast(t *testing.T) {
	records := []models.SalesRecord{
		rec("N", "US", math.NaN()), rec("A", "US", 1), rec("N", "US", 100), rec("B", "US", -5),
	}
	rows := RankTopN(records, models.AllCountries, 3, DescriptorsUnfiltered)
	require.Len(t, rows, 3)
	assert.Equal(t, "A", rows[0].ProductID)
	assert.Equal(t, "B", rows[1].ProductID)
	assert.Equal(t, "N", rows[2].ProductID)
	assert.True(t, math.IsNaN(rows[2].AmountKRW))
	assert.Equal(t, 2, rows[2].Quantity)
}

func TestRankTopN_AllMatchesUnfiltered(t *testing.T) {
	records := []models.SalesRecord{
		rec("A", "US", 10), rec("B", "KR", 30), rec("A", "JP", 25),
	}
	rows := RankTopN(records, models.AllCountries, 5, DescriptorsUnfiltered)
	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0].ProductID)
	assert.Equal(t, 35.0, rows[0].AmountKRW)
	assert.Equal(t, 2, rows[0].Quantity)
}

func TestRankTopN_CountryFilter(t *testing.T) {
	records := []models.SalesRecord{
		rec("A", "US", 10), rec("B", "KR", 30), rec("A", "KR", 25),
	}
	rows := RankTopN(records, "US", 5, DescriptorsUnfiltered)
	require.Len(t, rows, 1)
	assert.Equal(t, "A", rows[0].ProductID)
	assert.Equal(t, 10.0, rows[0].AmountKRW)

	assert.Empty(t, RankTopN(records, "FR", 5, DescriptorsUnfiltered))
}

func TestRankTopN_DescriptorSource(t *testing.T) {
	records := []models.SalesRecord{
		rec("A", "KR", 10), rec("A", "US", 20),
	}

	unfiltered := RankTopN(records, "US", 1, DescriptorsUnfiltered)
	require.Len(t, unfiltered, 1)
	assert.Equal(t, "name-A-KR", unfiltered[0].ProductName)
	assert.Equal(t, "brand-KR", unfiltered[0].Brand)
	assert.Equal(t, 20.0, unfiltered[0].AmountKRW)

	filtered := RankTopN(records, "US", 1, DescriptorsFiltered)
	require.Len(t, filtered, 1)
	assert.Equal(t, "name-A-US", filtered[0].ProductName)
	assert.Equal(t, "brand-US", filtered[0].Brand)
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{raw: "1500", want: 1500, ok: true},
		{raw: " 12.5 ", want: 12.5, ok: true},
		{raw: "-3", want: -3, ok: true},
		{raw: "", ok: false},
		{raw: "1,500", want: 1500, ok: true},
		{raw: "1,234,567.5", want: 1234567.5, ok: true},
		{raw: "123원", ok: false},
		{raw: ",", ok: false},
		{raw: "Inf", ok: false},
		{raw: "NaN", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := parseNumber(tt.raw)
			assert.Equal(t, tt.ok, got.OK())
			if tt.ok {
				assert.Equal(t, tt.want, got.Value)
			} else {
				assert.True(t, math.IsNaN(got.Value))
			}
		})
	}
}
