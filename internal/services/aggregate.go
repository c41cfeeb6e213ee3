package services

import (
	"cmp"
	"math"
	"slices"

	"salesmerge/internal/models"
)

// FilterCountry keeps the records shipped to country, or all of them for
// models.AllCountries.
func FilterCountry(records []models.SalesRecord, country string) []models.SalesRecord {
	if country == models.AllCountries {
		return records
	}
	var out []models.SalesRecord
	for _, r := range records {
		if r.ShipCountry == country {
			out = append(out, r)
		}
	}
	return out
}

// Aggregate buckets records by product id. Buckets come back in the order
// their product was first seen.
func Aggregate(records []models.SalesRecord) []models.AggregationBucket {
	index := make(map[string]int)
	var buckets []models.AggregationBucket
	for _, r := range records {
		i, ok := index[r.ProductID]
		if !ok {
			i = len(buckets)
			index[r.ProductID] = i
			buckets = append(buckets, models.AggregationBucket{ProductID: r.ProductID})
		}
		buckets[i].TotalAmount += r.AmountKRW
		buckets[i].Count++
	}
	return buckets
}

// RankTopN aggregates the country filter, orders the buckets by total amount
// descending and keeps the first n. Equal totals keep first-seen order and
// NaN totals rank after every number. n <= 0 yields nothing.
func RankTopN(records []models.SalesRecord, country string, n int, source DescriptorSource) []models.TopNRow {
	if n <= 0 {
		return []models.TopNRow{}
	}

	filtered := FilterCountry(records, country)
	buckets := Aggregate(filtered)
	slices.SortStableFunc(buckets, func(a, b models.AggregationBucket) int {
		return compareAmountDesc(a.TotalAmount, b.TotalAmount)
	})
	buckets = buckets[:min(n, len(buckets))]

	describe := records
	if source == DescriptorsFiltered {
		describe = filtered
	}
	first := firstByProduct(describe)

	rows := make([]models.TopNRow, 0, len(buckets))
	for _, b := range buckets {
		row := models.TopNRow{
			ProductID: b.ProductID,
			AmountKRW: b.TotalAmount,
			Quantity:  b.Count,
		}
		if i, ok := first[b.ProductID]; ok {
			r := describe[i]
			row.ProductName = r.ProductName
			row.Brand = r.Brand
			row.Category = r.Category
		}
		rows = append(rows, row)
	}
	return rows
}

func compareAmountDesc(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	}
	return cmp.Compare(b, a)
}

func firstByProduct(records []models.SalesRecord) map[string]int {
	first := make(map[string]int)
	for i, r := range records {
		if _, ok := first[r.ProductID]; !ok {
			first[r.ProductID] = i
		}
	}
	return first
}
