package models

import (
	"encoding/json"
	"math"
)

// Column headers of the sales export. The amount column is exported under two
// spellings; the unbalanced one is what most files carry.
const (
	ColSaleDate      = "매출일자"
	ColOrderDateTime = "주문일시"
	ColOrderID       = "주문번호"
	ColBrand         = "브랜드"
	ColPromoCode     = "프로모코드"
	ColProductID     = "상품번호"
	ColProductName   = "상품명"
	ColQuantity      = "수량"
	ColShipCountry   = "배송국가"
	ColAmount        = "거래액(원화"
	ColAmountAlt     = "거래액(원화)"
	ColCategory      = "카테고리"
)

// AllCountries selects every record regardless of ship country.
const AllCountries = "all"

// SalesRecordHeader is the column order used when the merged table is
// displayed or exported.
var SalesRecordHeader = []string{
	ColSaleDate,
	ColOrderDateTime,
	ColOrderID,
	ColBrand,
	ColPromoCode,
	ColProductID,
	ColProductName,
	ColQuantity,
	ColShipCountry,
	ColAmount,
	ColCategory,
}

// TopNHeader is the column order of a Top-N export.
var TopNHeader = []string{
	ColProductID,
	ColProductName,
	ColBrand,
	ColCategory,
	ColAmount,
	ColQuantity,
}

// SalesRecord is one normalised row of the main table. Quantity is the cell
// exactly as uploaded.
type SalesRecord struct {
	SaleDate      string  `json:"sale_date"`
	OrderDateTime string  `json:"order_date_time"`
	OrderID       string  `json:"order_id"`
	Brand         string  `json:"brand"`
	PromoCode     string  `json:"promo_code"`
	ProductID     string  `json:"product_id"`
	ProductName   string  `json:"product_name"`
	Quantity      string  `json:"quantity"`
	ShipCountry   string  `json:"ship_country"`
	AmountKRW     float64 `json:"amount_krw"`
	Category      string  `json:"category"`
}

// CategoryMap maps a product id to its category label.
type CategoryMap map[string]string

// AggregationBucket accumulates one product's figures within a country filter.
type AggregationBucket struct {
	ProductID   string  `json:"product_id"`
	TotalAmount float64 `json:"total_amount"`
	Count       int     `json:"count"`
}

// TopNRow is one ranked product of a Top-N result.
type TopNRow struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Brand       string  `json:"brand"`
	Category    string  `json:"category"`
	AmountKRW   float64 `json:"amount_krw"`
	Quantity    int     `json:"quantity"`
}

// MarshalJSON writes non-finite amounts as null; encoding/json rejects NaN.
func (r SalesRecord) MarshalJSON() ([]byte, error) {
	type alias SalesRecord
	return json.Marshal(struct {
		alias
		AmountKRW *float64 `json:"amount_krw"`
	}{
		alias:     alias(r),
		AmountKRW: finite(r.AmountKRW),
	})
}

// MarshalJSON writes a non-finite total as null.
func (r TopNRow) MarshalJSON() ([]byte, error) {
	type alias TopNRow
	return json.Marshal(struct {
		alias
		AmountKRW *float64 `json:"amount_krw"`
	}{
		alias:     alias(r),
		AmountKRW: finite(r.AmountKRW),
	})
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
