package product

import (
	"errors"
	"testing"
)

func TestDecodeEnvelopeAndSellerVariants(t *testing.T) {
	cases := []struct {
		name     string
		payload  string
		wantID   string
		wantSell string
	}{
		{"envelope with populated seller", `{"product":{"_id":"p1","name":"A","price":1,"seller":{"_id":"s1","name":"Shop"}}}`, "p1", "s1"},
		{"bare record with seller id", `{"id":"p2","name":"B","price":2,"seller":"s2"}`, "p2", "s2"},
		{"seller falls back to sellerId", `{"_id":"p3","price":3,"sellerId":"s3"}`, "p3", "s3"},
		{"seller object with id only", `{"_id":"p4","seller":{"id":"s4"}}`, "p4", "s4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.payload))
			if err != nil {
				t.Fatalf("Decode returned error: %v", err)
			}
			if got.ID != tc.wantID || got.SellerID != tc.wantSell {
				t.Fatalf("got id=%q seller=%q, want id=%q seller=%q", got.ID, got.SellerID, tc.wantID, tc.wantSell)
			}
		})
	}
}

func TestDecodeNullProduct(t *testing.T) {
	_, err := Decode([]byte(`{"success":false,"product":null}`))
	if !errors.Is(err, ErrMissingRecord) {
		t.Fatalf("expected ErrMissingRecord, got %v", err)
	}
}

func TestDecodeMissingID(t *testing.T) {
	if _, err := Decode([]byte(`{"name":"nameless"}`)); err == nil {
		t.Fatalf("expected error for record without id")
	}
}

func TestSummaryPricing(t *testing.T) {
	discounted := 75.0
	s := Summary{Price: 100, DiscountedPrice: &discounted, Stock: 1}
	if s.EffectivePrice() != 75 {
		t.Fatalf("effective price = %v", s.EffectivePrice())
	}
	if s.DiscountPercent() != 25 {
		t.Fatalf("discount = %d", s.DiscountPercent())
	}
	if !s.InStock() {
		t.Fatalf("expected in stock")
	}

	higher := 120.0
	s.DiscountedPrice = &higher
	if s.EffectivePrice() != 100 || s.DiscountPercent() != 0 {
		t.Fatalf("discount above list price must be ignored")
	}
	if (Summary{}).PrimaryImage() != "" {
		t.Fatalf("expected empty primary image")
	}
}
