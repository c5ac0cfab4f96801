package product

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/bytedance/sonic"
)

// ErrMissingRecord is returned for an empty {"product": null} envelope.
var ErrMissingRecord = errors.New("product record missing")

// Summary is the catalog record rendered as a product card inside the chat.
type Summary struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Price           float64  `json:"price"`
	DiscountedPrice *float64 `json:"discountedPrice,omitempty"`
	Images          []string `json:"images"`
	AverageRating   float64  `json:"averageRating"`
	Stock           int      `json:"stock"`
	Category        string   `json:"category"`
	SellerID        string   `json:"sellerId"`
}

// PrimaryImage returns the first image, if any.
func (s Summary) PrimaryImage() string {
	if len(s.Images) == 0 {
		return ""
	}
	return s.Images[0]
}

// EffectivePrice is what the cart charges: the discounted price when it undercuts the list price.
func (s Summary) EffectivePrice() float64 {
	if s.DiscountedPrice != nil && *s.DiscountedPrice > 0 && *s.DiscountedPrice < s.Price {
		return *s.DiscountedPrice
	}
	return s.Price
}

// DiscountPercent returns the rounded discount shown on the card, 0 without a discount.
func (s Summary) DiscountPercent() int {
	if s.Price <= 0 || s.EffectivePrice() >= s.Price {
		return 0
	}
	return int(math.Round((s.Price - s.EffectivePrice()) / s.Price * 100))
}

// InStock reports whether the product can be added to the cart.
func (s Summary) InStock() bool {
	return s.Stock > 0
}

// catalogRecord mirrors the loosely typed backend payload.
type catalogRecord struct {
	MongoID         string          `json:"_id"`
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Price           float64         `json:"price"`
	DiscountedPrice *float64        `json:"discountedPrice"`
	Images          []string        `json:"images"`
	AverageRating   float64         `json:"averageRating"`
	Stock           int             `json:"stock"`
	Category        string          `json:"category"`
	Seller          json.RawMessage `json:"seller"`
	SellerID        string          `json:"sellerId"`
}

type sellerRef struct {
	MongoID string `json:"_id"`
	ID      string `json:"id"`
	Name    string `json:"name"`
}

// Decode parses a backend product record. It accepts both the bare record and the
// {"product": {...}} envelope returned by GET /products/:id.
func Decode(data []byte) (Summary, error) {
	var envelope struct {
		Product json.RawMessage `json:"product"`
	}
	if err := sonic.Unmarshal(data, &envelope); err != nil {
		return Summary{}, fmt.Errorf("decode product: %w", err)
	}
	if len(envelope.Product) > 0 {
		if bytes.Equal(bytes.TrimSpace(envelope.Product), []byte("null")) {
			return Summary{}, ErrMissingRecord
		}
		data = envelope.Product
	}

	var rec catalogRecord
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return Summary{}, fmt.Errorf("decode product: %w", err)
	}

	id := strings.TrimSpace(rec.MongoID)
	if id == "" {
		id = strings.TrimSpace(rec.ID)
	}
	if id == "" {
		return Summary{}, fmt.Errorf("decode product: missing id")
	}

	sellerID, err := decodeSeller(rec.Seller)
	if err != nil {
		return Summary{}, err
	}
	if sellerID == "" {
		sellerID = rec.SellerID
	}

	return Summary{
		ID:              id,
		Name:            rec.Name,
		Price:           rec.Price,
		DiscountedPrice: rec.DiscountedPrice,
		Images:          append([]string(nil), rec.Images...),
		AverageRating:   clampRating(rec.AverageRating),
		Stock:           max(rec.Stock, 0),
		Category:        rec.Category,
		SellerID:        sellerID,
	}, nil
}

// seller is either a plain id or a populated {_id, name} document.
func decodeSeller(raw []byte) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var id string
		if err := sonic.Unmarshal(raw, &id); err != nil {
			return "", fmt.Errorf("decode seller: %w", err)
		}
		return id, nil
	}
	var ref sellerRef
	if err := sonic.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("decode seller: %w", err)
	}
	if ref.MongoID != "" {
		return ref.MongoID, nil
	}
	return ref.ID, nil
}

func clampRating(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 5 {
		return 5
	}
	return v
}
