package stages

import (
	"encoding/json"
	"fmt"

	"github.com/dukex/sellflow/pkg/models"
)

// Product is the recognized-product descriptor committed by the recognition stage.
type Product struct {
	Name        string  `json:"name"`
	Brand       string  `json:"brand"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// PriceOptimization is the price window computed by the pricing stage.
type PriceOptimization struct {
	Min          float64 `json:"min"`
	Optimal      float64 `json:"optimal"`
	Max          float64 `json:"max"`
	NetProfit    float64 `json:"net_profit"`
	IsProfitable bool    `json:"is_profitable"`
}

// PriceBreakdown is the pricing stage artifact.
type PriceBreakdown struct {
	PriceOptimization PriceOptimization `json:"price_optimization"`
	ProductCard       map[string]any    `json:"product_card"`
}

// CreativeImage is the generated listing image.
type CreativeImage struct {
	ImageBase64 string         `json:"image_base64"`
	MimeType    string         `json:"mime_type"`
	Metadata    map[string]any `json:"metadata"`
}

// PublishConfirmation is the marketplace acknowledgement of a listing.
type PublishConfirmation struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Status    string `json:"status"`
}

// ProductFrom decodes a recognition artifact.
func ProductFrom(a models.Artifact) (Product, error) {
	var out struct {
		Product Product `json:"product"`
	}

	if err := decode(a, Recognition, &out); err != nil {
		return Product{}, err
	}

	return out.Product, nil
}

// PriceBreakdownFrom decodes a pricing artifact.
func PriceBreakdownFrom(a models.Artifact) (PriceBreakdown, error) {
	var out PriceBreakdown

	return out, decode(a, Pricing, &out)
}

// CreativeFrom decodes a creative artifact.
func CreativeFrom(a models.Artifact) (CreativeImage, error) {
	var out CreativeImage

	return out, decode(a, Creative, &out)
}

// PublishConfirmationFrom decodes a publish artifact. Marketplaces return numeric product
// ids, so the id is normalized to a string.
func PublishConfirmationFrom(a models.Artifact) (PublishConfirmation, error) {
	var out struct {
		ProductID any    `json:"product_id"`
		SKU       string `json:"sku"`
		Status    string `json:"status"`
	}

	if err := decode(a, Publish, &out); err != nil {
		return PublishConfirmation{}, err
	}

	confirmation := PublishConfirmation{SKU: out.SKU, Status: out.Status}

	switch id := out.ProductID.(type) {
	case nil:
	case string:
		confirmation.ProductID = id
	case float64:
		confirmation.ProductID = fmt.Sprintf("%.0f", id)
	default:
		confirmation.ProductID = fmt.Sprint(id)
	}

	return confirmation, nil
}

func decode(a models.Artifact, stageID string, out any) error {
	if a.StageID != stageID {
		return fmt.Errorf("artifact of stage %s is not a %s artifact", a.StageID, stageID)
	}

	raw, err := json.Marshal(a.Data)
	if err != nil {
		return fmt.Errorf("failed to encode %s artifact: %w", stageID, err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s artifact: %w", stageID, err)
	}

	return nil
}
