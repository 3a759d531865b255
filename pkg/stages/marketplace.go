// Package stages declares the built-in marketplace onboarding pipeline and typed views
// over the artifacts its stages commit.
package stages

import (
	"time"

	"github.com/dukex/sellflow/pkg/models"
)

// Stage ids of the built-in pipeline.
const (
	Recognition = "recognition"
	Pricing     = "pricing"
	Creative    = "creative"
	Publish     = "publish"
)

// Endpoints locates the remote collaborators of the built-in pipeline.
type Endpoints struct {
	RecognitionURL string        `validate:"required,url"`
	PricingURL     string        `validate:"required,url"`
	CreativeURL    string        `validate:"required,url"`
	PublishURL     string        `validate:"required,url"`
	PublishOTPURL  string        `validate:"required,url"`
	Timeout        time.Duration `validate:"gte=0"`
}

// Marketplace returns the scan -> price -> creative -> publish pipeline.
func Marketplace(endpoints Endpoints) []models.Stage {
	op := func(name, url string) models.OperationSpec {
		return models.OperationSpec{Name: name, URL: url, Method: "POST", Timeout: endpoints.Timeout}
	}

	otp := op("publish_otp", endpoints.PublishOTPURL)

	return []models.Stage{
		{
			ID:          Recognition,
			Label:       "Recognize product",
			Description: "Identify the product on the captured image",
			Inputs: []models.InputSpec{
				{Key: "image", Type: models.InputTypeBytes},
				{Key: "mime_type", Type: models.InputTypeString, Optional: true, Default: "image/jpeg"},
			},
			Operation:      op("recognize", endpoints.RecognitionURL),
			ResponseSchema: recognitionSchema,
		},
		{
			ID:          Pricing,
			Label:       "Price and product card",
			Description: "Compute the price window and assemble the product card",
			Inputs: []models.InputSpec{
				{Key: "cost_price", Type: models.InputTypeNumber},
				{Key: "quantity", Type: models.InputTypeNumber, Optional: true, Default: 1},
				{Key: "category", From: Recognition, Field: "product.category", Type: models.InputTypeString},
				{Key: "product_name", From: Recognition, Field: "product.name", Type: models.InputTypeString},
				{Key: "weight", Type: models.InputTypeNumber, Optional: true},
				{Key: "fulfillment", Type: models.InputTypeString, Optional: true, Default: "fbo"},
			},
			Rules: []string{
				"cost_price > 0",
				"quantity >= 1",
				`fulfillment in ["fbo", "fbs", "dbs"]`,
			},
			Operation:      op("price", endpoints.PricingURL),
			ResponseSchema: pricingSchema,
		},
		{
			ID:          Creative,
			Label:       "Generate creative",
			Description: "Render the listing infographic",
			Inputs: []models.InputSpec{
				{Key: "product_name", From: Recognition, Field: "product.name", Type: models.InputTypeString},
				{Key: "brand", From: Recognition, Field: "product.brand", Type: models.InputTypeString, Optional: true},
				{Key: "features", Type: models.InputTypeList, Optional: true, Default: []any{}},
				{Key: "template_id", Type: models.InputTypeString, Optional: true, Default: "classic"},
				{Key: "marketplace", Type: models.InputTypeString, Optional: true, Default: "uzum"},
			},
			Operation:      op("generate_creative", endpoints.CreativeURL),
			ResponseSchema: creativeSchema,
		},
		{
			ID:          Publish,
			Label:       "Publish listing",
			Description: "Create the listing on the marketplace",
			Inputs: []models.InputSpec{
				{Key: "card", From: Pricing, Field: "product_card", Type: models.InputTypeAny},
				{Key: "price", From: Pricing, Field: "price_optimization.optimal", Type: models.InputTypeNumber},
				{Key: "image_base64", From: Creative, Field: "image_base64", Type: models.InputTypeBytes},
				{Key: "image_mime_type", From: Creative, Field: "mime_type", Type: models.InputTypeString, Optional: true},
				{Key: "marketplace", Type: models.InputTypeString, Optional: true, Default: "uzum"},
			},
			Operation:      op("publish", endpoints.PublishURL),
			Challenge:      &otp,
			Idempotent:     true,
			ResponseSchema: publishSchema,
		},
	}
}

var recognitionSchema = map[string]any{
	"type":     "object",
	"required": []any{"product"},
	"properties": map[string]any{
		"product": map[string]any{
			"type":     "object",
			"required": []any{"name"},
			"properties": map[string]any{
				"name":       map[string]any{"type": "string", "minLength": 1},
				"brand":      map[string]any{"type": "string"},
				"category":   map[string]any{"type": "string"},
				"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 100},
			},
		},
	},
}

var pricingSchema = map[string]any{
	"type":     "object",
	"required": []any{"price_optimization"},
	"properties": map[string]any{
		"price_optimization": map[string]any{
			"type":     "object",
			"required": []any{"optimal"},
			"properties": map[string]any{
				"min":           map[string]any{"type": "number"},
				"optimal":       map[string]any{"type": "number"},
				"max":           map[string]any{"type": "number"},
				"net_profit":    map[string]any{"type": "number"},
				"is_profitable": map[string]any{"type": "boolean"},
			},
		},
		"product_card": map[string]any{"type": "object"},
	},
}

var creativeSchema = map[string]any{
	"type":     "object",
	"required": []any{"image_base64"},
	"properties": map[string]any{
		"image_base64": map[string]any{"type": "string", "minLength": 1},
		"mime_type":    map[string]any{"type": "string"},
		"metadata":     map[string]any{"type": "object"},
	},
}

var publishSchema = map[string]any{
	"type": "object",
	"anyOf": []any{
		map[string]any{"required": []any{"product_id"}},
		map[string]any{"required": []any{"sku"}},
	},
	"properties": map[string]any{
		"product_id": map[string]any{"type": []any{"string", "number"}},
		"sku":        map[string]any{"type": "string"},
		"status":     map[string]any{"type": "string"},
	},
}
