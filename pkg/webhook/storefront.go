package webhook

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/harun/voxrelay/internal/observability"
	"github.com/harun/voxrelay/pkg/catalog"
	"github.com/harun/voxrelay/pkg/retell"
	"github.com/harun/voxrelay/pkg/toolexecutor"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

var (
	fiveDigitZIP = regexp.MustCompile(`^\d{5}$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	nonDigits    = regexp.MustCompile(`\D`)
)

// CallRegistrar registers browser voice calls with the voice platform.
type CallRegistrar interface {
	CreateWebCall(ctx context.Context, agentID string) (retell.WebCall, error)
}

func apiError(status int, code, message string) WebhookResponse {
	return WebhookResponse{
		Status: status,
		Body:   map[string]string{"error": code, "message": message},
	}
}

// CreateMaterialsHandler lists the catalog for a serviced ZIP code.
func CreateMaterialsHandler(cat *catalog.Catalog, area *catalog.ServiceArea) WebhookConfig {
	return WebhookConfig{
		Path:        "/api/materials",
		Method:      http.MethodGet,
		Timeout:     5 * time.Second,
		Description: "Materials available for a ZIP code",
		CORS:        OpenCORS(http.MethodGet),
		Handler: func(params WebhookParams) (WebhookResponse, error) {
			zip := params.Query["zip"]
			if zip == "" {
				return apiError(http.StatusBadRequest, "ZIP code required", "Please provide a 5-digit ZIP code as a query parameter"), nil
			}
			if !fiveDigitZIP.MatchString(zip) {
				return apiError(http.StatusBadRequest, "Invalid ZIP code format", "ZIP code must be exactly 5 digits"), nil
			}

			if !area.Contains(zip) {
				return jsonOK(map[string]interface{}{
					"success":   false,
					"zip":       zip,
					"message":   "Sorry, we don't currently deliver to this ZIP code. We serve Northwest Ohio and surrounding areas.",
					"materials": []interface{}{},
				}), nil
			}

			all := cat.All()
			fee := cat.DeliveryFee()
			materials := make([]map[string]interface{}, 0, len(all))
			for _, m := range all {
				materials = append(materials, map[string]interface{}{
					"id":                   m.ID,
					"name":                 m.Name,
					"type":                 m.Type,
					"description":          m.Description,
					"price_per_cubic_yard": m.Price,
					"minimum_order":        m.Minimum,
					"delivery_fee":         fee,
					"product_id":           m.ProductID,
				})
			}

			return jsonOK(map[string]interface{}{
				"success":   true,
				"zip":       zip,
				"message":   fmt.Sprintf("All %d materials available for delivery to ZIP %s", len(materials), zip),
				"materials": materials,
			}), nil
		},
	}
}

// CreateMaterialHandler serves /api/material/{id}, where id is a product ID
// or an internal catalog ID.
func CreateMaterialHandler(cat *catalog.Catalog) WebhookConfig {
	const prefix = "/api/material/"
	return WebhookConfig{
		Path:        prefix,
		Method:      http.MethodGet,
		Prefix:      true,
		Timeout:     5 * time.Second,
		Description: "Details of one material",
		CORS:        OpenCORS(http.MethodGet),
		Handler: func(params WebhookParams) (WebhookResponse, error) {
			raw := strings.Trim(strings.TrimPrefix(params.Path, prefix), "/")
			id, err := strconv.Atoi(raw)
			if err != nil {
				return apiError(http.StatusBadRequest, "Invalid material ID", "Material ID must be a number"), nil
			}

			m, ok := cat.Lookup(id)
			if !ok {
				return apiError(http.StatusNotFound, "Material not found", fmt.Sprintf("No material found with ID %d", id)), nil
			}

			return jsonOK(map[string]interface{}{
				"success":      true,
				"material":     m,
				"delivery_fee": cat.DeliveryFee(),
			}), nil
		},
	}
}

// MaxCartQuantity caps one cart line, in the material's unit.
const MaxCartQuantity = 10000

// CreateCartHandler prices a cart line from the catalog.
func CreateCartHandler(cat *catalog.Catalog) WebhookConfig {
	return WebhookConfig{
		Path:        "/api/cart",
		Method:      http.MethodPost,
		Timeout:     5 * time.Second,
		Description: "Add an item to the cart",
		CORS:        OpenCORS(http.MethodPost),
		Handler: func(params WebhookParams) (WebhookResponse, error) {
			body, _ := params.Body.(map[string]interface{})
			args := toolexecutor.Call{Arguments: body}

			productID, err := args.Number("product_id")
			if err != nil || productID <= 0 || productID != math.Trunc(productID) {
				return apiError(http.StatusBadRequest, "product_id required", "Please provide a product_id"), nil
			}
			quantity, err := args.Number("quantity")
			if err != nil || quantity < 1 {
				return apiError(http.StatusBadRequest, "Invalid quantity", "Quantity must be at least 1"), nil
			}
			if quantity > MaxCartQuantity {
				return apiError(http.StatusBadRequest, "Invalid quantity",
					fmt.Sprintf("Quantity must be at most %d", MaxCartQuantity)), nil
			}

			m, ok := cat.Lookup(int(productID))
			if !ok {
				return apiError(http.StatusNotFound, "Product not found", fmt.Sprintf("No product found with ID %d", int(productID))), nil
			}

			key, err := gonanoid.New()
			if err != nil {
				return WebhookResponse{}, fmt.Errorf("generate cart item key: %w", err)
			}

			var notes interface{}
			if s, ok := args.String("customer_notes"); ok {
				notes = s
			}

			fee := cat.DeliveryFee()
			subtotal := roundCents(quantity * m.Price)
			return jsonOK(map[string]interface{}{
				"success":        true,
				"message":        "Item added to cart successfully",
				"cart_item_key":  fmt.Sprintf("cart_%d_%s", m.ProductID, key),
				"product_id":     m.ProductID,
				"name":           m.Name,
				"quantity":       quantity,
				"customer_notes": notes,
				"item_count":     quantity,
				"subtotal":       subtotal,
				"delivery_fee":   fee,
				"total":          roundCents(subtotal + fee),
			}), nil
		},
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// CreateCheckoutPrefillHandlers returns the GET (query) and POST (JSON)
// variants of the checkout prefill endpoint.
func CreateCheckoutPrefillHandlers() []WebhookConfig {
	cors := OpenCORS(http.MethodGet, http.MethodPost)

	fromQuery := func(params WebhookParams) map[string]string {
		return params.Query
	}
	fromBody := func(params WebhookParams) map[string]string {
		body, _ := params.Body.(map[string]interface{})
		args := toolexecutor.Call{Arguments: body}
		fields := make(map[string]string)
		for _, k := range []string{"name", "email", "phone", "address", "zip", "delivery_notes"} {
			if v, ok := args.String(k); ok {
				fields[k] = v
			}
		}
		return fields
	}

	return []WebhookConfig{
		{
			Path:        "/api/checkout-prefill",
			Method:      http.MethodGet,
			Timeout:     5 * time.Second,
			Description: "Save checkout details from query parameters",
			CORS:        cors,
			Handler:     prefillHandler(fromQuery),
		},
		{
			Path:        "/api/checkout-prefill",
			Method:      http.MethodPost,
			Timeout:     5 * time.Second,
			Description: "Save checkout details from a JSON body",
			CORS:        cors,
			Handler:     prefillHandler(fromBody),
		},
	}
}

func prefillHandler(extract func(WebhookParams) map[string]string) WebhookHandler {
	return func(params WebhookParams) (WebhookResponse, error) {
		fields := extract(params)
		if msg, code := validateCheckoutFields(fields); code != "" {
			return WebhookResponse{
				Status: http.StatusBadRequest,
				Body: map[string]interface{}{
					"success": false,
					"error":   code,
					"message": msg,
				},
			}, nil
		}

		saved := map[string]interface{}{
			"name":           fields["name"],
			"phone":          fields["phone"],
			"email":          fields["email"],
			"address":        fields["address"],
			"zip":            optional(fields["zip"]),
			"delivery_notes": optional(fields["delivery_notes"]),
			"saved_at":       time.Now().UTC().Format(time.RFC3339),
		}
		return jsonOK(map[string]interface{}{
			"success":    true,
			"message":    "Customer information saved successfully",
			"saved_data": saved,
		}), nil
	}
}

// validateCheckoutFields returns a message and error code, or an empty code
// when the fields are acceptable.
func validateCheckoutFields(fields map[string]string) (string, string) {
	for _, k := range []string{"name", "phone", "email", "address"} {
		if strings.TrimSpace(fields[k]) == "" {
			return "name, phone, email, and address are required", "Missing required fields"
		}
	}
	if !emailPattern.MatchString(fields["email"]) {
		return "Please provide a valid email address", "Invalid email"
	}
	if len(nonDigits.ReplaceAllString(fields["phone"], "")) < 10 {
		return "Please provide a valid phone number", "Invalid phone"
	}
	return "", ""
}

func optional(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// CreateRegisterCallHandler registers a browser web call and returns its
// access token. Upstream failures are logged and reported without detail.
func CreateRegisterCallHandler(registrar CallRegistrar) WebhookConfig {
	return WebhookConfig{
		Path:        "/api/retell/register-call",
		Method:      http.MethodPost,
		Timeout:     20 * time.Second,
		Description: "Register a Retell web call",
		Handler: func(params WebhookParams) (WebhookResponse, error) {
			body, _ := params.Body.(map[string]interface{})
			agentID, _ := body["agent_id"].(string)
			if agentID == "" {
				return jsonError(http.StatusBadRequest, "Agent ID is required"), nil
			}

			call, err := registrar.CreateWebCall(params.Context, agentID)
			observability.RecordCallAudit(params.Context, agentID, call.CallID, err == nil)
			if err != nil {
				log.Error().Err(err).Str("agent_id", agentID).Msg("Failed to register call")
				return jsonError(http.StatusInternalServerError, "Failed to register call"), nil
			}

			return jsonOK(map[string]string{
				"access_token": call.AccessToken,
				"call_id":      call.CallID,
			}), nil
		},
	}
}
