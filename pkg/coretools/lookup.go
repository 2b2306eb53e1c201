package coretools

import (
	"context"
	"fmt"
	"math"

	"github.com/harun/voxrelay/pkg/catalog"
	"github.com/harun/voxrelay/pkg/toolexecutor"
)

func checkServiceAreaTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "check_service_area",
		Description: "Check whether a ZIP code is inside the delivery area.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "zip_code", Type: "string|number", Description: "5-digit ZIP code", Required: true, Aliases: []string{"zipCode"}},
		},
		Handler: func(ctx context.Context, call toolexecutor.Call) (toolexecutor.Result, error) {
			raw, _ := call.String("zip_code", "zipCode")
			zip := catalog.NormalizeZIP(raw)
			if zip == "" {
				return nil, toolexecutor.Invalid("zip_code must contain digits")
			}

			serviced := opts.ServiceArea.Contains(zip)
			message := fmt.Sprintf("Sorry, ZIP code %s is outside our current service area. We currently deliver to %s.", zip, Regions)
			if serviced {
				message = fmt.Sprintf("Yes, we service ZIP code %s! It's within our delivery area covering %s.", zip, Regions)
			}

			return toolexecutor.Result{
				"in_service_area": serviced,
				"zip_code":        zip,
				"message":         message,
			}, nil
		},
	}
}

func materialsByZIPTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "get_materials_by_zip",
		Description: "List the materials that can be delivered to a ZIP code.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "zip_code", Type: "string|number", Description: "5-digit ZIP code", Required: true, Aliases: []string{"zip"}},
		},
		Handler: func(ctx context.Context, call toolexecutor.Call) (toolexecutor.Result, error) {
			raw, _ := call.String("zip_code", "zip")
			zip := catalog.NormalizeZIP(raw)
			if zip == "" {
				return nil, toolexecutor.Invalid("zip_code must contain digits")
			}

			if !opts.ServiceArea.Contains(zip) {
				return toolexecutor.Result{
					"available": false,
					"materials": []interface{}{},
					"message":   fmt.Sprintf("ZIP code %s is outside our delivery area. We service %s.", zip, Regions),
				}, nil
			}

			all := opts.Catalog.All()
			fee := opts.Catalog.DeliveryFee()
			materials := make([]map[string]interface{}, 0, len(all))
			for _, m := range all {
				materials = append(materials, map[string]interface{}{
					"id":      m.ProductID,
					"name":    m.Name,
					"price":   m.Price,
					"unit":    m.Unit,
					"minimum": m.Minimum,
				})
			}

			return toolexecutor.Result{
				"available":    true,
				"materials":    materials,
				"delivery_fee": fee,
				"message": fmt.Sprintf("We have %d materials available for delivery to %s. Delivery fee is $%s.",
					len(materials), zip, formatNumber(fee)),
			}, nil
		},
	}
}

func materialDetailsTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "get_material_details",
		Description: "Get price, unit and minimum order for one material.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "material_id", Type: "number|string", Description: "Product ID from get_materials_by_zip", Required: true},
		},
		Handler: func(ctx context.Context, call toolexecutor.Call) (toolexecutor.Result, error) {
			id, err := call.Number("material_id")
			if err != nil {
				return nil, err
			}

			notFound := toolexecutor.Result{
				"found":   false,
				"message": fmt.Sprintf("Material with ID %s not found.", formatNumber(id)),
			}
			if id != math.Trunc(id) {
				return notFound, nil
			}
			m, ok := opts.Catalog.ByProductID(int(id))
			if !ok {
				return notFound, nil
			}

			fee := opts.Catalog.DeliveryFee()
			plural := ""
			if m.Minimum > 1 {
				plural = "s"
			}
			return toolexecutor.Result{
				"found":        true,
				"id":           m.ProductID,
				"name":         m.Name,
				"price":        m.Price,
				"unit":         m.Unit,
				"minimum":      m.Minimum,
				"delivery_fee": fee,
				"description":  m.Description,
				"message": fmt.Sprintf("%s is $%s per %s with a minimum order of %s %s%s. Delivery is $%s.",
					m.Name, formatNumber(m.Price), m.Unit, formatNumber(m.Minimum), m.Unit, plural, formatNumber(fee)),
			}, nil
		},
	}
}

func calculateQuantityTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "calculate_quantity",
		Description: "Estimate cubic yards of material for an area.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "length", Type: "number|string", Description: "Length in feet", Required: true},
			{Name: "width", Type: "number|string", Description: "Width in feet", Required: true},
			{Name: "depth", Type: "number|string", Description: "Depth in inches", Required: true},
		},
		Handler: func(ctx context.Context, call toolexecutor.Call) (toolexecutor.Result, error) {
			dims := make([]float64, 0, 3)
			for _, key := range []string{"length", "width", "depth"} {
				v, err := call.Number(key)
				if err != nil {
					return nil, err
				}
				if v <= 0 {
					return nil, toolexecutor.Invalid("%s must be greater than zero", key)
				}
				dims = append(dims, v)
			}

			est := EstimateQuantity(dims[0], dims[1], dims[2])
			if !est.Finite() {
				return nil, toolexecutor.Invalid("dimensions are too large")
			}
			return toolexecutor.Result{
				"length_ft":   est.LengthFt,
				"width_ft":    est.WidthFt,
				"depth_in":    est.DepthIn,
				"cubic_feet":  est.CubicFeet,
				"cubic_yards": est.CubicYards,
				"formula":     QuantityFormula,
				"message": fmt.Sprintf("For an area %s' × %s' with %s\" depth, you'll need approximately %s cubic yards of material.",
					formatNumber(est.LengthFt), formatNumber(est.WidthFt), formatNumber(est.DepthIn), formatNumber(est.CubicYards)),
			}, nil
		},
	}
}

const (
	// AlternateYardSource is the yard that covers ZIP codes outside the
	// primary delivery area.
	AlternateYardSource = "Nearby Yard (15 miles)"
	// AlternateYardSurcharge is added to the delivery fee for that yard.
	AlternateYardSurcharge = 25.0

	primaryYardSource = "Main Yard"
)

func alternateZIPMaterialTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "get_alternate_zip_material",
		Description: "Find which yard can deliver to a ZIP code outside the primary area, and the surcharge.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "zip_code", Type: "string|number", Description: "5-digit ZIP code", Required: true, Aliases: []string{"zip"}},
			{Name: "material_id", Type: "number|string", Description: "Product ID to check, optional"},
		},
		Handler: func(ctx context.Context, call toolexecutor.Call) (toolexecutor.Result, error) {
			raw, _ := call.String("zip_code", "zip")
			zip := catalog.NormalizeZIP(raw)
			if zip == "" {
				return nil, toolexecutor.Invalid("zip_code must contain digits")
			}

			source, surcharge := AlternateYardSource, AlternateYardSurcharge
			if opts.ServiceArea.Contains(zip) {
				source, surcharge = primaryYardSource, 0
			}
			result := toolexecutor.Result{
				"available":          true,
				"zip_code":           zip,
				"source":             source,
				"delivery_surcharge": surcharge,
				"delivery_fee":       opts.Catalog.DeliveryFee() + surcharge,
			}

			what := "materials"
			if _, given := call.Value("material_id"); given {
				id, err := call.Number("material_id")
				if err != nil {
					return nil, err
				}
				m, ok := catalog.Material{}, false
				if id == math.Trunc(id) {
					m, ok = opts.Catalog.ByProductID(int(id))
				}
				if !ok {
					return toolexecutor.Result{
						"available": false,
						"zip_code":  zip,
						"message":   fmt.Sprintf("Material with ID %s not found.", formatNumber(id)),
					}, nil
				}
				result["material"] = m.Name
				result["id"] = m.ProductID
				what = m.Name
			}

			if surcharge == 0 {
				result["message"] = fmt.Sprintf("%s is in our delivery area, so %s ships from our %s at the regular delivery fee.", zip, what, primaryYardSource)
			} else {
				result["message"] = fmt.Sprintf("We can deliver %s to %s from our %s for an extra $%s.", what, zip, AlternateYardSource, formatNumber(surcharge))
			}
			return result, nil
		},
	}
}
