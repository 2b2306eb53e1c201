package webhook

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/harun/voxrelay/pkg/catalog"
	"github.com/harun/voxrelay/pkg/retell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistrar struct {
	agentID string
	call    retell.WebCall
	err     error
}

func (f *fakeRegistrar) CreateWebCall(ctx context.Context, agentID string) (retell.WebCall, error) {
	f.agentID = agentID
	return f.call, f.err
}

func storefrontServer(t *testing.T, registrar CallRegistrar) *Server {
	t.Helper()
	server := createTestServer(t)
	require.NoError(t, server.RegisterRoutes(RouteOptions{
		Dispatcher:  &fakeDispatcher{},
		Queue:       server.commandQueue,
		Catalog:     catalog.Default(),
		ServiceArea: catalog.DefaultServiceArea(),
		Registrar:   registrar,
	}))
	return server
}

func TestMaterialsHandler(t *testing.T) {
	server := storefrontServer(t, nil)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantError  string
		success    bool
	}{
		{name: "missing zip", query: "", wantStatus: http.StatusBadRequest, wantError: "ZIP code required"},
		{name: "short zip", query: "?zip=435", wantStatus: http.StatusBadRequest, wantError: "Invalid ZIP code format"},
		{name: "zip plus four", query: "?zip=43537-1234", wantStatus: http.StatusBadRequest, wantError: "Invalid ZIP code format"},
		{name: "unserviced", query: "?zip=90210", wantStatus: http.StatusOK},
		{name: "serviced", query: "?zip=43537", wantStatus: http.StatusOK, success: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(server, http.MethodGet, "/api/materials"+tt.query, "", nil)
			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

			body := decodeBody(t, rec)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
				return
			}

			assert.Equal(t, tt.success, body["success"])
			materials := body["materials"].([]interface{})
			if !tt.success {
				assert.Empty(t, materials)
				assert.Contains(t, body["message"], "Northwest Ohio")
				return
			}

			require.Len(t, materials, 14)
			assert.Equal(t, "All 14 materials available for delivery to ZIP 43537", body["message"])
			first := materials[0].(map[string]interface{})
			assert.Equal(t, 101.0, first["product_id"])
			assert.Equal(t, 42.0, first["price_per_cubic_yard"])
			assert.Equal(t, 75.0, first["delivery_fee"])
		})
	}
}

func TestMaterialHandler(t *testing.T) {
	server := storefrontServer(t, nil)

	rec := doRequest(server, http.MethodGet, "/api/material/102", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 75.0, body["delivery_fee"])
	material := body["material"].(map[string]interface{})
	assert.Equal(t, "#57 Limestone / Gravel", material["name"])

	rec = doRequest(server, http.MethodGet, "/api/material/2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 102.0, decodeBody(t, rec)["material"].(map[string]interface{})["product_id"])

	rec = doRequest(server, http.MethodGet, "/api/material/999", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Material not found", decodeBody(t, rec)["error"])

	rec = doRequest(server, http.MethodGet, "/api/material/gravel", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid material ID", decodeBody(t, rec)["error"])
}

func TestCartHandler(t *testing.T) {
	server := storefrontServer(t, nil)

	rec := doRequest(server, http.MethodPost, "/api/cart",
		`{"product_id":101,"quantity":3,"customer_notes":"leave by the garage"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "#304 Limestone Base", body["name"])
	assert.Equal(t, 3.0, body["quantity"])
	assert.Equal(t, 126.0, body["subtotal"])
	assert.Equal(t, 201.0, body["total"])
	assert.Equal(t, "leave by the garage", body["customer_notes"])
	assert.True(t, strings.HasPrefix(body["cart_item_key"].(string), "cart_101_"))

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{name: "no product", body: `{"quantity":1}`, wantStatus: http.StatusBadRequest, wantError: "product_id required"},
		{name: "fractional product", body: `{"product_id":101.5,"quantity":1}`, wantStatus: http.StatusBadRequest, wantError: "product_id required"},
		{name: "zero quantity", body: `{"product_id":101,"quantity":0}`, wantStatus: http.StatusBadRequest, wantError: "Invalid quantity"},
		{name: "unknown product", body: `{"product_id":999,"quantity":1}`, wantStatus: http.StatusNotFound, wantError: "Product not found"},
		{name: "huge quantity", body: `{"product_id":101,"quantity":1e307}`, wantStatus: http.StatusBadRequest, wantError: "Invalid quantity"},
		{name: "just over the cap", body: `{"product_id":101,"quantity":10001}`, wantStatus: http.StatusBadRequest, wantError: "Invalid quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(server, http.MethodPost, "/api/cart", tt.body, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, decodeBody(t, rec)["error"])
		})
	}
}

func TestCheckoutPrefillHandlers(t *testing.T) {
	server := storefrontServer(t, nil)

	rec := doRequest(server, http.MethodPost, "/api/checkout-prefill",
		`{"name":"Ada","email":"ada@example.com","phone":"(419) 555-0100","address":"1 Main St","zip":"43537"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	saved := decodeBody(t, rec)["saved_data"].(map[string]interface{})
	assert.Equal(t, "Ada", saved["name"])
	assert.Equal(t, "43537", saved["zip"])
	assert.Nil(t, saved["delivery_notes"])
	assert.NotEmpty(t, saved["saved_at"])

	rec = doRequest(server, http.MethodGet,
		"/api/checkout-prefill?name=Ada&email=ada@example.com&phone=4195550100&address=1+Main+St", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1 Main St", decodeBody(t, rec)["saved_data"].(map[string]interface{})["address"])

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "missing", query: "name=Ada", want: "Missing required fields"},
		{name: "bad email", query: "name=Ada&email=ada&phone=4195550100&address=x", want: "Invalid email"},
		{name: "bad phone", query: "name=Ada&email=ada@example.com&phone=555-0100&address=x", want: "Invalid phone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(server, http.MethodGet, "/api/checkout-prefill?"+tt.query, "", nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.want, body["error"])
		})
	}
}

func TestStorefrontPreflight(t *testing.T) {
	server := storefrontServer(t, nil)

	rec := doRequest(server, http.MethodOptions, "/api/cart", "", map[string]string{"Origin": "https://shop.example"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestRegisterCallHandler(t *testing.T) {
	registrar := &fakeRegistrar{call: retell.WebCall{CallID: "call_abc", AccessToken: "tok_123"}}
	server := storefrontServer(t, registrar)

	rec := doRequest(server, http.MethodPost, "/api/retell/register-call", `{"agent_id":"agent_1"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"access_token":"tok_123","call_id":"call_abc"}`, rec.Body.String())
	assert.Equal(t, "agent_1", registrar.agentID)

	rec = doRequest(server, http.MethodPost, "/api/retell/register-call", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Agent ID is required", decodeBody(t, rec)["error"])

	registrar.err = assert.AnError
	rec = doRequest(server, http.MethodPost, "/api/retell/register-call", `{"agent_id":"agent_1"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to register call", decodeBody(t, rec)["error"])
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}
