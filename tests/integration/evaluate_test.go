//go:build integration
// +build integration

// Package integration provides end-to-end tests for the pricing engine.
//
// These tests verify the COMPLETE quotation pipeline:
//
//	Request → Bindings → Formula → Charges → Taxes → Fees → Totals
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. CALC RULE: A versioned pricing product definition. Each rule has:
//   - Parameters: declared inputs (number, select, boolean, date, text)
//   - Formulas: named variants; an empty expression falls back to the
//     rule's base formula
//   - Tables: LOOKUP (key -> value) and BRACKET (interval -> value) data
//   - Charges, taxes, and fees applied in that order
//
// 2. QUOTATION: The full breakdown returned by POST /evaluate:
//   - primeNette         net premium from the formula
//   - primeNetteAjustee  net premium plus loadings
//   - primeTTC           adjusted net plus taxes
//   - totalAPayer        prime TTC plus fees
//
// The tests seed their own rule through POST /rules; the server only
// needs to be running with a writable database.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("TARIF_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: "test-tenant",
	}
}

// ============================================================================
// API Request/Response Types (matching the API contract)
// ============================================================================

// QuoteRequest is the body sent to POST /evaluate
type QuoteRequest struct {
	CalcRuleID          string            `json:"calcRuleId"`
	Parameters          map[string]string `json:"parameters"`
	SelectedFormulaCode string            `json:"selectedFormulaCode,omitempty"`
	PackageCode         string            `json:"packageCode,omitempty"`
	OptionCodes         []string          `json:"optionCodes,omitempty"`
}

// QuoteResponse is what POST /evaluate returns
type QuoteResponse struct {
	ID          string           `json:"id"`
	RuleID      string           `json:"ruleId"`
	RuleVersion int              `json:"ruleVersion"`
	FormulaCode string           `json:"formulaCode"`
	PrimeNette  float64          `json:"primeNette"`
	AdjustedNet float64          `json:"primeNetteAjustee"`
	TotalTaxes  float64          `json:"totalTaxes"`
	PrimeTTC    float64          `json:"primeTTC"`
	TotalFees   float64          `json:"totalFees"`
	TotalDue    float64          `json:"totalAPayer"`
	Guarantees  []map[string]any `json:"guarantees"`
	Metadata    ResponseMetadata `json:"metadata"`
}

type ResponseMetadata struct {
	TraceID       string `json:"traceId"`
	EvalMs        int64  `json:"evalMs"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

// seedRule installs the shared test rule. The rule exercises every table
// type and pipeline stage:
//
//	net = capital * LOOKUP(zone, "ZONE_TAUX") / 100 * BRACKET(age_conducteur, "AGE_COEFF")
//
// with a 10% management loading, 18% VAT, a flat 2000 fee, and a 1000
// fee that only applies to drivers under 25.
func seedRule(t *testing.T, config TestConfig) {
	t.Helper()

	rule := map[string]any{
		"id":          "auto-tpl-ci",
		"type":        "non-vie",
		"name":        "Auto responsabilité civile",
		"version":     1,
		"isActive":    true,
		"baseFormula": `capital * LOOKUP(zone, "ZONE_TAUX") / 100 * BRACKET(age_conducteur, "AGE_COEFF")`,
		"parameters": []map[string]any{
			{"code": "capital", "label": "Capital assuré", "type": "number", "required": true},
			{"code": "zone", "label": "Zone de circulation", "type": "select", "options": []string{"ABIDJAN", "INTERIEUR"}, "required": true},
			{"code": "age_conducteur", "label": "Age du conducteur", "type": "number", "required": true},
		},
		"formulas": []map[string]any{
			{"code": "TIERS", "name": "Tiers simple"},
			{
				"code":    "PREMIUM",
				"name":    "Premium",
				"formula": `MAX(capital * LOOKUP(zone, "ZONE_TAUX") / 100 * BRACKET(age_conducteur, "AGE_COEFF"), 25000)`,
				"guarantees": []map[string]any{
					{"code": "RC", "label": "Responsabilité civile", "isRequired": true},
				},
			},
		},
		"tables": []map[string]any{
			{
				"code": "ZONE_TAUX",
				"type": "key_value",
				"keyValue": map[string]float64{
					"ABIDJAN":   3.0,
					"INTERIEUR": 2.0,
				},
			},
			{
				"code": "AGE_COEFF",
				"type": "brackets",
				"brackets": []map[string]any{
					{"min": 18, "max": 25, "value": 1.5},
					{"min": 25, "max": 70, "value": 1.0},
				},
			},
		},
		"charges": []map[string]any{
			{"code": "GESTION", "name": "Frais de gestion", "kind": "RATE", "value": "10", "category": "CHARGEMENT", "isActive": true},
		},
		"taxes": []map[string]any{
			{"code": "TVA", "name": "TVA", "rate": 18, "isActive": true},
		},
		"fees": []map[string]any{
			{"code": "ACC", "name": "Frais accessoires", "amount": 2000},
			{"code": "JEUNE", "name": "Surprime jeune conducteur", "amount": 1000, "condition": "age_conducteur < 25"},
		},
	}

	body, err := json.Marshal(rule)
	if err != nil {
		t.Fatalf("Failed to marshal rule: %v", err)
	}

	httpReq, err := http.NewRequest("POST", config.BaseURL+"/rules", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Failed to seed rule: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected 201 seeding rule, got %d: %s", resp.StatusCode, string(respBody))
	}
}

func evaluate(t *testing.T, config TestConfig, req QuoteRequest) QuoteResponse {
	t.Helper()

	resp, respBody := evaluateRaw(t, config, req, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(respBody))
	}

	var result QuoteResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
	}

	return result
}

func evaluateRaw(t *testing.T, config TestConfig, req QuoteRequest, withTenant bool) (*http.Response, []byte) {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequest("POST", config.BaseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if withTenant {
		httpReq.Header.Set("X-Tenant-ID", config.TenantID)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	return resp, respBody
}

func checkInvariants(t *testing.T, q QuoteResponse) {
	t.Helper()

	if got := q.AdjustedNet + q.TotalTaxes; got != q.PrimeTTC {
		t.Errorf("primeTTC %.2f != primeNetteAjustee + totalTaxes (%.2f)", q.PrimeTTC, got)
	}
	if got := q.PrimeTTC + q.TotalFees; got != q.TotalDue {
		t.Errorf("totalAPayer %.2f != primeTTC + totalFees (%.2f)", q.TotalDue, got)
	}
}

// ============================================================================
// SCENARIO 1: Standard Quote (Base Formula)
// ============================================================================

func TestStandardQuote(t *testing.T) {
	/*
	   SCENARIO: 1,000,000 FCFA capital, Abidjan, 30-year-old driver

	   EXPECTED PIPELINE (default config rounds to whole units):
	   - Formula:  1,000,000 * 3.0/100 * 1.0 = 30,000 net
	   - GESTION:  10% of net = 3,000 → adjusted 33,000
	   - TVA:      18% of adjusted = 5,940 → TTC 38,940
	   - ACC fee:  2,000 (JEUNE fee skipped, driver is 30)
	   - Total:    40,940
	*/
	config := getTestConfig()
	seedRule(t, config)

	result := evaluate(t, config, QuoteRequest{
		CalcRuleID: "auto-tpl-ci",
		Parameters: map[string]string{
			"capital":        "1000000",
			"zone":           "ABIDJAN",
			"age_conducteur": "30",
		},
	})

	if result.PrimeNette != 30000 {
		t.Errorf("Expected prime nette 30000, got %.2f", result.PrimeNette)
	}
	if result.AdjustedNet != 33000 {
		t.Errorf("Expected adjusted net 33000, got %.2f", result.AdjustedNet)
	}
	if result.PrimeTTC != 38940 {
		t.Errorf("Expected prime TTC 38940, got %.2f", result.PrimeTTC)
	}
	if result.TotalDue != 40940 {
		t.Errorf("Expected total due 40940, got %.2f", result.TotalDue)
	}
	checkInvariants(t, result)

	t.Logf("✓ Standard quote: net=%.0f, TTC=%.0f, due=%.0f",
		result.PrimeNette, result.PrimeTTC, result.TotalDue)
}

// ============================================================================
// SCENARIO 2: Young Driver (Bracket Table + Conditional Fee)
// ============================================================================

func TestYoungDriverSurcharge(t *testing.T) {
	/*
	   SCENARIO: Same capital, interior zone, 22-year-old driver

	   EXPECTED:
	   - AGE_COEFF bracket [18,25) applies the 1.5 multiplier
	   - Formula:  1,000,000 * 2.0/100 * 1.5 = 30,000 net
	   - GESTION:  3,000 → adjusted 33,000
	   - TVA:      5,940 → TTC 38,940
	   - Fees:     ACC 2,000 + JEUNE 1,000 (condition age < 25 holds)
	   - Total:    41,940
	*/
	config := getTestConfig()
	seedRule(t, config)

	result := evaluate(t, config, QuoteRequest{
		CalcRuleID: "auto-tpl-ci",
		Parameters: map[string]string{
			"capital":        "1000000",
			"zone":           "INTERIEUR",
			"age_conducteur": "22",
		},
	})

	if result.TotalFees != 3000 {
		t.Errorf("Expected fees 3000 (ACC + JEUNE), got %.2f", result.TotalFees)
	}
	if result.TotalDue != 41940 {
		t.Errorf("Expected total due 41940, got %.2f", result.TotalDue)
	}
	checkInvariants(t, result)

	t.Logf("✓ Young driver: fees=%.0f, due=%.0f", result.TotalFees, result.TotalDue)
}

// ============================================================================
// SCENARIO 3: Bracket Boundaries
// ============================================================================

func TestAgeBracketBoundaries(t *testing.T) {
	/*
	   SCENARIO: Brackets are half-open [min, max). Age 25 must fall in the
	   [25,70) bracket (coefficient 1.0), not [18,25).

	   WHY THIS TEST:
	   Boundary conditions catch off-by-one errors in interval logic.
	*/
	config := getTestConfig()
	seedRule(t, config)

	baseParams := func(age string) map[string]string {
		return map[string]string{
			"capital":        "1000000",
			"zone":           "INTERIEUR",
			"age_conducteur": age,
		}
	}

	at24 := evaluate(t, config, QuoteRequest{CalcRuleID: "auto-tpl-ci", Parameters: baseParams("24")})
	at25 := evaluate(t, config, QuoteRequest{CalcRuleID: "auto-tpl-ci", Parameters: baseParams("25")})

	if at24.PrimeNette != 30000 {
		t.Errorf("Expected 30000 net at age 24 (coeff 1.5), got %.2f", at24.PrimeNette)
	}
	if at25.PrimeNette != 20000 {
		t.Errorf("Expected 20000 net at age 25 (coeff 1.0), got %.2f", at25.PrimeNette)
	}

	t.Logf("✓ Bracket boundary: age 24 → %.0f, age 25 → %.0f", at24.PrimeNette, at25.PrimeNette)
}

func TestAgeOutOfRange_Unprocessable(t *testing.T) {
	/*
	   SCENARIO: Age 75 falls outside every AGE_COEFF bracket.

	   EXPECTED: HTTP 422 - the rule is well-formed and the input passed
	   validation, but the computation cannot produce a result.
	*/
	config := getTestConfig()
	seedRule(t, config)

	resp, body := evaluateRaw(t, config, QuoteRequest{
		CalcRuleID: "auto-tpl-ci",
		Parameters: map[string]string{
			"capital":        "1000000",
			"zone":           "ABIDJAN",
			"age_conducteur": "75",
		},
	}, true)

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for out-of-range age, got %d: %s", resp.StatusCode, string(body))
	}

	t.Logf("✓ Out-of-range bracket input → HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 4: Formula Selection
// ============================================================================

func TestFormulaSelection(t *testing.T) {
	/*
	   SCENARIO: The PREMIUM formula wraps the base expression in a
	   MAX(..., 25000) floor and carries the RC guarantee.

	   With capital 500,000 / INTERIEUR / age 30:
	   - Raw formula result: 500,000 * 2.0/100 * 1.0 = 10,000
	   - Floor applies:      net = 25,000
	   - GESTION 2,500 → adjusted 27,500; TVA 4,950 → TTC 32,450
	   - ACC 2,000 → total 34,450

	   The TIERS formula has no expression of its own and must fall back
	   to the base formula (net 10,000).
	*/
	config := getTestConfig()
	seedRule(t, config)

	params := map[string]string{
		"capital":        "500000",
		"zone":           "INTERIEUR",
		"age_conducteur": "30",
	}

	premium := evaluate(t, config, QuoteRequest{
		CalcRuleID:          "auto-tpl-ci",
		Parameters:          params,
		SelectedFormulaCode: "PREMIUM",
	})

	if premium.PrimeNette != 25000 {
		t.Errorf("Expected floored net 25000 for PREMIUM, got %.2f", premium.PrimeNette)
	}
	if premium.TotalDue != 34450 {
		t.Errorf("Expected total due 34450 for PREMIUM, got %.2f", premium.TotalDue)
	}
	if premium.FormulaCode != "PREMIUM" {
		t.Errorf("Expected formulaCode PREMIUM, got %q", premium.FormulaCode)
	}
	if len(premium.Guarantees) != 1 {
		t.Errorf("Expected 1 guarantee echoed, got %d", len(premium.Guarantees))
	}

	tiers := evaluate(t, config, QuoteRequest{
		CalcRuleID:          "auto-tpl-ci",
		Parameters:          params,
		SelectedFormulaCode: "TIERS",
	})
	if tiers.PrimeNette != 10000 {
		t.Errorf("Expected base-formula net 10000 for TIERS, got %.2f", tiers.PrimeNette)
	}

	checkInvariants(t, premium)
	checkInvariants(t, tiers)

	t.Logf("✓ Formula selection: PREMIUM due=%.0f, TIERS net=%.0f", premium.TotalDue, tiers.PrimeNette)
}

func TestUnknownFormula_Conflict(t *testing.T) {
	/*
	   SCENARIO: Selecting a formula code the rule does not define.

	   EXPECTED: HTTP 409 - the request is well-formed but conflicts with
	   the rule's configuration.
	*/
	config := getTestConfig()
	seedRule(t, config)

	resp, body := evaluateRaw(t, config, QuoteRequest{
		CalcRuleID: "auto-tpl-ci",
		Parameters: map[string]string{
			"capital":        "1000000",
			"zone":           "ABIDJAN",
			"age_conducteur": "30",
		},
		SelectedFormulaCode: "GOLD",
	}, true)

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 for unknown formula, got %d: %s", resp.StatusCode, string(body))
	}

	t.Logf("✓ Unknown formula → HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 5: Input Validation
// ============================================================================

func TestMissingRequiredParameter_Error(t *testing.T) {
	/*
	   SCENARIO: Request missing the required capital parameter.

	   EXPECTED: HTTP 400 Bad Request, no quotation computed.
	*/
	config := getTestConfig()
	seedRule(t, config)

	resp, body := evaluateRaw(t, config, QuoteRequest{
		CalcRuleID: "auto-tpl-ci",
		Parameters: map[string]string{
			"zone":           "ABIDJAN",
			"age_conducteur": "30",
		},
	}, true)

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing capital, got %d: %s", resp.StatusCode, string(body))
	}

	t.Logf("✓ Validation test passed: missing capital → HTTP %d", resp.StatusCode)
}

func TestInvalidSelectValue_Error(t *testing.T) {
	/*
	   SCENARIO: zone is a select parameter restricted to its declared
	   options; "PARIS" is not one of them.

	   EXPECTED: HTTP 400 Bad Request.
	*/
	config := getTestConfig()
	seedRule(t, config)

	resp, body := evaluateRaw(t, config, QuoteRequest{
		CalcRuleID: "auto-tpl-ci",
		Parameters: map[string]string{
			"capital":        "1000000",
			"zone":           "PARIS",
			"age_conducteur": "30",
		},
	}, true)

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid select value, got %d: %s", resp.StatusCode, string(body))
	}

	t.Logf("✓ Validation test passed: invalid zone → HTTP %d", resp.StatusCode)
}

func TestMissingTenantHeader_Error(t *testing.T) {
	/*
	   SCENARIO: Request without X-Tenant-ID header.

	   EXPECTED: HTTP 400 - tenant ID is validated as a required field,
	   not as authentication.
	*/
	config := getTestConfig()

	resp, _ := evaluateRaw(t, config, QuoteRequest{
		CalcRuleID: "auto-tpl-ci",
		Parameters: map[string]string{"capital": "1000000"},
	}, false)

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing tenant, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: missing tenant → HTTP %d", resp.StatusCode)
}

func TestUnknownRule_NotFound(t *testing.T) {
	config := getTestConfig()

	resp, _ := evaluateRaw(t, config, QuoteRequest{
		CalcRuleID: fmt.Sprintf("no-such-rule-%d", time.Now().UnixNano()),
		Parameters: map[string]string{"capital": "1000000"},
	}, true)

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown rule, got %d", resp.StatusCode)
	}

	t.Logf("✓ Unknown rule → HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 6: Quotation Persistence and Metadata
// ============================================================================

func TestQuotationPersistedWithMetadata(t *testing.T) {
	/*
	   SCENARIO: A computed quotation is stored and can be fetched back by
	   ID, and the response carries trace and timing metadata.
	*/
	config := getTestConfig()
	seedRule(t, config)

	result := evaluate(t, config, QuoteRequest{
		CalcRuleID: "auto-tpl-ci",
		Parameters: map[string]string{
			"capital":        "1000000",
			"zone":           "ABIDJAN",
			"age_conducteur": "30",
		},
	})

	if result.ID == "" {
		t.Fatal("Missing quotation id")
	}
	if result.Metadata.TraceID == "" {
		t.Error("Missing metadata.traceId")
	}
	// TotalMs can be 0 for sub-millisecond evaluations
	if result.Metadata.TotalMs < 0 {
		t.Error("Invalid metadata.totalMs (negative)")
	}

	httpReq, _ := http.NewRequest("GET", config.BaseURL+"/quotations/"+result.ID, nil)
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 fetching quotation, got %d: %s", resp.StatusCode, string(respBody))
	}

	var stored QuoteResponse
	if err := json.Unmarshal(respBody, &stored); err != nil {
		t.Fatalf("Failed to unmarshal stored quotation: %v", err)
	}
	if stored.TotalDue != result.TotalDue {
		t.Errorf("Stored total %.2f differs from computed %.2f", stored.TotalDue, result.TotalDue)
	}

	t.Logf("✓ Quotation persisted: id=%s, traceId=%s, due=%.0f",
		result.ID[:8], result.Metadata.TraceID[:8], result.TotalDue)
}
