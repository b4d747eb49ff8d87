package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestFastPathNoTelemetry(t *testing.T) {
	t.Parallel()

	// Create an error with no reporter installed - should use fast path
	err := fmt.Errorf("test error")
	ee := New(err).Build()

	if ee.Err.Error() != "test error" {
		t.Errorf("Expected error message 'test error', got '%s'", ee.Err.Error())
	}

	if ee.GetComponent() != "unknown" {
		t.Errorf("Expected component 'unknown' in fast path, got '%s'", ee.GetComponent())
	}

	if ee.Category != CategoryGeneric {
		t.Errorf("Expected category 'generic' in fast path, got '%s'", ee.Category)
	}
}

func TestBuilderCarriesContext(t *testing.T) {
	t.Parallel()

	ee := Newf("node agent rejected document").
		Component("facility-lt").
		Category(CategoryFacility).
		Context("operation", "submit").
		Context("request_id", 42).
		Build()

	if ee.GetComponent() != "facility-lt" {
		t.Errorf("Expected component 'facility-lt', got '%s'", ee.GetComponent())
	}
	if ee.Category != CategoryFacility {
		t.Errorf("Expected category facility, got '%s'", ee.Category)
	}

	ctx := ee.GetContext()
	if ctx["operation"] != "submit" {
		t.Errorf("Expected operation context 'submit', got %v", ctx["operation"])
	}
	if ctx["request_id"] != 42 {
		t.Errorf("Expected request_id context 42, got %v", ctx["request_id"])
	}
}

func TestCategoryDetection(t *testing.T) {
	t.Parallel()

	cases := []struct {
		msg  string
		want ErrorCategory
	}{
		{"RTML document missing Target element", CategoryFacility},
		{"failed to decrypt altdata", CategoryCredentials},
		{"milvus collection not loaded", CategorySearch},
		{"permission denied for group", CategoryUnauthorized},
		{"UNIQUE constraint failed: annotations.origin", CategoryConflict},
		{"dial tcp 10.0.0.1:8080: connection refused", CategoryNetwork},
	}

	for _, tc := range cases {
		got := detectCategory(fmt.Errorf("%s", tc.msg), "")
		if got != tc.want {
			t.Errorf("detectCategory(%q) = %s, want %s", tc.msg, got, tc.want)
		}
	}
}

func TestCategoryPredicates(t *testing.T) {
	t.Parallel()

	nf := Newf("spectrum not found").Category(CategoryNotFound).Build()
	if !IsNotFound(nf) {
		t.Error("IsNotFound should match CategoryNotFound errors")
	}
	if IsConflict(nf) {
		t.Error("IsConflict should not match CategoryNotFound errors")
	}

	wrapped := fmt.Errorf("handler: %w", nf)
	if !IsNotFound(wrapped) {
		t.Error("IsNotFound should match through wrapping")
	}
}

func TestCredentialScrubbing(t *testing.T) {
	t.Parallel()

	// URL query strings are stripped wholesale
	scrubbed := basicCredentialScrub("Error at https://api.example.com?api_key=secret123&token=abc")
	if want := "Error at https://api.example.com?[REDACTED]"; scrubbed != want {
		t.Errorf("URL scrubbing failed. Expected: %s, got: %s", want, scrubbed)
	}

	// Facility credentials never survive in free text
	scrubbed = basicCredentialScrub(`soap auth failed: username="ltops" password="hunter2"`)
	if strings.Contains(scrubbed, "ltops") || strings.Contains(scrubbed, "hunter2") {
		t.Errorf("Credential scrubbing failed. Sensitive data still present: %s", scrubbed)
	}

	scrubbed = basicCredentialScrub("Auth failed with token=abc123 and auth=xyz789")
	if strings.Contains(scrubbed, "abc123") || strings.Contains(scrubbed, "xyz789") {
		t.Errorf("Token scrubbing failed. Sensitive data still present: %s", scrubbed)
	}
}
