package agent

import (
	"errors"
	"testing"

	"github.com/pitabwire/floe/model"
)

func TestParseOutput_singleBlockWithProse(t *testing.T) {
	raw := `Here is the inventory you asked for:
{"datasets": [{"name": "customers.csv", "rows": 1200}]}
Let me know if you need anything else.`

	result, err := ParseOutput(raw, "datasets")
	if err != nil {
		t.Fatalf("ParseOutput() error = %v", err)
	}
	if _, ok := result.Document["datasets"]; !ok {
		t.Errorf("Document = %v, want datasets key", result.Document)
	}
	if result.Raw != raw {
		t.Error("Raw not preserved on the result")
	}
}

func TestParseOutput_prefersNonEmptyKeyMatch(t *testing.T) {
	raw := `First attempt produced nothing: {"datasets": []}
After a second pass: {"datasets": [{"name": "orders.csv"}]} done.`

	result, err := ParseOutput(raw, "datasets")
	if err != nil {
		t.Fatalf("ParseOutput() error = %v", err)
	}
	list, ok := result.Document["datasets"].([]any)
	if !ok || len(list) != 1 {
		t.Errorf("Document[datasets] = %v, want the non-empty candidate", result.Document["datasets"])
	}
}

func TestParseOutput_multipleCandidatesNoneQualify(t *testing.T) {
	raw := `{"other": 1} and {"datasets": []}`

	_, err := ParseOutput(raw, "datasets")
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		t.Fatalf("error type = %T, want *model.ErrorEnvelope", err)
	}
	if ee.Code != model.ErrUnparsableOutput {
		t.Errorf("Code = %q, want %q", ee.Code, model.ErrUnparsableOutput)
	}
	if ee.Details["raw_output"] != raw {
		t.Error("raw output not attached to unparsable error")
	}
}

func TestParseOutput_noJSON(t *testing.T) {
	raw := "I could not find any data to analyze."

	_, err := ParseOutput(raw, "datasets")
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) || ee.Code != model.ErrUnparsableOutput {
		t.Fatalf("ParseOutput() = %v, want UNPARSABLE_OUTPUT", err)
	}
	if ee.Details["raw_output"] != raw {
		t.Error("raw output not attached for diagnostics")
	}
}

func TestParseOutput_singleCandidateUsedAsIs(t *testing.T) {
	// The expected-output contract is a label, not a schema: a lone valid
	// object is accepted even without the expected key.
	result, err := ParseOutput(`{"something_else": true}`, "datasets")
	if err != nil {
		t.Fatalf("ParseOutput() error = %v", err)
	}
	if result.Document["something_else"] != true {
		t.Errorf("Document = %v", result.Document)
	}
}

func TestParseOutput_bracesInsideStrings(t *testing.T) {
	raw := `{"gap_report": {"note": "use {placeholder} syntax", "gaps": 2}}`

	result, err := ParseOutput(raw, "gap_report")
	if err != nil {
		t.Fatalf("ParseOutput() error = %v", err)
	}
	report, ok := result.Document["gap_report"].(map[string]any)
	if !ok {
		t.Fatalf("Document[gap_report] = %T, want object", result.Document["gap_report"])
	}
	if report["gaps"] != float64(2) {
		t.Errorf("gaps = %v, want 2", report["gaps"])
	}
}

func TestParseOutput_malformedThenValid(t *testing.T) {
	raw := `{"broken": [} then later {"datasets": ["a"]}`

	result, err := ParseOutput(raw, "datasets")
	if err != nil {
		t.Fatalf("ParseOutput() error = %v", err)
	}
	if _, ok := result.Document["datasets"]; !ok {
		t.Errorf("Document = %v, want the valid candidate", result.Document)
	}
}

func TestScanObjects_nestedNotReReported(t *testing.T) {
	docs := scanObjects(`{"outer": {"inner": 1}}`)
	if len(docs) != 1 {
		t.Errorf("scanObjects() = %d candidates, want 1", len(docs))
	}
}
