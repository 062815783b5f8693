package validation

import "testing"

func TestValidateLatticeID(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"L-000001", true},
		{"L-123456", true},
		{"L-1", false},
		{"G-000001", false},
		{"", false},
		{"L-0000010", false},
	}
	for _, tt := range tests {
		err := ValidateLatticeID("lattice_id", tt.value)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateLatticeID(%q) ok=%v, want %v", tt.value, err == nil, tt.ok)
		}
	}
}

func TestValidateGroupID(t *testing.T) {
	if err := ValidateGroupID("group_id", ""); err != nil {
		t.Error("empty group id should be allowed (auto-assign)")
	}
	if err := ValidateGroupID("group_id", "G-000002"); err != nil {
		t.Error("well-formed group id rejected")
	}
	if err := ValidateGroupID("group_id", "bogus"); err == nil {
		t.Error("malformed group id accepted")
	}
}

func TestValidateText(t *testing.T) {
	if err := ValidateText("text", "hello"); err != nil {
		t.Error("plain text rejected")
	}
	if err := ValidateText("text", "   "); err == nil {
		t.Error("blank text accepted")
	}
	if err := ValidateText("text", "a\x00b"); err == nil {
		t.Error("null byte accepted")
	}
	if err := ValidateText("text", string([]byte{0xff, 0xfe})); err == nil {
		t.Error("invalid UTF-8 accepted")
	}
}

func TestValidateVector(t *testing.T) {
	if err := ValidateVector("vectors[0]", make([]float32, 4), 4); err != nil {
		t.Error("matching dimension rejected")
	}
	if err := ValidateVector("vectors[0]", make([]float32, 3), 4); err == nil {
		t.Error("mismatched dimension accepted")
	}
}

func TestValidateCount(t *testing.T) {
	if err := ValidateCount("k", 1, 8); err != nil {
		t.Error("1 rejected")
	}
	if err := ValidateCount("k", 0, 8); err == nil {
		t.Error("0 accepted")
	}
	if err := ValidateCount("k", 9, 8); err == nil {
		t.Error("over max accepted")
	}
}

func TestCollectorAndPaging(t *testing.T) {
	var c Collector
	ValidatePaging(&c, -1, -2)
	if !c.HasErrors() || len(c.Errors()) != 2 {
		t.Errorf("errors = %+v, want 2", c.Errors())
	}

	var ok Collector
	ValidatePaging(&ok, 10, 0)
	if ok.HasErrors() {
		t.Errorf("unexpected errors %+v", ok.Errors())
	}
}
