package canon

import (
	"strings"
	"testing"
)

func TestJSON_SortsKeys(t *testing.T) {
	got, err := JSON(map[string]any{"b": 1, "a": 2, "c": 3})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":2,"b":1,"c":3}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestJSON_NestedAndArrays(t *testing.T) {
	got, err := JSON(map[string]any{
		"z": []any{3, 1, 2},
		"a": map[string]any{"y": true, "x": nil},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":{"x":null,"y":true},"z":[3,1,2]}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestJSON_NoHTMLEscaping(t *testing.T) {
	got, err := JSON(map[string]any{"s": "a<b>&c"})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"s":"a<b>&c"}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestJSON_StructRoundTrip(t *testing.T) {
	type receipt struct {
		Version string  `json:"version"`
		Dim     int     `json:"dim"`
		Lambda  float64 `json:"lambda_g"`
	}
	got, err := JSON(receipt{Version: "1", Dim: 4, Lambda: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"dim":4,"lambda_g":0.5,"version":"1"}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestJSON_Deterministic(t *testing.T) {
	v := map[string]any{"k": []any{"a", 1, 2.5, nil, true}, "m": map[string]any{"q": "r"}}
	a, err := JSON(v)
	if err != nil {
		t.Fatal(err)
	}
	b, err := JSON(v)
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Errorf("canonical encoding not deterministic: %s vs %s", a, b)
	}
}

func TestDecimal(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.0000000000000000"},
		{0.5, "0.50000000000000000"},
		{1, "1.0000000000000000"},
	}
	for _, tt := range tests {
		if got := Decimal(tt.in); got != tt.want {
			t.Errorf("Decimal(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecimal_Stable(t *testing.T) {
	x := 1.0 / 3.0
	if Decimal(x) != Decimal(x) {
		t.Error("Decimal not stable")
	}
	if !strings.Contains(Decimal(x), "0.3333333333333333") {
		t.Errorf("unexpected rendering %q", Decimal(x))
	}
}

func TestSHA256Hex(t *testing.T) {
	// sha256("") is a fixed constant.
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := SHA256Hex(nil); got != want {
		t.Errorf("SHA256Hex(nil) = %s, want %s", got, want)
	}
	if got := SHA256String(""); got != want {
		t.Errorf("SHA256String(\"\") = %s, want %s", got, want)
	}
}
