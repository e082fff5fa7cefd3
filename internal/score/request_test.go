package score

import (
	"encoding/json"
	"testing"
)

func TestRequestUnmarshalCanonicalNames(t *testing.T) {
	var req Request
	if err := json.Unmarshal([]byte(`{"productId":"B00TEST123","weightingConfig":{"social":{"trade":100}}}`), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.ProductID != "B00TEST123" {
		t.Fatalf("unexpected product id %q", req.ProductID)
	}
	social, ok := req.Weights["social"].(map[string]any)
	if !ok || social["trade"] != 100.0 {
		t.Fatalf("unexpected weights %#v", req.Weights)
	}
}

func TestRequestUnmarshalExtensionAliases(t *testing.T) {
	var req Request
	if err := json.Unmarshal([]byte(`{"upc":"0123456789","weights":{"governance":{"local":30}}}`), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.ProductID != "0123456789" || req.Weights["governance"] == nil {
		t.Fatalf("aliases not applied: %+v", req)
	}

	var both Request
	if err := json.Unmarshal([]byte(`{"productId":"A","upc":"B","weightingConfig":{"x":{"y":1}},"weights":{"z":{"y":1}}}`), &both); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if both.ProductID != "A" || both.Weights["x"] == nil || both.Weights["z"] != nil {
		t.Fatalf("canonical names should win: %+v", both)
	}
}

func TestRequestUnmarshalRejectsWrongTypes(t *testing.T) {
	var req Request
	if err := json.Unmarshal([]byte(`{"productId":42}`), &req); err == nil {
		t.Fatalf("expected type error")
	}
}
