package common

import (
	"math"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tidwall/gjson"
)

func TestStringArg(t *testing.T) {
	args := map[string]any{"message": "hi", "count": 3.0}

	if v, ok := StringArg(args, "message"); !ok || v != "hi" {
		t.Errorf("StringArg(message) = %q, %v; want \"hi\", true", v, ok)
	}
	if _, ok := StringArg(args, "count"); ok {
		t.Error("StringArg(count) should fail for a number")
	}
	if _, ok := StringArg(nil, "message"); ok {
		t.Error("StringArg on nil args should fail")
	}
}

func TestNumberArg(t *testing.T) {
	args := map[string]any{
		"f64": 2.5,
		"f32": float32(1.5),
		"int": 7,
		"i64": int64(9),
		"str": "3",
	}

	tests := map[string]struct {
		want float64
		ok   bool
	}{
		"f64":     {2.5, true},
		"f32":     {1.5, true},
		"int":     {7, true},
		"i64":     {9, true},
		"str":     {0, false},
		"missing": {0, false},
	}

	for key, tt := range tests {
		got, ok := NumberArg(args, key)
		if ok != tt.ok || got != tt.want {
			t.Errorf("NumberArg(%s) = %v, %v; want %v, %v", key, got, ok, tt.want, tt.ok)
		}
	}
}

func TestJSONResult(t *testing.T) {
	res, err := JSONResult(map[string]float64{"sum": 5})
	if err != nil {
		t.Fatalf("JSONResult() error = %v", err)
	}
	text := res.Content[0].(mcp.TextContent).Text
	if gjson.Get(text, "sum").Float() != 5 {
		t.Errorf("unexpected result text %q", text)
	}

	if _, err := JSONResult(math.Inf(1)); err == nil {
		t.Error("expected error for unmarshalable value")
	}
}
