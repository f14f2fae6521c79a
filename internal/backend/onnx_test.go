package backend

import (
	"context"
	"testing"
)

func TestScaleOf(t *testing.T) {
	tests := map[string]int{
		"Xenova/swin2SR-lightweight-x2-64":  2,
		"Xenova/swin2SR-classical-sr-x4-64": 4,
		"local/esrgan_x3":                   3,
		"Xenova/swin2SR-realworld-x4-64":    4,
		"custom/upscaler":                   defaultScale,
		"custom/max16":                      defaultScale,
	}
	for id, want := range tests {
		if got := scaleOf(id); got != want {
			t.Errorf("scaleOf(%q) = %d, want %d", id, got, want)
		}
	}
}

func TestONNXBackend_RejectsUnknownTask(t *testing.T) {
	b := &ONNXBackend{}
	if _, err := b.Pipeline(context.Background(), "text-generation", "any/model", Options{}); err == nil {
		t.Error("Expected error for unsupported task")
	}
}
