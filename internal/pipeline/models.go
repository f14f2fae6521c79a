package pipeline

import "go-image-upscaler/pkg/models"

// ModelTable maps quality tiers to model identifiers
type ModelTable struct {
	Low  string
	High string
}

// DefaultModelTable returns the Swin2SR models: a lightweight 2x model and a 4x classical model
func DefaultModelTable() ModelTable {
	return ModelTable{
		Low:  "Xenova/swin2SR-lightweight-x2-64",
		High: "Xenova/swin2SR-classical-sr-x4-64",
	}
}

// ModelFor resolves a tier. Anything but "low" takes the high branch.
func (t ModelTable) ModelFor(q models.ModelQuality) string {
	if q.Normalize() == models.QualityLow {
		return t.Low
	}
	return t.High
}
