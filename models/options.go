package models

import (
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/blake2b"
)

const (
	DirectionVertical   = "vertical"
	DirectionHorizontal = "horizontal"
)

// DetectionOptions is the parameter set consumed by the remote detector.
type DetectionOptions struct {
	AlterChecked        bool       `json:"alter_checked" yaml:"alter_checked"`
	Direction           string     `json:"direction" yaml:"direction"`
	SquarishnessMin     float64    `json:"squarishness_min" yaml:"squarishness_min"`
	SquarishnessMinWarn float64    `json:"squarishness_min_warn" yaml:"squarishness_min_warn"`
	NbPagesExpected     int        `json:"nb_pages_expected" yaml:"nb_pages_expected"`
	WHRatioRange        [2]float64 `json:"wh_ratio_range" yaml:"wh_ratio_range"`
	WHRatioRangeWarn    [2]float64 `json:"wh_ratio_range_warn" yaml:"wh_ratio_range_warn"`
	AreaRatioRange      [2]float64 `json:"area_ratio_range" yaml:"area_ratio_range"`
	AreaDiffMax         float64    `json:"area_diff_max" yaml:"area_diff_max"`
	AreaDiffMaxWarn     float64    `json:"area_diff_max_warn" yaml:"area_diff_max_warn"`
	UseRotation         bool       `json:"use_rotation" yaml:"use_rotation"`
	FixedWidth          *int       `json:"fixed_width" yaml:"fixed_width"`
	FixedHeight         *int       `json:"fixed_height" yaml:"fixed_height"`
	ExpandToFixed       bool       `json:"expand_to_fixed" yaml:"expand_to_fixed"`
	CutAtFixed          bool       `json:"cut_at_fixed" yaml:"cut_at_fixed"`
}

// DefaultDetectionOptions mirrors the detector's own defaults.
func DefaultDetectionOptions() DetectionOptions {
	return DetectionOptions{
		Direction:           DirectionVertical,
		SquarishnessMin:     0.85,
		SquarishnessMinWarn: 0.7,
		NbPagesExpected:     2,
		WHRatioRange:        [2]float64{3.0, 7.0},
		WHRatioRangeWarn:    [2]float64{1.5, 10.0},
		AreaRatioRange:      [2]float64{0.2, 1.0},
		AreaDiffMax:         0.15,
		AreaDiffMaxWarn:     0.7,
		UseRotation:         true,
	}
}

// Hash returns a stable digest of the option set. Two option sets with the
// same JSON encoding hash identically.
func (o DetectionOptions) Hash() string {
	b, err := json.Marshal(o)
	if err != nil {
		// only reachable with a broken encoder; an empty hash never matches a real one
		return ""
	}
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:16])
}

// Equal compares two option sets by content
func (o DetectionOptions) Equal(other DetectionOptions) bool {
	return o.Hash() == other.Hash()
}
