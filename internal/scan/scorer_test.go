package scan

import (
	"math"
	"testing"
)

func det(tier string, severity float64) Detection {
	return Detection{Tier: tier, RuleID: "TEST", Severity: severity, Confidence: 0.9}
}

func TestScoreFieldEmpty(t *testing.T) {
	s := NewScorer(DefaultThresholds())
	score, level, action := s.ScoreField(nil)
	if score != 0 || level != LevelSafe || action != ActionPass {
		t.Fatalf("empty detections: got (%v, %v, %v)", score, level, action)
	}
}

func TestScoreFieldSingleTier(t *testing.T) {
	s := NewScorer(DefaultThresholds())

	tests := []struct {
		name      string
		dets      []Detection
		wantScore float64
	}{
		{"one structural", []Detection{det(TierStructural, 0.90)}, 0.90 * 0.40},
		{"one contextual", []Detection{det(TierContextual, 0.80)}, 0.80 * 0.45},
		{"one threat intel", []Detection{det(TierThreatIntel, 1.0)}, 1.0 * 0.15},
		{"stacking bonus", []Detection{det(TierStructural, 0.70), det(TierStructural, 0.50)}, (0.70 + 0.05) * 0.40},
		{"stacking capped", []Detection{
			det(TierStructural, 0.80), det(TierStructural, 0.10), det(TierStructural, 0.10),
			det(TierStructural, 0.10), det(TierStructural, 0.10), det(TierStructural, 0.10),
		}, (0.80 + 0.15) * 0.40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, _, _ := s.ScoreField(tt.dets)
			if math.Abs(score-tt.wantScore) > 1e-9 {
				t.Errorf("score = %v, want %v", score, tt.wantScore)
			}
		})
	}
}

func TestScoreFieldCorroboration(t *testing.T) {
	s := NewScorer(DefaultThresholds())

	two := []Detection{det(TierStructural, 0.90), det(TierContextual, 0.80)}
	want2 := (0.90*0.40 + 0.80*0.45) * 1.15
	score2, _, _ := s.ScoreField(two)
	if math.Abs(score2-want2) > 1e-9 {
		t.Errorf("two-tier score = %v, want %v", score2, want2)
	}

	three := append(two, det(TierThreatIntel, 0.60))
	want3 := (0.90*0.40 + 0.80*0.45 + 0.60*0.15) * 1.15 * 1.10
	if want3 > 1.0 {
		want3 = 1.0
	}
	score3, _, _ := s.ScoreField(three)
	if math.Abs(score3-want3) > 1e-9 {
		t.Errorf("three-tier score = %v, want %v", score3, want3)
	}
}

// Adding a detection from a previously silent tier must never decrease
// the composite score.
func TestCorroborationMonotone(t *testing.T) {
	s := NewScorer(DefaultThresholds())

	bases := [][]Detection{
		{det(TierStructural, 0.40)},
		{det(TierStructural, 0.90)},
		{det(TierContextual, 0.65), det(TierContextual, 0.55)},
		{det(TierStructural, 0.95), det(TierContextual, 0.95)},
	}
	extras := []Detection{
		det(TierContextual, 0.10),
		det(TierThreatIntel, 0.05),
	}

	for _, base := range bases {
		baseScore, _, _ := s.ScoreField(base)
		for _, extra := range extras {
			silent := true
			for _, d := range base {
				if d.Tier == extra.Tier {
					silent = false
				}
			}
			if !silent {
				continue
			}
			grown, _, _ := s.ScoreField(append(append([]Detection{}, base...), extra))
			if grown < baseScore-1e-9 {
				t.Errorf("adding %s detection dropped score %v -> %v", extra.Tier, baseScore, grown)
			}
		}
	}
}

func TestLevelBands(t *testing.T) {
	s := NewScorer(DefaultThresholds())

	tests := []struct {
		score float64
		want  RiskLevel
	}{
		{0.0, LevelSafe},
		{0.29, LevelSafe},
		{0.30, LevelSuspicious},
		{0.59, LevelSuspicious},
		{0.60, LevelDangerous},
		{0.84, LevelDangerous},
		{0.85, LevelCritical},
		{1.0, LevelCritical},
	}

	for _, tt := range tests {
		if got := s.LevelFor(tt.score); got != tt.want {
			t.Errorf("LevelFor(%.2f) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestLevelActionIdentity(t *testing.T) {
	pairs := map[RiskLevel]Action{
		LevelSafe:       ActionPass,
		LevelSuspicious: ActionFlag,
		LevelDangerous:  ActionRedact,
		LevelCritical:   ActionBlock,
	}
	for level, want := range pairs {
		if got := ActionFor(level); got != want {
			t.Errorf("ActionFor(%v) = %v, want %v", level, got, want)
		}
	}
}

func TestScoreEvent(t *testing.T) {
	s := NewScorer(DefaultThresholds())

	fields := []FieldResult{
		{FieldName: "summary", RiskScore: 0.10},
		{FieldName: "description", RiskScore: 0.72},
		{FieldName: "location", RiskScore: 0.31},
	}
	score, level, action := s.ScoreEvent(fields)
	if score != 0.72 {
		t.Errorf("event score = %v, want max field score 0.72", score)
	}
	if level != LevelDangerous || action != ActionRedact {
		t.Errorf("level/action = %v/%v, want dangerous/redact", level, action)
	}

	score, level, action = s.ScoreEvent(nil)
	if score != 0 || level != LevelSafe || action != ActionPass {
		t.Errorf("no fields: got (%v, %v, %v)", score, level, action)
	}
}

func TestScoreClampedToOne(t *testing.T) {
	s := NewScorer(DefaultThresholds())
	dets := []Detection{
		det(TierStructural, 1.0), det(TierStructural, 1.0), det(TierStructural, 1.0), det(TierStructural, 1.0),
		det(TierContextual, 1.0), det(TierContextual, 1.0), det(TierContextual, 1.0), det(TierContextual, 1.0),
		det(TierThreatIntel, 1.0), det(TierThreatIntel, 1.0),
	}
	score, level, action := s.ScoreField(dets)
	if score > 1.0 {
		t.Errorf("score %v exceeds 1.0", score)
	}
	if level != LevelCritical || action != ActionBlock {
		t.Errorf("saturated field should be critical/block, got %v/%v", level, action)
	}
}

func TestRiskLevelOrdering(t *testing.T) {
	order := []RiskLevel{LevelSafe, LevelSuspicious, LevelDangerous, LevelCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("%v should rank above %v", order[i], order[i-1])
		}
		if !order[i].AtLeast(order[i-1]) {
			t.Errorf("%v should be at least %v", order[i], order[i-1])
		}
		if order[i-1].AtLeast(order[i]) {
			t.Errorf("%v should not be at least %v", order[i-1], order[i])
		}
	}
}
