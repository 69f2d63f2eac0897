package langid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentify_English(t *testing.T) {
	id := NewIdentifier(DefaultConfig())
	g := id.Identify("Acetaminophen Extra Strength Pain Reliever")
	assert.Equal(t, English, g.Code)
	assert.Greater(t, g.Confidence, 0.9)
}

func TestIdentify_TraditionalChinese(t *testing.T) {
	id := NewIdentifier(DefaultConfig())
	g := id.Identify("普拿疼 止痛藥 每錠含量五百毫克")
	assert.Equal(t, ChineseTraditional, g.Code)
	assert.Greater(t, g.Confidence, 0.5)
}

func TestIdentify_SimplifiedChinese(t *testing.T) {
	id := NewIdentifier(DefaultConfig())
	g := id.Identify("对乙酰氨基酚片 药品说明书 每锭五百毫克")
	assert.Equal(t, ChineseSimplified, g.Code)
}

func TestIdentify_Japanese(t *testing.T) {
	id := NewIdentifier(DefaultConfig())
	g := id.Identify("解熱鎮痛薬 アセトアミノフェン錠 一日三回")
	assert.Equal(t, Japanese, g.Code)
	assert.Greater(t, g.Confidence, 0.5)
}

func TestIdentify_Korean(t *testing.T) {
	id := NewIdentifier(DefaultConfig())
	g := id.Identify("아세트아미노펜 해열진통제 성분 함량")
	assert.Equal(t, Korean, g.Code)
	assert.Greater(t, g.Confidence, 0.5)
}

func TestIdentify_ShortSampleIsUnknown(t *testing.T) {
	id := NewIdentifier(DefaultConfig())
	g := id.Identify("ab")
	assert.Equal(t, Unknown, g.Code)
	assert.Zero(t, g.Confidence)
}

func TestIdentify_EmptyIsUnknown(t *testing.T) {
	id := NewIdentifier(DefaultConfig())
	assert.Equal(t, Unknown, id.Identify("").Code)
}

func TestIdentify_BelowThresholdPreservesConfidence(t *testing.T) {
	// Threshold above any achievable share forces the Unknown degrade path.
	id := NewIdentifier(Config{ConfThreshold: 1.1, MinSampleRunes: 4})
	g := id.Identify("plain english words here")
	assert.Equal(t, Unknown, g.Code)
	assert.Greater(t, g.Confidence, 0.0)
}

func TestIdentify_MixedLatinAndHanPrefersHan(t *testing.T) {
	id := NewIdentifier(Config{ConfThreshold: 0.3, MinSampleRunes: 4})
	g := id.Identify("Panadol 普拿疼加強錠藥品")
	assert.Equal(t, ChineseTraditional, g.Code)
}

func TestIdentify_Deterministic(t *testing.T) {
	id := NewIdentifier(DefaultConfig())
	sample := "アセトアミノフェン500mg配合 解熱鎮痛"
	first := id.Identify(sample)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, id.Identify(sample))
	}
}

func TestValid(t *testing.T) {
	for _, c := range Supported() {
		assert.True(t, Valid(c))
	}
	assert.True(t, Valid(Unknown))
	assert.False(t, Valid(Code("de")))
}
