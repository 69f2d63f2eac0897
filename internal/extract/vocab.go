package extract

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Vocabulary holds the unit keywords and stoplist driving rule matching.
// The defaults cover the five supported label languages; deployments can
// override them with a YAML file.
type Vocabulary struct {
	// DoseUnits are mass/volume units that follow ingredient amounts.
	DoseUnits []string `yaml:"dose_units"`
	// CountUnits are packaging units that follow package quantities.
	CountUnits []string `yaml:"count_units"`
	// Stoplist contains section keywords that never form a medicine name
	// on their own (e.g. "ingredients", "成分").
	Stoplist []string `yaml:"stoplist"`
	// NameKeywords mark lines that explicitly label the product name
	// (e.g. "品名", "brand"); text after such a keyword scores higher.
	NameKeywords []string `yaml:"name_keywords"`
}

// DefaultVocabulary returns the built-in unit vocabulary, merged across
// zh-tw, zh-cn, en, ja and ko packaging conventions.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		DoseUnits: []string{
			"mg", "mcg", "g", "kg", "ml", "mL", "iu",
			"毫克", "微克", "公克", "公斤", "毫升", "克",
			"ミリグラム", "マイクログラム", "グラム", "ミリリットル",
			"밀리그램", "마이크로그램", "그램", "밀리리터",
		},
		CountUnits: []string{
			"tablets", "tablet", "capsules", "capsule", "pills", "pill",
			"packs", "pack", "bottles", "bottle", "pieces", "piece",
			"doses", "dose", "caplets", "caplet", "softgels", "softgel",
			"錠", "膠囊", "粒", "包", "瓶", "支", "片", "劑",
			"锭", "胶囊", "剂",
			"カプセル", "本", "枚", "剤",
			"정", "캡슐", "알", "팩", "병", "개", "제",
		},
		Stoplist: []string{
			"ingredients", "ingredient", "active", "composition", "contains",
			"content", "component", "excipient", "formulation",
			"quantity", "amount", "dosage", "dose", "directions", "warnings",
			"成分", "主成分", "活性成分", "配方", "含有", "含量", "組成", "賦形劑",
			"组成", "赋形剂", "數量", "数量", "劑量", "剂量", "用量", "用法",
			"配合", "賦形剤", "1日量", "投与量",
			"성분", "주성분", "조성", "함유", "함량", "용량", "투여량",
		},
		NameKeywords: []string{
			"name", "brand", "product",
			"藥品", "藥名", "品名", "商品名", "學名",
			"药品", "药名", "学名",
			"薬品", "薬名",
			"약품", "약명", "상품명",
		},
	}
}

// LoadVocabulary reads a YAML vocabulary file. Sections left empty in the
// file keep their built-in defaults.
func LoadVocabulary(path string) (Vocabulary, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-provided config path
	if err != nil {
		return Vocabulary{}, fmt.Errorf("failed to read vocabulary file: %w", err)
	}
	var loaded Vocabulary
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Vocabulary{}, fmt.Errorf("failed to parse vocabulary file: %w", err)
	}

	merged := DefaultVocabulary()
	if len(loaded.DoseUnits) > 0 {
		merged.DoseUnits = loaded.DoseUnits
	}
	if len(loaded.CountUnits) > 0 {
		merged.CountUnits = loaded.CountUnits
	}
	if len(loaded.Stoplist) > 0 {
		merged.Stoplist = loaded.Stoplist
	}
	if len(loaded.NameKeywords) > 0 {
		merged.NameKeywords = loaded.NameKeywords
	}
	return merged, nil
}
