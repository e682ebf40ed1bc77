// Package classifier maps free text to a memory category and an importance
// flag by raw substring matching.
package classifier

import (
	"strings"

	"github.com/stellarlinkco/yuki/internal/memory"
)

var (
	PersonKeywords     = []string{"我是", "我叫", "名字", "老公", "老婆", "媽媽", "爸爸", "兒子", "女兒", "家人", "同事"}
	PreferenceKeywords = []string{"喜歡", "討厭", "愛吃", "最愛", "偏好", "過敏"}
	EventKeywords      = []string{"明天", "下週", "下個月", "約會", "開會", "生日", "紀念日", "預約", "出差", "旅行"}
	SettingKeywords    = []string{"設定", "提醒我", "時區", "城市", "語言", "通知"}

	// extraImportant triggers importance without implying a category.
	extraImportant = []string{"今天", "記住", "記得", "重要", "別忘了", "我住", "我的"}
)

type rule struct {
	category memory.Category
	keywords []string
}

// First match wins.
var rules = []rule{
	{memory.CategoryPerson, PersonKeywords},
	{memory.CategoryPreference, PreferenceKeywords},
	{memory.CategoryEvent, EventKeywords},
	{memory.CategorySetting, SettingKeywords},
}

func CategoryOf(text string) memory.Category {
	for _, r := range rules {
		if containsAny(text, r.keywords) {
			return r.category
		}
	}
	return memory.CategoryGeneral
}

// IsImportant reports whether text is worth remembering. It is independent of
// CategoryOf: a General message can be important.
func IsImportant(text string) bool {
	for _, r := range rules {
		if containsAny(text, r.keywords) {
			return true
		}
	}
	return containsAny(text, extraImportant)
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
