// Package persona loads the bot's character sheet and renders the system
// prompt with remembered facts.
package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stellarlinkco/yuki/internal/memory"
)

// MaxEventFacts caps how many recent Event facts reach the prompt.
const MaxEventFacts = 5

type Persona struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Traits      []string `yaml:"traits"`
	Rules       []string `yaml:"rules"`
	Language    string   `yaml:"language"`
}

// DefaultYAML is written by `yuki onboard` and used when no persona file exists.
const DefaultYAML = `name: 安尼亞
description: 你是安尼亞，一個住在家庭群組裡的貼心助理，也可以叫你 Yuki。
traits:
  - 活潑
  - 溫柔
  - 有點調皮
rules:
  - 回答要簡短自然，像朋友聊天
  - 記得家人告訴你的事情，適時提起
  - 不確定的事情就老實說不知道
language: 繁體中文
`

func Default() Persona {
	p, err := Parse([]byte(DefaultYAML))
	if err != nil {
		panic(fmt.Sprintf("default persona: %v", err))
	}
	return p
}

func Parse(data []byte) (Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("parse persona yaml: %w", err)
	}
	if strings.TrimSpace(p.Name) == "" {
		return Persona{}, fmt.Errorf("invalid persona: name is required")
	}
	return p, nil
}

// Load reads a persona file. An empty path or a missing file yields Default.
func Load(path string) (Persona, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Persona{}, fmt.Errorf("read persona: %w", err)
	}
	return Parse(data)
}

// Preamble renders the persona part of the system prompt.
func (p Persona) Preamble() string {
	var sb strings.Builder
	if p.Description != "" {
		sb.WriteString(p.Description)
	} else {
		fmt.Fprintf(&sb, "你是%s。", p.Name)
	}
	if len(p.Traits) > 0 {
		sb.WriteString("\n個性：")
		sb.WriteString(strings.Join(p.Traits, "、"))
	}
	for _, r := range p.Rules {
		sb.WriteString("\n- ")
		sb.WriteString(r)
	}
	if p.Language != "" {
		fmt.Fprintf(&sb, "\n請一律使用%s回答。", p.Language)
	}
	return sb.String()
}

// BuildSystemPrompt renders the persona followed by one section per
// non-empty category in memory.PromptCategories order. Only the newest
// MaxEventFacts Event facts are kept, in insertion order.
func BuildSystemPrompt(p Persona, facts map[memory.Category][]memory.Fact) string {
	var sb strings.Builder
	sb.WriteString(p.Preamble())

	for _, cat := range memory.PromptCategories {
		list := facts[cat]
		if cat == memory.CategoryEvent && len(list) > MaxEventFacts {
			list = list[len(list)-MaxEventFacts:]
		}
		if len(list) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n\n【%s】", cat)
		for _, f := range list {
			sb.WriteString("\n- ")
			sb.WriteString(f.Line())
		}
	}
	return sb.String()
}
