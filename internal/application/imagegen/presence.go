// Package imagegen 提供插图生成流水线
package imagegen

import (
	"context"
	"fmt"
	"strings"

	"storyforge-ai-api/internal/domain/entity"
	"storyforge-ai-api/internal/sanitize"
	"storyforge-ai-api/pkg/logger"
)

// RosterEntry 出场名册条目。标签按性别独立计数（"Male 1"、"Female 2"），
// 与角色创建顺序一致，同一本书内对每个角色保持稳定。
type RosterEntry struct {
	Label     string
	Character *entity.CharacterProfile
}

// BuildRoster 从书籍角色构建出场名册
func BuildRoster(characters []*entity.CharacterProfile) []RosterEntry {
	counts := make(map[string]int, 3)
	entries := make([]RosterEntry, 0, len(characters))
	for _, c := range characters {
		class := rosterClass(c.Gender)
		counts[class]++
		entries = append(entries, RosterEntry{
			Label:     fmt.Sprintf("%s %d", class, counts[class]),
			Character: c,
		})
	}
	return entries
}

func rosterClass(gender string) string {
	switch strings.ToLower(strings.TrimSpace(gender)) {
	case "male", "m", "man", "boy":
		return "Male"
	case "female", "f", "woman", "girl":
		return "Female"
	default:
		return "Person"
	}
}

// presenceResponse 出场判定调用的结构化输出
type presenceResponse struct {
	Present []string `json:"present"`
}

// presentCharacters 判定场景片段中出场的角色。
// 判定调用失败或输出无法解码时放弃名册（插图仍然生成，只是没有参考图）。
func (p *Pipeline) presentCharacters(ctx context.Context, bookID, scene string) []RosterEntry {
	if p.newChat == nil {
		return nil
	}
	log := logger.FromContext(ctx)

	characters, err := p.characters.ListByBook(ctx, bookID)
	if err != nil {
		log.Warn("failed to list characters for presence roster", "error", err, "book_id", bookID)
		return nil
	}
	roster := BuildRoster(characters)
	if len(roster) == 0 || strings.TrimSpace(scene) == "" {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("Known characters:\n")
	for _, entry := range roster {
		fmt.Fprintf(&sb, "- %s: %s", entry.Label, entry.Character.Name)
		if d := strings.TrimSpace(entry.Character.Description); d != "" {
			fmt.Fprintf(&sb, " (%s)", d)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nDecide which of the known characters appear in the scene below. ")
	sb.WriteString(`Respond with JSON only, in the shape {"present": ["Male 1", "Female 2"]}. Use an empty list when none appear.`)

	chat := p.newChat("character_presence")
	chat.SetTemperature(0.1)
	chat.SetResponseFormat("json_object")
	chat.AddSystemMessage(sb.String())
	chat.AddUserMessage(scene)

	result := chat.Chat(ctx)
	if !result.Succeeded() {
		log.Warn("presence detection failed", "book_id", bookID)
		return nil
	}

	var payload presenceResponse
	if err := sanitize.Decode(result.CompletionText, &payload); err != nil {
		log.Warn("presence detection output not decodable", "error", err)
		return nil
	}

	byLabel := make(map[string]RosterEntry, len(roster))
	for _, entry := range roster {
		byLabel[entry.Label] = entry
	}

	var present []RosterEntry
	seen := make(map[string]struct{}, len(payload.Present))
	for _, label := range payload.Present {
		key := strings.TrimSpace(label)
		entry, ok := byLabel[key]
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		present = append(present, entry)
	}
	return present
}

// referenceImagesFor 收集出场角色的肖像参考图。
// 只转发已完成肖像的资产 URL，没有完成肖像的角色不产生参考图。
func (p *Pipeline) referenceImagesFor(ctx context.Context, bookID, scene string) []string {
	var refs []string
	for _, entry := range p.presentCharacters(ctx, bookID, scene) {
		portraitID := entry.Character.PortraitImageID
		if portraitID == "" {
			continue
		}
		portrait, err := p.images.GetByID(ctx, portraitID)
		if err != nil {
			logger.FromContext(ctx).Warn("failed to load portrait image", "error", err, "image_id", portraitID)
			continue
		}
		if portrait == nil || portrait.Status != entity.ImageStatusComplete || portrait.AssetURL == "" {
			continue
		}
		refs = append(refs, portrait.AssetURL)
	}
	return refs
}
