// Package narrative 提供叙事单元的生成编排
package narrative

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storyforge-ai-api/internal/domain/entity"
	"storyforge-ai-api/internal/sanitize"
	"storyforge-ai-api/pkg/logger"
)

// extractedCharacter 角色提取调用的结构化输出
type extractedCharacter struct {
	Name        string `json:"name"`
	Age         int    `json:"age"`
	Gender      string `json:"gender"`
	Nationality string `json:"nationality"`
	Description string `json:"description"`
	Backstory   string `json:"backstory"`
}

type extractionPayload struct {
	Characters []extractedCharacter `json:"characters"`
}

// ExtractCharacters 从单元正文提取出场角色，按规范化名称与
// 既有角色去重后落库。模型输出经修复解码器解码。
func (b *Builder) ExtractCharacters(ctx context.Context, unit *entity.NarrativeUnit) ([]*entity.CharacterProfile, error) {
	ctx, span := tracer.Start(ctx, "narrative.Builder.ExtractCharacters",
		trace.WithAttributes(attribute.String("unit_id", unit.ID)))
	defer span.End()

	chat := b.newChat("character_extraction")
	chat.SetTemperature(0.2)
	chat.SetResponseFormat("json_object")
	chat.AddSystemMessage(`Extract every named character from the story text. Respond with JSON only, in the shape {"characters": [{"name", "age", "gender", "nationality", "description", "backstory"}]}. Use an empty list when no named characters appear.`)
	chat.AddUserMessage(unit.BodyText)

	result := chat.Chat(ctx)
	if !result.Succeeded() {
		return nil, generationError(result)
	}

	var payload extractionPayload
	if err := sanitize.Decode(result.CompletionText, &payload); err != nil {
		return nil, err
	}

	existing, err := b.characters.ListByBook(ctx, unit.BookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}

	known := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		known[c.NormalizedName()] = struct{}{}
	}

	var created []*entity.CharacterProfile
	for _, ec := range payload.Characters {
		name := strings.TrimSpace(ec.Name)
		if name == "" {
			continue
		}
		key := entity.NormalizeCharacterName(name)
		if _, dup := known[key]; dup {
			continue
		}

		character := entity.NewCharacterProfile(unit.BookID, name)
		character.Age = ec.Age
		character.Gender = strings.ToLower(strings.TrimSpace(ec.Gender))
		character.Nationality = ec.Nationality
		character.Description = ec.Description
		character.Backstory = ec.Backstory
		character.OriginUnitID = unit.ID

		if err := b.characters.Create(ctx, character); err != nil {
			return created, fmt.Errorf("failed to create character %q: %w", name, err)
		}

		known[key] = struct{}{}
		created = append(created, character)

		if b.events != nil {
			b.events.CharacterCreated(ctx, character.ID, unit.BookID, character.Name)
		}
	}

	if len(created) > 0 {
		logger.FromContext(ctx).Info("characters extracted",
			"unit_id", unit.ID,
			"new_characters", len(created),
		)
	}
	return created, nil
}
