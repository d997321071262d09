// Package imagegen 提供插图生成流水线
package imagegen

import (
	"context"
	"fmt"
	"strings"

	"storyforge-ai-api/internal/domain/entity"
	apperrors "storyforge-ai-api/pkg/errors"
)

// 各归属类型的默认画幅
const (
	aspectRatioCover    = "9:16"
	aspectRatioPortrait = "1:1"
	aspectRatioScene    = "16:9"
)

// AspectRatioFor 按归属类型查默认画幅
func AspectRatioFor(ownerType entity.ImageOwnerType) string {
	switch ownerType {
	case entity.ImageOwnerBookCover:
		return aspectRatioCover
	case entity.ImageOwnerCharacterPortrait:
		return aspectRatioPortrait
	default:
		return aspectRatioScene
	}
}

// CoverPrompt 由书籍元数据合成封面提示词
func CoverPrompt(book *entity.Book) string {
	var sb strings.Builder
	sb.WriteString("Book cover illustration")
	if g := strings.TrimSpace(book.Genre); g != "" {
		fmt.Fprintf(&sb, " for a %s story", g)
	}
	if t := strings.TrimSpace(book.Title); t != "" {
		fmt.Fprintf(&sb, " titled %q", t)
	}
	sb.WriteString(".")
	if p := strings.TrimSpace(book.Premise); p != "" {
		fmt.Fprintf(&sb, " Premise: %s.", p)
	}
	sb.WriteString(" No text or lettering in the image.")
	return sb.String()
}

// PortraitPrompt 由角色档案合成肖像提示词
func PortraitPrompt(character *entity.CharacterProfile) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Character portrait of %s", character.Name)
	var traits []string
	if character.Age > 0 {
		traits = append(traits, fmt.Sprintf("age %d", character.Age))
	}
	if g := strings.TrimSpace(character.Gender); g != "" {
		traits = append(traits, g)
	}
	if n := strings.TrimSpace(character.Nationality); n != "" {
		traits = append(traits, n)
	}
	if len(traits) > 0 {
		fmt.Fprintf(&sb, " (%s)", strings.Join(traits, ", "))
	}
	sb.WriteString(".")
	if d := strings.TrimSpace(character.Description); d != "" {
		fmt.Fprintf(&sb, " %s.", d)
	}
	sb.WriteString(" Neutral background, head and shoulders framing.")
	return sb.String()
}

// ScenePrompt 由叙事单元正文合成场景提示词。
// idx 为 nil 时取开头段落（章头图），否则取对应段落（章内插图）。
func ScenePrompt(unit *entity.NarrativeUnit, idx *int) string {
	excerpt := SceneExcerpt(unit.BodyText, idx)
	var sb strings.Builder
	sb.WriteString("Story illustration")
	if g := strings.TrimSpace(unit.Genre); g != "" {
		fmt.Fprintf(&sb, " in a %s setting", g)
	}
	sb.WriteString(".")
	if excerpt != "" {
		fmt.Fprintf(&sb, " Depict this scene: %s", excerpt)
	}
	sb.WriteString(" No text or lettering in the image.")
	return sb.String()
}

// SceneExcerpt 取提示词用的正文片段
func SceneExcerpt(body string, idx *int) string {
	paragraphs := splitParagraphs(body)
	if len(paragraphs) == 0 {
		return ""
	}
	if idx == nil {
		return paragraphs[0]
	}
	if *idx < 0 || *idx >= len(paragraphs) {
		return paragraphs[0]
	}
	return paragraphs[*idx]
}

func splitParagraphs(body string) []string {
	var out []string
	for _, block := range strings.Split(body, "\n\n") {
		if t := strings.TrimSpace(block); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// synthesizePrompt 按归属类型从归属实体合成提示词
func (p *Pipeline) synthesizePrompt(ctx context.Context, img *entity.Image) (string, error) {
	switch img.OwnerType {
	case entity.ImageOwnerBookCover:
		book, err := p.books.GetByID(ctx, img.OwnerID)
		if err != nil {
			return "", fmt.Errorf("failed to load book: %w", err)
		}
		if book == nil {
			return "", apperrors.ErrBookNotFound
		}
		return CoverPrompt(book), nil

	case entity.ImageOwnerCharacterPortrait:
		character, err := p.characters.GetByID(ctx, img.OwnerID)
		if err != nil {
			return "", fmt.Errorf("failed to load character: %w", err)
		}
		if character == nil {
			return "", apperrors.ErrCharacterNotFound
		}
		return PortraitPrompt(character), nil

	case entity.ImageOwnerChapterHeader, entity.ImageOwnerChapterInline:
		unit, err := p.units.GetByID(ctx, img.OwnerID)
		if err != nil {
			return "", fmt.Errorf("failed to load narrative unit: %w", err)
		}
		if unit == nil {
			return "", apperrors.ErrUnitNotFound
		}
		return ScenePrompt(unit, img.ParagraphIndex), nil

	default:
		return "", apperrors.New(apperrors.CodeInvalidParam,
			fmt.Sprintf("image %s has owner type %s and no stored prompt", img.ID, img.OwnerType))
	}
}
