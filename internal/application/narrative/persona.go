// Package narrative 提供叙事单元的生成编排
package narrative

import (
	"fmt"
	"strings"

	"storyforge-ai-api/internal/domain/entity"
)

// 受众分级。年龄档位同时决定字数预算和受众标签，固定查表。
const (
	AudienceToddler  = "toddler"
	AudienceChildren = "children"
	AudienceTeenage  = "teenage"
	AudienceAdult    = "adult"
)

// WordBudget 按年龄档位查字数预算
func WordBudget(ageLevel int) int {
	switch {
	case ageLevel <= 3:
		return 200
	case ageLevel <= 4:
		return 400
	case ageLevel <= 9:
		return 800
	case ageLevel <= 13:
		return 1000
	default:
		return 2000
	}
}

// AudienceLabel 按年龄档位查受众标签
func AudienceLabel(ageLevel int) string {
	switch {
	case ageLevel <= 3:
		return AudienceToddler
	case ageLevel <= 9:
		return AudienceChildren
	case ageLevel <= 13:
		return AudienceTeenage
	default:
		return AudienceAdult
	}
}

// BuildPersona 由单元元数据合成系统提示词
func BuildPersona(unit *entity.NarrativeUnit) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are a professional %s author writing serialized fiction for a %s audience.",
		genreOrDefault(unit.Genre), AudienceLabel(unit.AgeLevel))
	fmt.Fprintf(&sb, " Use vocabulary and themes appropriate for age level %d.", unit.AgeLevel)
	fmt.Fprintf(&sb, " Each installment must be close to %d words.", WordBudget(unit.AgeLevel))

	switch unit.Format {
	case entity.UnitFormatTheatre:
		sb.WriteString(" Write the installment as an act of a stage play: label every line of dialogue with the character name in capitals, include stage directions in parentheses, and keep the entire act in a single physical location.")
	case entity.UnitFormatScreenplay:
		sb.WriteString(" Write the installment as a screenplay scene: open with an INT. or EXT. slugline, use action lines and centered character cues, and keep the scene in a single physical location.")
	default:
		sb.WriteString(" Write the installment as a prose chapter with flowing paragraphs and no headings inside the body.")
	}

	return sb.String()
}

// BuildBodyInstruction 合成正文生成指令。最终单元不再要求悬念结尾。
func BuildBodyInstruction(unit *entity.NarrativeUnit, isFinal bool, guidance string) string {
	var sb strings.Builder

	label := formatLabel(unit.Format)
	if unit.SeqNum <= 1 {
		fmt.Fprintf(&sb, "Write %s 1, the opening installment of the story.", label)
	} else {
		fmt.Fprintf(&sb, "Write %s %d, continuing directly from the context above.", label, unit.SeqNum)
	}

	if isFinal {
		sb.WriteString(" This is the final installment: resolve the story and give it a satisfying ending.")
	} else {
		sb.WriteString(" End on a cliffhanger that makes the reader want the next installment.")
	}

	if g := strings.TrimSpace(guidance); g != "" {
		fmt.Fprintf(&sb, " Additional direction from the reader: %s", g)
	}

	sb.WriteString(" Return only the installment text, no preamble and no notes.")
	return sb.String()
}

// SummaryInstruction 摘要指令，输出将被持久化为后续单元的连续性上下文
func SummaryInstruction() string {
	return "Summarize the installment below in 3 to 5 sentences. Capture the events, character developments and any unresolved threads. Return only the summary text."
}

func genreOrDefault(genre string) string {
	if strings.TrimSpace(genre) == "" {
		return "fiction"
	}
	return genre
}

func formatLabel(format entity.UnitFormat) string {
	switch format {
	case entity.UnitFormatTheatre:
		return "act"
	case entity.UnitFormatScreenplay:
		return "scene"
	default:
		return "chapter"
	}
}
