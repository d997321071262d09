// Package narrative 提供叙事单元的生成编排
package narrative

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storyforge-ai-api/internal/domain/entity"
	"storyforge-ai-api/internal/domain/repository"
	"storyforge-ai-api/internal/orchestrator"
	apperrors "storyforge-ai-api/pkg/errors"
	"storyforge-ai-api/pkg/logger"
	"storyforge-ai-api/pkg/metrics"
)

var tracer = otel.Tracer("narrative")

// ChatFactory 按工作流名称创建新的对话编排器。
// 编排器是单任务独占的，每一步生成都要新实例。
type ChatFactory func(workflow string) *orchestrator.ChatOrchestrator

// Events 领域事件发布接口
type Events interface {
	EntityUpdated(ctx context.Context, entityType, entityID, bookID string, data map[string]string)
	CharacterCreated(ctx context.Context, characterID, bookID, name string)
}

// Builder 叙事构建器。串联人设提示词、连续性注入、正文生成、
// 摘要和角色提取。任何一步补全为空都是整次构建的硬失败，
// 半成品永远不会以 complete 落库。
type Builder struct {
	books      repository.BookRepository
	units      repository.UnitRepository
	characters repository.CharacterRepository
	newChat    ChatFactory
	events     Events
}

// NewBuilder 创建叙事构建器
func NewBuilder(
	books repository.BookRepository,
	units repository.UnitRepository,
	characters repository.CharacterRepository,
	newChat ChatFactory,
	events Events,
) *Builder {
	return &Builder{
		books:      books,
		units:      units,
		characters: characters,
		newChat:    newChat,
		events:     events,
	}
}

// AppendUnit 为书籍追加下一个叙事单元并生成内容。
// 序号取自已完成单元数，失败的序号不会被复用。
func (b *Builder) AppendUnit(ctx context.Context, bookID string, isFinal bool, guidance string) (*entity.NarrativeUnit, error) {
	ctx, span := tracer.Start(ctx, "narrative.Builder.AppendUnit",
		trace.WithAttributes(attribute.String("book_id", bookID)))
	defer span.End()

	book, err := b.books.GetByID(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to load book: %w", err)
	}
	if book == nil {
		return nil, apperrors.ErrBookNotFound
	}

	completed, err := b.units.CountCompleted(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to count completed units: %w", err)
	}

	unit := entity.NewNarrativeUnit(book, completed+1)
	if err := b.units.Create(ctx, unit); err != nil {
		return nil, fmt.Errorf("failed to create narrative unit: %w", err)
	}

	if err := b.Generate(ctx, book, unit, isFinal, guidance); err != nil {
		return unit, err
	}
	return unit, nil
}

// Regenerate 重新生成已有单元
func (b *Builder) Regenerate(ctx context.Context, bookID, unitID string, isFinal bool, guidance string) error {
	ctx, span := tracer.Start(ctx, "narrative.Builder.Regenerate",
		trace.WithAttributes(attribute.String("unit_id", unitID)))
	defer span.End()

	book, err := b.books.GetByID(ctx, bookID)
	if err != nil {
		return fmt.Errorf("failed to load book: %w", err)
	}
	if book == nil {
		return apperrors.ErrBookNotFound
	}

	unit, err := b.units.GetByID(ctx, unitID)
	if err != nil {
		return fmt.Errorf("failed to load narrative unit: %w", err)
	}
	if unit == nil {
		return apperrors.ErrUnitNotFound
	}

	return b.Generate(ctx, book, unit, isFinal, guidance)
}

// Generate 执行一次完整的单元生成。
// 失败时只写状态和错误信息，该槽位既有的完整正文保持原样。
func (b *Builder) Generate(ctx context.Context, book *entity.Book, unit *entity.NarrativeUnit, isFinal bool, guidance string) error {
	ctx, span := tracer.Start(ctx, "narrative.Builder.Generate",
		trace.WithAttributes(
			attribute.String("unit_id", unit.ID),
			attribute.Int("seq_num", unit.SeqNum),
			attribute.String("format", string(unit.Format)),
		))
	defer span.End()

	ctx = logger.WithContext(ctx, logger.UnitIDKey, unit.ID)
	log := logger.FromContext(ctx)
	started := time.Now()

	if err := b.units.UpdateStatus(ctx, unit.ID, entity.UnitStatusGenerating, ""); err != nil {
		return fmt.Errorf("failed to mark unit generating: %w", err)
	}

	chat := b.newChat("narrative_body")
	chat.SetTemperature(0.8)
	chat.AddSystemMessage(BuildPersona(unit))

	if err := b.injectContinuity(ctx, chat, unit); err != nil {
		return b.fail(ctx, unit, err)
	}

	chat.AddUserMessage(BuildBodyInstruction(unit, isFinal, guidance))

	result := chat.Chat(ctx)
	if !result.Succeeded() {
		metrics.NarrativeGenerationTotal.WithLabelValues(string(unit.Format), "error").Inc()
		return b.fail(ctx, unit, generationError(result))
	}
	body := result.CompletionText

	// 摘要用全新指令单独调用，不沿用正文调用的输出格式状态
	summary, err := b.summarize(ctx, body)
	if err != nil {
		metrics.NarrativeGenerationTotal.WithLabelValues(string(unit.Format), "error").Inc()
		return b.fail(ctx, unit, err)
	}

	unit.SetBody(body)
	unit.SummaryText = summary
	unit.GenerationMetadata = &entity.GenerationMetadata{
		Model:            result.Model,
		Provider:         result.Provider,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		TotalCost:        result.TotalCost,
		Temperature:      0.8,
		GeneratedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	unit.MarkComplete()

	if err := b.units.Update(ctx, unit); err != nil {
		return fmt.Errorf("failed to persist completed unit: %w", err)
	}

	metrics.NarrativeGenerationTotal.WithLabelValues(string(unit.Format), "complete").Inc()
	metrics.NarrativeGenerationDuration.WithLabelValues(string(unit.Format)).
		Observe(time.Since(started).Seconds())

	if b.events != nil {
		b.events.EntityUpdated(ctx, "narrative_unit", unit.ID, unit.BookID, map[string]string{
			"status":  string(entity.UnitStatusComplete),
			"seq_num": fmt.Sprintf("%d", unit.SeqNum),
		})
	}

	// 角色提取失败不推翻已完成的正文，只记日志
	if _, err := b.ExtractCharacters(ctx, unit); err != nil {
		log.Warn("character extraction failed", "error", err, "unit_id", unit.ID)
	}

	log.Info("narrative unit generated",
		"unit_id", unit.ID,
		"seq_num", unit.SeqNum,
		"word_count", unit.WordCount,
		"cost", result.TotalCost,
	)
	return nil
}

// injectContinuity 注入连续性上下文：前一单元的摘要加结尾段落，
// 以 assistant 角色进入对话，绝不注入完整正文。第一单元没有上文。
func (b *Builder) injectContinuity(ctx context.Context, chat *orchestrator.ChatOrchestrator, unit *entity.NarrativeUnit) error {
	if unit.SeqNum <= 1 {
		return nil
	}

	prior, err := b.units.GetByBookAndSeq(ctx, unit.BookID, unit.SeqNum-1)
	if err != nil {
		return fmt.Errorf("failed to load prior unit: %w", err)
	}
	if prior == nil || prior.Status != entity.UnitStatusComplete {
		return nil
	}

	tail := FinalParagraphs(prior.BodyText, 2)
	chat.AddAssistantMessage(prior.SummaryText)
	chat.AddAssistantMessage(tail)

	var parts []string
	if prior.SummaryText != "" {
		parts = append(parts, prior.SummaryText)
	}
	if tail != "" {
		parts = append(parts, tail)
	}
	unit.ContinuityContext = strings.Join(parts, "\n\n")
	return nil
}

// summarize 对正文做摘要。空摘要是硬失败。
func (b *Builder) summarize(ctx context.Context, body string) (string, error) {
	chat := b.newChat("narrative_summary")
	chat.SetTemperature(0.3)
	chat.AddSystemMessage(SummaryInstruction())
	chat.AddUserMessage(body)

	result := chat.Chat(ctx)
	if !result.Succeeded() {
		return "", generationError(result)
	}
	return result.CompletionText, nil
}

// GenerateTitle 为书籍生成标题
func (b *Builder) GenerateTitle(ctx context.Context, book *entity.Book, openingBody string) error {
	ctx, span := tracer.Start(ctx, "narrative.Builder.GenerateTitle",
		trace.WithAttributes(attribute.String("book_id", book.ID)))
	defer span.End()

	chat := b.newChat("book_title")
	chat.SetTemperature(0.9)
	chat.AddSystemMessage(fmt.Sprintf(
		"You are naming a new %s book for a %s audience. Respond with the title only, no quotes and no explanation.",
		genreOrDefault(book.Genre), AudienceLabel(book.AgeLevel)))
	chat.AddUserMessage("Premise: " + book.Premise)
	chat.AddUserMessage("Opening installment:\n" + openingBody)

	result := chat.Chat(ctx)
	if !result.Succeeded() {
		return generationError(result)
	}

	book.Title = strings.Trim(result.CompletionText, "\"' \n")
	book.UpdatedAt = time.Now()
	if err := b.books.Update(ctx, book); err != nil {
		return fmt.Errorf("failed to persist book title: %w", err)
	}

	if b.events != nil {
		b.events.EntityUpdated(ctx, "book", book.ID, book.ID, map[string]string{"title": book.Title})
	}
	return nil
}

// Bootstrap 新书首次生成：第一单元、书名、角色提取
func (b *Builder) Bootstrap(ctx context.Context, bookID, guidance string) error {
	ctx, span := tracer.Start(ctx, "narrative.Builder.Bootstrap",
		trace.WithAttributes(attribute.String("book_id", bookID)))
	defer span.End()

	book, err := b.books.GetByID(ctx, bookID)
	if err != nil {
		return fmt.Errorf("failed to load book: %w", err)
	}
	if book == nil {
		return apperrors.ErrBookNotFound
	}

	book.Status = entity.BookStatusGenerating
	if err := b.books.Update(ctx, book); err != nil {
		return fmt.Errorf("failed to mark book generating: %w", err)
	}

	unit, err := b.AppendUnit(ctx, bookID, false, guidance)
	if err != nil {
		book.Status = entity.BookStatusError
		if updateErr := b.books.Update(ctx, book); updateErr != nil {
			logger.FromContext(ctx).Error("failed to mark book error", "error", updateErr, "book_id", book.ID)
		}
		return err
	}

	if err := b.GenerateTitle(ctx, book, unit.BodyText); err != nil {
		// 书名失败不推翻已完成的第一单元
		logger.FromContext(ctx).Warn("book title generation failed", "error", err, "book_id", book.ID)
	}

	book.Status = entity.BookStatusComplete
	if err := b.books.Update(ctx, book); err != nil {
		return fmt.Errorf("failed to mark book complete: %w", err)
	}
	return nil
}

// fail 失败收尾：持久化错误状态后把错误抛给调度器做重试记账
func (b *Builder) fail(ctx context.Context, unit *entity.NarrativeUnit, cause error) error {
	if err := b.units.UpdateStatus(ctx, unit.ID, entity.UnitStatusError, cause.Error()); err != nil {
		logger.FromContext(ctx).Error("failed to persist unit error state", "error", err, "unit_id", unit.ID)
	}
	if b.events != nil {
		b.events.EntityUpdated(ctx, "narrative_unit", unit.ID, unit.BookID, map[string]string{
			"status": string(entity.UnitStatusError),
		})
	}
	return cause
}

// generationError 把生成结果的失败转成错误
func generationError(result *orchestrator.GenerationResult) error {
	code := result.ErrorKind
	if code == "" {
		code = apperrors.CodeGenerationFailed
	}
	msg := "generation failed"
	if result.Failure != nil {
		msg = result.Failure.Message
	}
	return apperrors.New(code, msg)
}

// FinalParagraphs 取正文结尾最多 n 个非空段落
func FinalParagraphs(body string, n int) string {
	if n <= 0 {
		return ""
	}

	blocks := strings.Split(body, "\n\n")
	var paragraphs []string
	for _, block := range blocks {
		if strings.TrimSpace(block) != "" {
			paragraphs = append(paragraphs, strings.TrimSpace(block))
		}
	}

	if len(paragraphs) > n {
		paragraphs = paragraphs[len(paragraphs)-n:]
	}
	return strings.Join(paragraphs, "\n\n")
}
