// Package imagegen 提供插图生成流水线
package imagegen

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"storyforge-ai-api/internal/domain/entity"
	apperrors "storyforge-ai-api/pkg/errors"
	"storyforge-ai-api/pkg/logger"
)

// inlineDispatchConcurrency 章内插图任务投递并发上限
const inlineDispatchConcurrency = 4

// RequestUnitIllustrations 为已完成的叙事单元创建整套插图行：
// 一张章头图，外加每 inlineEvery 个段落一张章内插图。
// 行先全部落库，任务投递并发进行；单条投递失败不回滚其余行，
// 未投递的行停留在 pending，可由重新生成补投。
func (p *Pipeline) RequestUnitIllustrations(ctx context.Context, unitID string, inlineEvery int) ([]*entity.Image, error) {
	ctx, span := tracer.Start(ctx, "imagegen.Pipeline.RequestUnitIllustrations",
		trace.WithAttributes(attribute.String("unit_id", unitID)))
	defer span.End()

	unit, err := p.units.GetByID(ctx, unitID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load narrative unit: %w", err)
	}
	if unit == nil {
		return nil, apperrors.ErrUnitNotFound
	}
	if unit.Status != entity.UnitStatusComplete {
		return nil, apperrors.New(apperrors.CodeInvalidParam,
			fmt.Sprintf("unit %s is %s, illustrations need a complete body", unitID, unit.Status))
	}

	images := []*entity.Image{
		p.newUnitImage(unit, entity.ImageOwnerChapterHeader, nil),
	}

	if inlineEvery > 0 {
		paragraphs := splitParagraphs(unit.BodyText)
		for i := inlineEvery - 1; i < len(paragraphs); i += inlineEvery {
			idx := i
			images = append(images, p.newUnitImage(unit, entity.ImageOwnerChapterInline, &idx))
		}
	}

	for _, img := range images {
		if err := p.images.Create(ctx, img); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to create image rows: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inlineDispatchConcurrency)
	for _, img := range images {
		img := img
		g.Go(func() error {
			return p.dispatch(gctx, img)
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		logger.FromContext(ctx).Error("failed to dispatch unit illustrations",
			"error", err, "unit_id", unitID)
		return images, err
	}

	logger.FromContext(ctx).Info("unit illustrations requested",
		"unit_id", unitID, "count", len(images))
	return images, nil
}

func (p *Pipeline) newUnitImage(unit *entity.NarrativeUnit, ownerType entity.ImageOwnerType, idx *int) *entity.Image {
	img := entity.NewImage(string(ownerType), unit.ID, ScenePrompt(unit, idx), AspectRatioFor(ownerType))
	img.ParagraphIndex = idx
	return img
}
