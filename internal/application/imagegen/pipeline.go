// Package imagegen 提供插图生成流水线
package imagegen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storyforge-ai-api/internal/config"
	"storyforge-ai-api/internal/domain/entity"
	"storyforge-ai-api/internal/domain/repository"
	"storyforge-ai-api/internal/infrastructure/blobstore"
	"storyforge-ai-api/internal/infrastructure/messaging"
	"storyforge-ai-api/internal/infrastructure/persistence/redis"
	"storyforge-ai-api/internal/infrastructure/provider"
	"storyforge-ai-api/internal/orchestrator"
	apperrors "storyforge-ai-api/pkg/errors"
	"storyforge-ai-api/pkg/logger"
	"storyforge-ai-api/pkg/metrics"
)

var tracer = otel.Tracer("imagegen")

// ChatFactory 按工作流名称创建新的对话编排器（出场判定用）
type ChatFactory func(workflow string) *orchestrator.ChatOrchestrator

// Events 领域事件发布接口
type Events interface {
	ImageGenerated(ctx context.Context, imageID, bookID, status string)
	EntityUpdated(ctx context.Context, entityType, entityID, bookID string, data map[string]string)
}

// JobPublisher 插图生成任务发布接口
type JobPublisher interface {
	PublishImageJob(ctx context.Context, job *messaging.ImageJobMessage) (string, error)
}

// Throttle 跨实例共享的滑动窗口限流
type Throttle interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

// Deps 流水线依赖
type Deps struct {
	Images     repository.ImageRepository
	Books      repository.BookRepository
	Units      repository.UnitRepository
	Characters repository.CharacterRepository
	Tx         repository.Transactor
	Client     provider.Client
	Store      blobstore.Store
	NewChat    ChatFactory
	Events     Events
	Jobs       JobPublisher
	Throttle   Throttle
	RateLimit  config.RateLimitConfig
	// Assets 拉取厂商临时资产用的 HTTP 客户端，nil 时用默认超时
	Assets *http.Client
}

// Pipeline 插图生成流水线。
// 状态机守卫全部走仓储的条件写：迟到的结果撞上终态一律丢弃，
// complete 只与资产 URL 一起落库。
type Pipeline struct {
	images     repository.ImageRepository
	books      repository.BookRepository
	units      repository.UnitRepository
	characters repository.CharacterRepository
	tx         repository.Transactor
	client     provider.Client
	store      blobstore.Store
	newChat    ChatFactory
	events     Events
	jobs       JobPublisher
	throttle   Throttle
	rateLimit  config.RateLimitConfig
	assets     *http.Client
}

// NewPipeline 创建插图流水线
func NewPipeline(deps Deps) *Pipeline {
	assets := deps.Assets
	if assets == nil {
		assets = &http.Client{Timeout: 60 * time.Second}
	}
	return &Pipeline{
		images:     deps.Images,
		books:      deps.Books,
		units:      deps.Units,
		characters: deps.Characters,
		tx:         deps.Tx,
		client:     deps.Client,
		store:      deps.Store,
		newChat:    deps.NewChat,
		events:     deps.Events,
		jobs:       deps.Jobs,
		throttle:   deps.Throttle,
		rateLimit:  deps.RateLimit,
		assets:     assets,
	}
}

// Request 为归属方创建一个新的插图行并投递生成任务。
// 提示词在此处合成并随行持久化，重新生成时沿用。
func (p *Pipeline) Request(ctx context.Context, ownerType entity.ImageOwnerType, ownerID string, paragraphIndex *int) (*entity.Image, error) {
	ctx, span := tracer.Start(ctx, "imagegen.Pipeline.Request",
		trace.WithAttributes(
			attribute.String("owner_type", string(ownerType)),
			attribute.String("owner_id", ownerID),
		))
	defer span.End()

	img := entity.NewImage(string(ownerType), ownerID, "", AspectRatioFor(ownerType))
	img.ParagraphIndex = paragraphIndex

	prompt, err := p.synthesizePrompt(ctx, img)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	img.Prompt = prompt

	if err := p.images.Create(ctx, img); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create image: %w", err)
	}

	if err := p.dispatch(ctx, img); err != nil {
		span.RecordError(err)
		return img, err
	}
	return img, nil
}

// Regenerate 重新生成插图：永远追加新行并把归属方引用重指向新行，
// 旧行原样保留，按 id 仍然可取。新行插入与引用重指在同一事务里，
// 归属方引用不会指向不存在的行。
func (p *Pipeline) Regenerate(ctx context.Context, imageID string) (*entity.Image, error) {
	ctx, span := tracer.Start(ctx, "imagegen.Pipeline.Regenerate",
		trace.WithAttributes(attribute.String("image_id", imageID)))
	defer span.End()

	prior, err := p.images.GetByID(ctx, imageID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	if prior == nil {
		return nil, apperrors.ErrImageNotFound
	}

	img := prior.CopyForRegeneration()
	err = p.withTx(ctx, func(ctx context.Context) error {
		if err := p.images.Create(ctx, img); err != nil {
			return fmt.Errorf("failed to create regenerated image: %w", err)
		}
		return p.repointOwner(ctx, img)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := p.dispatch(ctx, img); err != nil {
		span.RecordError(err)
		return img, err
	}
	return img, nil
}

// withTx 有事务管理器时在事务内执行，没有时直接执行
func (p *Pipeline) withTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.tx == nil {
		return fn(ctx)
	}
	return p.tx.WithTransaction(ctx, fn)
}

// Cancel 取消插图。终态行不可取消，返回 false 表示没有任何修改。
func (p *Pipeline) Cancel(ctx context.Context, imageID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "imagegen.Pipeline.Cancel",
		trace.WithAttributes(attribute.String("image_id", imageID)))
	defer span.End()

	img, err := p.images.GetByID(ctx, imageID)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to load image: %w", err)
	}
	if img == nil {
		return false, apperrors.ErrImageNotFound
	}

	ok, err := p.images.Cancel(ctx, imageID)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to cancel image: %w", err)
	}
	if ok {
		metrics.ImageTransitionsTotal.WithLabelValues(string(img.OwnerType), string(entity.ImageStatusCancelled)).Inc()
		if p.events != nil {
			p.events.ImageGenerated(ctx, imageID, p.resolveBookID(ctx, img), string(entity.ImageStatusCancelled))
		}
	}
	return ok, nil
}

// Generate 执行一次插图生成。worker 从任务流调用。
// 进入 processing 的条件写必须先成功，任何网络调用才会发出；
// 返回 nil 表示消息已处理完毕（含已终态的 no-op），返回错误才会触发重试。
func (p *Pipeline) Generate(ctx context.Context, imageID string) error {
	ctx, span := tracer.Start(ctx, "imagegen.Pipeline.Generate",
		trace.WithAttributes(attribute.String("image_id", imageID)))
	defer span.End()

	ctx = logger.WithContext(ctx, logger.ImageIDKey, imageID)
	log := logger.FromContext(ctx)

	img, err := p.images.GetByID(ctx, imageID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to load image: %w", err)
	}
	if img == nil {
		return apperrors.ErrImageNotFound
	}
	if img.IsTerminal() {
		log.Info("image already terminal, dropping job", "status", string(img.Status))
		return nil
	}

	if p.throttle != nil && p.rateLimit.Enabled {
		key := redis.BuildProviderLimitKey(p.client.Name(), "image")
		allowed, err := p.throttle.Allow(ctx, key, p.rateLimit.Limit, p.rateLimit.Window)
		if err != nil {
			// 限流器故障放行，不因 Redis 抖动拖垮生成
			log.Warn("image throttle check failed", "error", err)
		} else if !allowed {
			return apperrors.New(apperrors.CodeServiceUnavailable, "image generation throttled")
		} else if remaining, rerr := p.throttle.Remaining(ctx, key, p.rateLimit.Limit, p.rateLimit.Window); rerr == nil {
			metrics.ImageQuotaRemaining.WithLabelValues(p.client.Name()).Set(float64(remaining))
		}
	}

	ok, err := p.images.MarkProcessing(ctx, imageID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark image processing: %w", err)
	}
	if !ok {
		// 并发取消或已终态，条件写没命中就什么都不做
		log.Info("image not generatable, dropping job")
		return nil
	}
	metrics.ImageTransitionsTotal.WithLabelValues(string(img.OwnerType), string(entity.ImageStatusProcessing)).Inc()

	started := time.Now()
	bookID := p.resolveBookID(ctx, img)

	prompt := img.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt, err = p.synthesizePrompt(ctx, img)
		if err != nil {
			return p.failImage(ctx, img, bookID, err.Error())
		}
	}

	var refs []string
	if img.OwnerType == entity.ImageOwnerChapterHeader || img.OwnerType == entity.ImageOwnerChapterInline {
		refs = p.referenceImagesFor(ctx, bookID, p.sceneText(ctx, img))
	}

	result := p.client.Image(ctx, prompt, provider.ImageParams{
		AspectRatio:     img.AspectRatio,
		ReferenceImages: refs,
	})
	if result.Failed() {
		if result.Failure.Transient() {
			// 传输层故障重试同一行是安全的：行留在 processing，
			// 交给任务队列按退避重投，次数耗尽由失败回调置为 error
			log.Warn("image provider unreachable, leaving row for retry", "error", result.Failure.Message)
			return fmt.Errorf("image generation transport failure: %w", result.Failure)
		}
		return p.failImage(ctx, img, bookID, result.Failure.Message)
	}

	assetURL := p.persistAsset(ctx, img.ID, result.URL)

	ok, err = p.images.MarkComplete(ctx, img.ID, assetURL)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark image complete: %w", err)
	}
	if !ok {
		// 生成期间被取消，迟到的结果不得覆盖终态
		log.Info("image reached terminal state during generation, result dropped")
		return nil
	}

	metrics.ImageTransitionsTotal.WithLabelValues(string(img.OwnerType), string(entity.ImageStatusComplete)).Inc()
	metrics.ImageGenerationDuration.WithLabelValues(string(img.OwnerType)).
		Observe(time.Since(started).Seconds())

	if p.events != nil {
		p.events.ImageGenerated(ctx, img.ID, bookID, string(entity.ImageStatusComplete))
	}

	log.Info("image generated",
		"owner_type", string(img.OwnerType),
		"asset_url", assetURL,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

// failImage 失败收尾。error 是终态，落库即视为消息处理完毕，
// 恢复路径是重新生成而不是重试同一行。
func (p *Pipeline) failImage(ctx context.Context, img *entity.Image, bookID, reason string) error {
	log := logger.FromContext(ctx)

	ok, err := p.images.MarkError(ctx, img.ID, reason)
	if err != nil {
		return fmt.Errorf("failed to mark image error: %w", err)
	}
	if ok {
		metrics.ImageTransitionsTotal.WithLabelValues(string(img.OwnerType), string(entity.ImageStatusError)).Inc()
		if p.events != nil {
			p.events.ImageGenerated(ctx, img.ID, bookID, string(entity.ImageStatusError))
		}
	}

	log.Error("image generation failed", "reason", reason, "owner_type", string(img.OwnerType))
	return nil
}

// persistAsset 把厂商临时 URL 的资产转存到持久存储。
// 拉取或写入失败时退回临时 URL，生成结果不因存储故障丢失。
func (p *Pipeline) persistAsset(ctx context.Context, imageID, transientURL string) string {
	log := logger.FromContext(ctx)

	data, contentType, err := p.fetchAsset(ctx, transientURL)
	if err != nil {
		metrics.AssetFallbackTotal.Inc()
		log.Warn("asset fetch failed, keeping transient url", "error", err)
		return transientURL
	}

	url, err := p.store.Put(ctx, "images/"+imageID+extensionFor(contentType), data, contentType)
	if err != nil {
		metrics.AssetFallbackTotal.Inc()
		log.Warn("durable asset save failed, keeping transient url", "error", err)
		return transientURL
	}
	return url
}

func (p *Pipeline) fetchAsset(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build asset request: %w", err)
	}

	resp, err := p.assets.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("asset fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read asset body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return data, contentType, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// repointOwner 把归属方的当前图引用重指向新行。
// 章内插图没有单一引用字段，靠 ListByOwner 的时间序取最新行。
func (p *Pipeline) repointOwner(ctx context.Context, img *entity.Image) error {
	switch img.OwnerType {
	case entity.ImageOwnerBookCover:
		if err := p.books.SetCoverImage(ctx, img.OwnerID, img.ID); err != nil {
			return fmt.Errorf("failed to repoint cover image: %w", err)
		}
	case entity.ImageOwnerCharacterPortrait:
		if err := p.characters.SetPortraitImage(ctx, img.OwnerID, img.ID); err != nil {
			return fmt.Errorf("failed to repoint portrait image: %w", err)
		}
	case entity.ImageOwnerChapterHeader:
		if err := p.units.SetHeaderImage(ctx, img.OwnerID, img.ID); err != nil {
			return fmt.Errorf("failed to repoint header image: %w", err)
		}
	default:
		return nil
	}

	if p.events != nil {
		p.events.EntityUpdated(ctx, ownerEntityType(img.OwnerType), img.OwnerID, p.resolveBookID(ctx, img),
			map[string]string{"image_id": img.ID})
	}
	return nil
}

func ownerEntityType(ownerType entity.ImageOwnerType) string {
	switch ownerType {
	case entity.ImageOwnerBookCover:
		return "book"
	case entity.ImageOwnerCharacterPortrait:
		return "character"
	default:
		return "narrative_unit"
	}
}

// dispatch 投递生成任务，幂等键取图片行 ID
func (p *Pipeline) dispatch(ctx context.Context, img *entity.Image) error {
	if p.jobs == nil {
		return nil
	}
	_, err := p.jobs.PublishImageJob(ctx, &messaging.ImageJobMessage{
		JobID:          uuid.NewString(),
		BookID:         p.resolveBookID(ctx, img),
		ImageID:        img.ID,
		IdempotencyKey: img.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to publish image job: %w", err)
	}
	return nil
}

// resolveBookID 反查插图所属书籍（用于事件与日志，失败时为空）
func (p *Pipeline) resolveBookID(ctx context.Context, img *entity.Image) string {
	switch img.OwnerType {
	case entity.ImageOwnerBookCover:
		return img.OwnerID
	case entity.ImageOwnerCharacterPortrait:
		character, err := p.characters.GetByID(ctx, img.OwnerID)
		if err != nil || character == nil {
			return ""
		}
		return character.BookID
	case entity.ImageOwnerChapterHeader, entity.ImageOwnerChapterInline:
		unit, err := p.units.GetByID(ctx, img.OwnerID)
		if err != nil || unit == nil {
			return ""
		}
		return unit.BookID
	default:
		return ""
	}
}

// sceneText 取出场判定用的场景片段
func (p *Pipeline) sceneText(ctx context.Context, img *entity.Image) string {
	unit, err := p.units.GetByID(ctx, img.OwnerID)
	if err != nil || unit == nil {
		return ""
	}
	return SceneExcerpt(unit.BodyText, img.ParagraphIndex)
}
