package imagegen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"storyforge-ai-api/internal/config"
	"storyforge-ai-api/internal/domain/entity"
	"storyforge-ai-api/internal/infrastructure/messaging"
	"storyforge-ai-api/internal/infrastructure/provider"
	"storyforge-ai-api/internal/orchestrator"
)

// ---- 测试替身 ----

type fakeImageRepo struct {
	mu   sync.Mutex
	rows map[string]*entity.Image
	n    int

	// beforeComplete 在 MarkComplete 的条件写之前执行，用来模拟竞态取消
	beforeComplete func()
}

func newFakeImageRepo() *fakeImageRepo {
	return &fakeImageRepo{rows: make(map[string]*entity.Image)}
}

func (r *fakeImageRepo) Create(ctx context.Context, image *entity.Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	if image.ID == "" {
		image.ID = fmt.Sprintf("img-%d", r.n)
	}
	r.rows[image.ID] = image
	return nil
}

func (r *fakeImageRepo) GetByID(ctx context.Context, id string) (*entity.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

func (r *fakeImageRepo) MarkProcessing(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || (row.Status != entity.ImageStatusPending && row.Status != entity.ImageStatusProcessing) {
		return false, nil
	}
	row.Status = entity.ImageStatusProcessing
	return true, nil
}

func (r *fakeImageRepo) MarkComplete(ctx context.Context, id, assetURL string) (bool, error) {
	if r.beforeComplete != nil {
		r.beforeComplete()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.Status != entity.ImageStatusProcessing || strings.TrimSpace(assetURL) == "" {
		return false, nil
	}
	row.Status = entity.ImageStatusComplete
	row.AssetURL = assetURL
	row.ErrorMessage = ""
	return true, nil
}

func (r *fakeImageRepo) MarkError(ctx context.Context, id, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || (row.Status != entity.ImageStatusPending && row.Status != entity.ImageStatusProcessing) {
		return false, nil
	}
	row.Status = entity.ImageStatusError
	row.ErrorMessage = errMsg
	return true, nil
}

func (r *fakeImageRepo) Cancel(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || entity.IsTerminalImageStatus(row.Status) {
		return false, nil
	}
	row.Status = entity.ImageStatusCancelled
	return true, nil
}

func (r *fakeImageRepo) ListByOwner(ctx context.Context, ownerType entity.ImageOwnerType, ownerID string) ([]*entity.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Image
	for _, row := range r.rows {
		if row.OwnerType == ownerType && row.OwnerID == ownerID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeImageRepo) status(t *testing.T, id string) entity.ImageStatus {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		t.Fatalf("image %s not found", id)
	}
	return row.Status
}

type fakeBookRepo struct {
	books map[string]*entity.Book
}

func (r *fakeBookRepo) Create(ctx context.Context, book *entity.Book) error {
	r.books[book.ID] = book
	return nil
}

func (r *fakeBookRepo) GetByID(ctx context.Context, id string) (*entity.Book, error) {
	return r.books[id], nil
}

func (r *fakeBookRepo) Update(ctx context.Context, book *entity.Book) error {
	r.books[book.ID] = book
	return nil
}

func (r *fakeBookRepo) SetCoverImage(ctx context.Context, bookID, imageID string) error {
	if b, ok := r.books[bookID]; ok {
		b.CoverImageID = imageID
	}
	return nil
}

type fakeUnitRepo struct {
	units map[string]*entity.NarrativeUnit
}

func (r *fakeUnitRepo) Create(ctx context.Context, unit *entity.NarrativeUnit) error {
	r.units[unit.ID] = unit
	return nil
}

func (r *fakeUnitRepo) GetByID(ctx context.Context, id string) (*entity.NarrativeUnit, error) {
	return r.units[id], nil
}

func (r *fakeUnitRepo) Update(ctx context.Context, unit *entity.NarrativeUnit) error {
	return nil
}

func (r *fakeUnitRepo) UpdateStatus(ctx context.Context, id string, status entity.UnitStatus, errMsg string) error {
	return nil
}

func (r *fakeUnitRepo) SetHeaderImage(ctx context.Context, unitID, imageID string) error {
	if u, ok := r.units[unitID]; ok {
		u.HeaderImageID = imageID
	}
	return nil
}

func (r *fakeUnitRepo) ListByBook(ctx context.Context, bookID string) ([]*entity.NarrativeUnit, error) {
	return nil, nil
}

func (r *fakeUnitRepo) GetByBookAndSeq(ctx context.Context, bookID string, seqNum int) (*entity.NarrativeUnit, error) {
	return nil, nil
}

func (r *fakeUnitRepo) CountCompleted(ctx context.Context, bookID string) (int, error) {
	return 0, nil
}

type fakeCharacterRepo struct {
	characters []*entity.CharacterProfile
}

func (r *fakeCharacterRepo) Create(ctx context.Context, c *entity.CharacterProfile) error {
	r.characters = append(r.characters, c)
	return nil
}

func (r *fakeCharacterRepo) GetByID(ctx context.Context, id string) (*entity.CharacterProfile, error) {
	for _, c := range r.characters {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (r *fakeCharacterRepo) Update(ctx context.Context, c *entity.CharacterProfile) error {
	return nil
}

func (r *fakeCharacterRepo) SetPortraitImage(ctx context.Context, characterID, imageID string) error {
	for _, c := range r.characters {
		if c.ID == characterID {
			c.PortraitImageID = imageID
		}
	}
	return nil
}

func (r *fakeCharacterRepo) ListByBook(ctx context.Context, bookID string) ([]*entity.CharacterProfile, error) {
	var out []*entity.CharacterProfile
	for _, c := range r.characters {
		if c.BookID == bookID {
			out = append(out, c)
		}
	}
	return out, nil
}

// fakeImageClient 图像厂商替身，记录最后一次调用
type fakeImageClient struct {
	result     *provider.ImageResult
	chatResult *provider.Result

	lastPrompt string
	lastParams provider.ImageParams
	imageCalls int
}

func (f *fakeImageClient) Name() string             { return "fake" }
func (f *fakeImageClient) DefaultModel() string     { return "fake-image" }
func (f *fakeImageClient) CostPer1KTokens() float64 { return 0 }

func (f *fakeImageClient) Complete(ctx context.Context, prompt string, params provider.Params) *provider.Result {
	return f.chat()
}

func (f *fakeImageClient) Chat(ctx context.Context, messages []provider.Message, params provider.Params) *provider.Result {
	return f.chat()
}

func (f *fakeImageClient) chat() *provider.Result {
	if f.chatResult != nil {
		return f.chatResult
	}
	return &provider.Result{Failure: &provider.Failure{StatusCode: 500, Message: "no scripted chat result"}}
}

func (f *fakeImageClient) Image(ctx context.Context, prompt string, params provider.ImageParams) *provider.ImageResult {
	f.imageCalls++
	f.lastPrompt = prompt
	f.lastParams = params
	return f.result
}

type fakeStore struct {
	err      error
	lastPath string
	lastType string
	lastData []byte
}

func (s *fakeStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.lastPath = path
	s.lastType = contentType
	s.lastData = data
	return "https://assets.example.com/" + path, nil
}

type fakeEvents struct {
	generated []string
	updated   []string
}

func (e *fakeEvents) ImageGenerated(ctx context.Context, imageID, bookID, status string) {
	e.generated = append(e.generated, imageID+":"+status)
}

func (e *fakeEvents) EntityUpdated(ctx context.Context, entityType, entityID, bookID string, data map[string]string) {
	e.updated = append(e.updated, entityType+":"+entityID)
}

type fakeJobs struct {
	published []*messaging.ImageJobMessage
}

func (j *fakeJobs) PublishImageJob(ctx context.Context, job *messaging.ImageJobMessage) (string, error) {
	j.published = append(j.published, job)
	return job.JobID, nil
}

type fakeThrottle struct {
	allow bool
	calls int
}

func (t *fakeThrottle) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	t.calls++
	return t.allow, nil
}

func (t *fakeThrottle) Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	if !t.allow {
		return 0, nil
	}
	return limit - t.calls, nil
}

// fakeTx 记录事务边界，fn 直接执行
type fakeTx struct {
	calls  int
	failed int
}

func (tx *fakeTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx.calls++
	if err := fn(ctx); err != nil {
		tx.failed++
		return err
	}
	return nil
}

type pipelineFixture struct {
	pipeline *Pipeline
	images   *fakeImageRepo
	books    *fakeBookRepo
	units    *fakeUnitRepo
	chars    *fakeCharacterRepo
	tx       *fakeTx
	client   *fakeImageClient
	store    *fakeStore
	events   *fakeEvents
	jobs     *fakeJobs
}

func newFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		images: newFakeImageRepo(),
		books:  &fakeBookRepo{books: make(map[string]*entity.Book)},
		units:  &fakeUnitRepo{units: make(map[string]*entity.NarrativeUnit)},
		chars:  &fakeCharacterRepo{},
		tx:     &fakeTx{},
		client: &fakeImageClient{},
		store:  &fakeStore{},
		events: &fakeEvents{},
		jobs:   &fakeJobs{},
	}
	f.pipeline = NewPipeline(Deps{
		Images:     f.images,
		Books:      f.books,
		Units:      f.units,
		Characters: f.chars,
		Tx:         f.tx,
		Client:     f.client,
		Store:      f.store,
		NewChat: func(workflow string) *orchestrator.ChatOrchestrator {
			return orchestrator.NewChatOrchestrator(f.client, nil, workflow)
		},
		Events: f.events,
		Jobs:   f.jobs,
	})
	return f
}

func seedPendingImage(f *pipelineFixture, ownerType entity.ImageOwnerType, ownerID string) *entity.Image {
	img := entity.NewImage(string(ownerType), ownerID, "a lighthouse at dusk", AspectRatioFor(ownerType))
	_ = f.images.Create(context.Background(), img)
	return img
}

func assetServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ---- 用例 ----

func TestGenerateHappyPath(t *testing.T) {
	f := newFixture(t)
	srv := assetServer(t)
	f.client.result = &provider.ImageResult{URL: srv.URL + "/tmp/img.png", Model: "fake-image"}

	book := &entity.Book{ID: "book-1"}
	f.books.books[book.ID] = book
	img := seedPendingImage(f, entity.ImageOwnerBookCover, book.ID)

	if err := f.pipeline.Generate(context.Background(), img.ID); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if got := f.images.status(t, img.ID); got != entity.ImageStatusComplete {
		t.Fatalf("status = %s, want complete", got)
	}
	stored, _ := f.images.GetByID(context.Background(), img.ID)
	if !strings.HasPrefix(stored.AssetURL, "https://assets.example.com/images/"+img.ID) {
		t.Fatalf("asset url = %q, want durable store url", stored.AssetURL)
	}
	if string(f.store.lastData) != "png-bytes" {
		t.Fatalf("stored data = %q", f.store.lastData)
	}
	if f.store.lastType != "image/png" {
		t.Fatalf("content type = %q", f.store.lastType)
	}
	if len(f.events.generated) != 1 || f.events.generated[0] != img.ID+":complete" {
		t.Fatalf("events = %v", f.events.generated)
	}
	if f.client.lastParams.AspectRatio != AspectRatioFor(entity.ImageOwnerBookCover) {
		t.Fatalf("aspect ratio = %q", f.client.lastParams.AspectRatio)
	}
}

func TestGenerateSkipsTerminalImage(t *testing.T) {
	f := newFixture(t)
	img := seedPendingImage(f, entity.ImageOwnerBookCover, "book-1")
	if _, err := f.images.Cancel(context.Background(), img.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if err := f.pipeline.Generate(context.Background(), img.ID); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if f.client.imageCalls != 0 {
		t.Fatal("provider must not be called for a terminal image")
	}
	if got := f.images.status(t, img.ID); got != entity.ImageStatusCancelled {
		t.Fatalf("status = %s, cancelled is final", got)
	}
}

func TestCancelDuringGenerationDropsLateResult(t *testing.T) {
	f := newFixture(t)
	srv := assetServer(t)
	f.client.result = &provider.ImageResult{URL: srv.URL + "/tmp/img.png"}

	img := seedPendingImage(f, entity.ImageOwnerBookCover, "book-1")
	f.images.beforeComplete = func() {
		_, _ = f.images.Cancel(context.Background(), img.ID)
	}

	if err := f.pipeline.Generate(context.Background(), img.ID); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if got := f.images.status(t, img.ID); got != entity.ImageStatusCancelled {
		t.Fatalf("status = %s, late result must not overwrite cancelled", got)
	}
	stored, _ := f.images.GetByID(context.Background(), img.ID)
	if stored.AssetURL != "" {
		t.Fatalf("asset url = %q, want empty on cancelled row", stored.AssetURL)
	}
	for _, ev := range f.events.generated {
		if strings.HasSuffix(ev, ":complete") {
			t.Fatal("no completion event for a cancelled image")
		}
	}
}

func TestGenerateProviderFailureMarksError(t *testing.T) {
	f := newFixture(t)
	f.client.result = &provider.ImageResult{Failure: &provider.Failure{StatusCode: 502, Message: "upstream exploded"}}

	img := seedPendingImage(f, entity.ImageOwnerBookCover, "book-1")

	if err := f.pipeline.Generate(context.Background(), img.ID); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if got := f.images.status(t, img.ID); got != entity.ImageStatusError {
		t.Fatalf("status = %s, want error", got)
	}
	stored, _ := f.images.GetByID(context.Background(), img.ID)
	if stored.ErrorMessage != "upstream exploded" {
		t.Fatalf("error message = %q", stored.ErrorMessage)
	}
}

func TestStorageFailureKeepsTransientURL(t *testing.T) {
	f := newFixture(t)
	srv := assetServer(t)
	transient := srv.URL + "/tmp/img.png"
	f.client.result = &provider.ImageResult{URL: transient}
	f.store.err = errors.New("bucket unavailable")

	img := seedPendingImage(f, entity.ImageOwnerBookCover, "book-1")

	if err := f.pipeline.Generate(context.Background(), img.ID); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if got := f.images.status(t, img.ID); got != entity.ImageStatusComplete {
		t.Fatalf("status = %s, storage failure must not fail the generation", got)
	}
	stored, _ := f.images.GetByID(context.Background(), img.ID)
	if stored.AssetURL != transient {
		t.Fatalf("asset url = %q, want transient %q", stored.AssetURL, transient)
	}
}

func TestThrottledJobIsRetriable(t *testing.T) {
	f := newFixture(t)
	throttle := &fakeThrottle{allow: false}
	f.pipeline.throttle = throttle
	f.pipeline.rateLimit = config.RateLimitConfig{Enabled: true, Limit: 1, Window: time.Minute}

	img := seedPendingImage(f, entity.ImageOwnerBookCover, "book-1")

	err := f.pipeline.Generate(context.Background(), img.ID)
	if err == nil {
		t.Fatal("throttled generation must return an error for redelivery")
	}
	if throttle.calls != 1 {
		t.Fatalf("throttle calls = %d", throttle.calls)
	}
	if f.client.imageCalls != 0 {
		t.Fatal("provider must not be called when throttled")
	}
	if got := f.images.status(t, img.ID); got != entity.ImageStatusPending {
		t.Fatalf("status = %s, throttled job must stay pending", got)
	}
}

func TestRegenerateAppendsRowAndRepointsOwner(t *testing.T) {
	f := newFixture(t)
	book := &entity.Book{ID: "book-1"}
	f.books.books[book.ID] = book

	old := seedPendingImage(f, entity.ImageOwnerBookCover, book.ID)
	if _, err := f.images.MarkProcessing(context.Background(), old.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.images.MarkComplete(context.Background(), old.ID, "https://assets.example.com/old.png"); err != nil {
		t.Fatal(err)
	}
	book.CoverImageID = old.ID

	fresh, err := f.pipeline.Regenerate(context.Background(), old.ID)
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}

	if fresh.ID == old.ID {
		t.Fatal("regeneration must create a new row")
	}
	if book.CoverImageID != fresh.ID {
		t.Fatalf("cover ref = %s, want %s", book.CoverImageID, fresh.ID)
	}
	oldRow, _ := f.images.GetByID(context.Background(), old.ID)
	if oldRow.Status != entity.ImageStatusComplete || oldRow.AssetURL != "https://assets.example.com/old.png" {
		t.Fatal("prior row must stay untouched")
	}
	if fresh.Prompt != old.Prompt {
		t.Fatalf("prompt = %q, want inherited %q", fresh.Prompt, old.Prompt)
	}
	if len(f.jobs.published) != 1 {
		t.Fatalf("published jobs = %d", len(f.jobs.published))
	}
	if f.jobs.published[0].ImageID != fresh.ID || f.jobs.published[0].IdempotencyKey != fresh.ID {
		t.Fatalf("job = %+v", f.jobs.published[0])
	}
	if f.tx.calls != 1 {
		t.Fatalf("tx calls = %d, new row and owner repoint must share one transaction", f.tx.calls)
	}
}

func TestGenerateTransportFailureLeavesRowRetriable(t *testing.T) {
	f := newFixture(t)
	srv := assetServer(t)
	f.client.result = &provider.ImageResult{
		Failure: &provider.Failure{StatusCode: 500, Message: "transport failure: connection refused"},
	}

	img := seedPendingImage(f, entity.ImageOwnerBookCover, "book-1")

	err := f.pipeline.Generate(context.Background(), img.ID)
	if err == nil {
		t.Fatal("transport failure must return an error for redelivery")
	}
	if got := f.images.status(t, img.ID); got != entity.ImageStatusProcessing {
		t.Fatalf("status = %s, transport failure must not pin the row to error", got)
	}
	stored, _ := f.images.GetByID(context.Background(), img.ID)
	if stored.ErrorMessage != "" {
		t.Fatalf("error message = %q, want empty", stored.ErrorMessage)
	}

	// 厂商恢复后的重投在同一行上完成
	f.client.result = &provider.ImageResult{URL: srv.URL + "/tmp/img.png"}
	if err := f.pipeline.Generate(context.Background(), img.ID); err != nil {
		t.Fatalf("Generate after recovery: %v", err)
	}
	if got := f.images.status(t, img.ID); got != entity.ImageStatusComplete {
		t.Fatalf("status = %s, want complete", got)
	}
}

func TestBuildRosterSequencesLabelsByGender(t *testing.T) {
	roster := BuildRoster([]*entity.CharacterProfile{
		{Name: "Arno", Gender: "male"},
		{Name: "Beth", Gender: "female"},
		{Name: "Caleb", Gender: "male"},
		{Name: "Dara", Gender: ""},
		{Name: "Elin", Gender: "female"},
	})

	want := []string{"Male 1", "Female 1", "Male 2", "Person 1", "Female 2"}
	if len(roster) != len(want) {
		t.Fatalf("roster size = %d", len(roster))
	}
	for i, entry := range roster {
		if entry.Label != want[i] {
			t.Fatalf("label[%d] = %q, want %q", i, entry.Label, want[i])
		}
	}
}

func TestReferenceImagesForwardOnlyCompletePortraits(t *testing.T) {
	f := newFixture(t)
	srv := assetServer(t)

	book := &entity.Book{ID: "book-1"}
	f.books.books[book.ID] = book

	unit := &entity.NarrativeUnit{ID: "unit-1", BookID: book.ID, Status: entity.UnitStatusComplete}
	unit.SetBody("Arno and Beth crossed the bridge at dawn.")
	f.units.units[unit.ID] = unit

	arno := &entity.CharacterProfile{ID: "char-1", BookID: book.ID, Name: "Arno", Gender: "male"}
	beth := &entity.CharacterProfile{ID: "char-2", BookID: book.ID, Name: "Beth", Gender: "female"}
	f.chars.characters = []*entity.CharacterProfile{arno, beth}

	// Arno 的肖像已完成，Beth 的还在生成中
	arnoPortrait := entity.NewImage(string(entity.ImageOwnerCharacterPortrait), arno.ID, "p", "1:1")
	_ = f.images.Create(context.Background(), arnoPortrait)
	_, _ = f.images.MarkProcessing(context.Background(), arnoPortrait.ID)
	_, _ = f.images.MarkComplete(context.Background(), arnoPortrait.ID, "https://assets.example.com/arno.png")
	arno.PortraitImageID = arnoPortrait.ID

	bethPortrait := entity.NewImage(string(entity.ImageOwnerCharacterPortrait), beth.ID, "p", "1:1")
	_ = f.images.Create(context.Background(), bethPortrait)
	beth.PortraitImageID = bethPortrait.ID

	f.client.chatResult = &provider.Result{
		Response: &provider.CanonicalResponse{
			Choices: []provider.Choice{{Message: provider.Message{
				Role:    provider.RoleAssistant,
				Content: `{"present": ["Male 1", "Female 1"]}`,
			}}},
		},
	}
	f.client.result = &provider.ImageResult{URL: srv.URL + "/tmp/scene.png"}

	header := seedPendingImage(f, entity.ImageOwnerChapterHeader, unit.ID)
	if err := f.pipeline.Generate(context.Background(), header.ID); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	refs := f.client.lastParams.ReferenceImages
	if len(refs) != 1 {
		t.Fatalf("reference images = %v, want only the completed portrait", refs)
	}
	if refs[0] != "https://assets.example.com/arno.png" {
		t.Fatalf("reference = %q", refs[0])
	}
}

func TestRequestUnitIllustrations(t *testing.T) {
	f := newFixture(t)
	book := &entity.Book{ID: "book-1", Genre: "fantasy"}
	f.books.books[book.ID] = book

	unit := &entity.NarrativeUnit{ID: "unit-1", BookID: book.ID, Genre: "fantasy", Status: entity.UnitStatusComplete}
	unit.SetBody("One.\n\nTwo.\n\nThree.\n\nFour.")
	f.units.units[unit.ID] = unit

	images, err := f.pipeline.RequestUnitIllustrations(context.Background(), unit.ID, 2)
	if err != nil {
		t.Fatalf("RequestUnitIllustrations: %v", err)
	}

	// 一张章头图 + 第 2、4 段各一张章内插图
	if len(images) != 3 {
		t.Fatalf("images = %d, want 3", len(images))
	}
	if images[0].OwnerType != entity.ImageOwnerChapterHeader {
		t.Fatalf("first image owner type = %s", images[0].OwnerType)
	}
	if images[1].ParagraphIndex == nil || *images[1].ParagraphIndex != 1 {
		t.Fatalf("inline index = %v", images[1].ParagraphIndex)
	}
	if images[2].ParagraphIndex == nil || *images[2].ParagraphIndex != 3 {
		t.Fatalf("inline index = %v", images[2].ParagraphIndex)
	}
	if len(f.jobs.published) != 3 {
		t.Fatalf("published jobs = %d", len(f.jobs.published))
	}
	for _, img := range images {
		if img.Prompt == "" {
			t.Fatal("unit illustration rows must carry a synthesized prompt")
		}
	}
}

func TestRequestSynthesizesPromptAndDispatches(t *testing.T) {
	f := newFixture(t)
	book := entity.NewBook("mystery", 12, entity.UnitFormatChapter)
	book.ID = "book-1"
	book.Title = "The Hollow Lighthouse"
	book.Premise = "a keeper hears voices in the lamp"
	f.books.books[book.ID] = book

	img, err := f.pipeline.Request(context.Background(), entity.ImageOwnerBookCover, book.ID, nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	if !strings.Contains(img.Prompt, "The Hollow Lighthouse") {
		t.Fatalf("prompt = %q", img.Prompt)
	}
	if img.AspectRatio != AspectRatioFor(entity.ImageOwnerBookCover) {
		t.Fatalf("aspect ratio = %q", img.AspectRatio)
	}
	if got := f.images.status(t, img.ID); got != entity.ImageStatusPending {
		t.Fatalf("status = %s, want pending", got)
	}
	if len(f.jobs.published) != 1 || f.jobs.published[0].ImageID != img.ID {
		t.Fatalf("jobs = %+v", f.jobs.published)
	}
}
