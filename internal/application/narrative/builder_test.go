package narrative

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"storyforge-ai-api/internal/domain/entity"
	"storyforge-ai-api/internal/infrastructure/provider"
	"storyforge-ai-api/internal/orchestrator"
)

// ---- 测试替身 ----

type fakeBookRepo struct {
	books map[string]*entity.Book
}

func newFakeBookRepo() *fakeBookRepo {
	return &fakeBookRepo{books: make(map[string]*entity.Book)}
}

func (r *fakeBookRepo) Create(ctx context.Context, book *entity.Book) error {
	if book.ID == "" {
		book.ID = fmt.Sprintf("book-%d", len(r.books)+1)
	}
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
	mu    sync.Mutex
	units map[string]*entity.NarrativeUnit
	n     int

	statusWrites []string
}

func newFakeUnitRepo() *fakeUnitRepo {
	return &fakeUnitRepo{units: make(map[string]*entity.NarrativeUnit)}
}

func (r *fakeUnitRepo) Create(ctx context.Context, unit *entity.NarrativeUnit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	if unit.ID == "" {
		unit.ID = fmt.Sprintf("unit-%d", r.n)
	}
	r.units[unit.ID] = unit
	return nil
}

func (r *fakeUnitRepo) GetByID(ctx context.Context, id string) (*entity.NarrativeUnit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.units[id], nil
}

func (r *fakeUnitRepo) Update(ctx context.Context, unit *entity.NarrativeUnit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[unit.ID] = unit
	return nil
}

func (r *fakeUnitRepo) UpdateStatus(ctx context.Context, id string, status entity.UnitStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.units[id]; ok {
		u.Status = status
		u.ErrorMessage = errMsg
	}
	r.statusWrites = append(r.statusWrites, string(status))
	return nil
}

func (r *fakeUnitRepo) SetHeaderImage(ctx context.Context, unitID, imageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.units[unitID]; ok {
		u.HeaderImageID = imageID
	}
	return nil
}

func (r *fakeUnitRepo) ListByBook(ctx context.Context, bookID string) ([]*entity.NarrativeUnit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.NarrativeUnit
	for _, u := range r.units {
		if u.BookID == bookID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *fakeUnitRepo) GetByBookAndSeq(ctx context.Context, bookID string, seqNum int) (*entity.NarrativeUnit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.units {
		if u.BookID == bookID && u.SeqNum == seqNum {
			return u, nil
		}
	}
	return nil, nil
}

func (r *fakeUnitRepo) CountCompleted(ctx context.Context, bookID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, u := range r.units {
		if u.BookID == bookID && u.Status == entity.UnitStatusComplete {
			count++
		}
	}
	return count, nil
}

type fakeCharacterRepo struct {
	characters []*entity.CharacterProfile
}

func (r *fakeCharacterRepo) Create(ctx context.Context, c *entity.CharacterProfile) error {
	if c.ID == "" {
		c.ID = fmt.Sprintf("char-%d", len(r.characters)+1)
	}
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

type fakeEvents struct {
	updated []string
	created []string
}

func (e *fakeEvents) EntityUpdated(ctx context.Context, entityType, entityID, bookID string, data map[string]string) {
	e.updated = append(e.updated, entityType+":"+entityID)
}

func (e *fakeEvents) CharacterCreated(ctx context.Context, characterID, bookID, name string) {
	e.created = append(e.created, name)
}

// fakeClient 按顺序吐出脚本化结果，并记录每次调用的消息
type fakeClient struct {
	results []*provider.Result
	calls   [][]provider.Message
}

func (f *fakeClient) Name() string             { return "fake" }
func (f *fakeClient) DefaultModel() string     { return "fake-model" }
func (f *fakeClient) CostPer1KTokens() float64 { return 0 }

func (f *fakeClient) Chat(ctx context.Context, messages []provider.Message, params provider.Params) *provider.Result {
	copied := make([]provider.Message, len(messages))
	copy(copied, messages)
	f.calls = append(f.calls, copied)
	if len(f.results) == 0 {
		return &provider.Result{Failure: &provider.Failure{StatusCode: 500, Message: "no scripted result"}}
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

func (f *fakeClient) Complete(ctx context.Context, prompt string, params provider.Params) *provider.Result {
	return f.Chat(ctx, []provider.Message{{Role: provider.RoleUser, Content: prompt}}, params)
}

func (f *fakeClient) Image(ctx context.Context, prompt string, params provider.ImageParams) *provider.ImageResult {
	return &provider.ImageResult{Failure: &provider.Failure{StatusCode: 501, Message: "not supported"}}
}

func ok(text string) *provider.Result {
	return &provider.Result{
		Response: &provider.CanonicalResponse{
			Model:   "fake-model",
			Choices: []provider.Choice{{Message: provider.Message{Role: provider.RoleAssistant, Content: text}}},
			Usage:   provider.Usage{PromptTokens: 5, CompletionTokens: 10, TotalTokens: 15},
		},
	}
}

func failed(msg string) *provider.Result {
	return &provider.Result{Failure: &provider.Failure{StatusCode: 502, Message: msg}}
}

func newTestBuilder(client *fakeClient) (*Builder, *fakeBookRepo, *fakeUnitRepo, *fakeCharacterRepo, *fakeEvents) {
	books := newFakeBookRepo()
	units := newFakeUnitRepo()
	characters := &fakeCharacterRepo{}
	events := &fakeEvents{}
	factory := func(workflow string) *orchestrator.ChatOrchestrator {
		return orchestrator.NewChatOrchestrator(client, nil, workflow)
	}
	return NewBuilder(books, units, characters, factory, events), books, units, characters, events
}

func seedBook(t *testing.T, books *fakeBookRepo, ageLevel int, format entity.UnitFormat) *entity.Book {
	t.Helper()
	book := entity.NewBook("fantasy", ageLevel, format)
	book.Premise = "a young mapmaker discovers a living atlas"
	if err := books.Create(context.Background(), book); err != nil {
		t.Fatalf("seed book: %v", err)
	}
	return book
}

// ---- 用例 ----

func TestWordBudgetAndAudienceLookup(t *testing.T) {
	cases := []struct {
		age      int
		budget   int
		audience string
	}{
		{1, 200, AudienceToddler},
		{3, 200, AudienceToddler},
		{4, 400, AudienceChildren},
		{9, 800, AudienceChildren},
		{13, 1000, AudienceTeenage},
		{14, 2000, AudienceAdult},
		{40, 2000, AudienceAdult},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("age_%d", tc.age), func(t *testing.T) {
			if got := WordBudget(tc.age); got != tc.budget {
				t.Fatalf("WordBudget(%d) = %d, want %d", tc.age, got, tc.budget)
			}
			if got := AudienceLabel(tc.age); got != tc.audience {
				t.Fatalf("AudienceLabel(%d) = %q, want %q", tc.age, got, tc.audience)
			}
		})
	}
}

func TestFirstUnitHasNoContinuityContext(t *testing.T) {
	client := &fakeClient{results: []*provider.Result{
		ok("Once upon a time.\n\nThe map blinked."),
		ok("A mapmaker finds a living atlas."),
		ok(`{"characters": []}`),
	}}
	builder, books, units, _, _ := newTestBuilder(client)
	book := seedBook(t, books, 9, entity.UnitFormatChapter)

	unit, err := builder.AppendUnit(context.Background(), book.ID, false, "")
	if err != nil {
		t.Fatalf("AppendUnit: %v", err)
	}
	if unit.SeqNum != 1 {
		t.Fatalf("seq = %d, want 1", unit.SeqNum)
	}

	bodyCall := client.calls[0]
	for _, msg := range bodyCall {
		if msg.Role == provider.RoleAssistant {
			t.Fatalf("unit 1 must not receive continuity context, got assistant message %q", msg.Content)
		}
	}
	if unit.ContinuityContext != "" {
		t.Fatalf("continuity context = %q, want empty", unit.ContinuityContext)
	}

	stored, _ := units.GetByID(context.Background(), unit.ID)
	if stored.Status != entity.UnitStatusComplete {
		t.Fatalf("status = %s", stored.Status)
	}
	if stored.SummaryText != "A mapmaker finds a living atlas." {
		t.Fatalf("summary = %q", stored.SummaryText)
	}
}

func TestSecondUnitInjectsSummaryAndFinalParagraphs(t *testing.T) {
	client := &fakeClient{results: []*provider.Result{
		ok("Chapter two begins.\n\nIt continues."),
		ok("Summary of chapter two."),
		ok(`{"characters": []}`),
	}}
	builder, books, units, _, _ := newTestBuilder(client)
	book := seedBook(t, books, 9, entity.UnitFormatChapter)

	prior := entity.NewNarrativeUnit(book, 1)
	prior.SetBody("First paragraph.\n\nMiddle paragraph.\n\nFinal paragraph.")
	prior.SummaryText = "The mapmaker met the atlas."
	prior.MarkComplete()
	if err := units.Create(context.Background(), prior); err != nil {
		t.Fatalf("seed prior: %v", err)
	}

	unit, err := builder.AppendUnit(context.Background(), book.ID, false, "")
	if err != nil {
		t.Fatalf("AppendUnit: %v", err)
	}
	if unit.SeqNum != 2 {
		t.Fatalf("seq = %d, want 2", unit.SeqNum)
	}

	bodyCall := client.calls[0]
	var assistant []string
	for _, msg := range bodyCall {
		if msg.Role == provider.RoleAssistant {
			assistant = append(assistant, msg.Content)
		}
	}
	if len(assistant) != 2 {
		t.Fatalf("assistant messages = %d, want 2", len(assistant))
	}
	if assistant[0] != "The mapmaker met the atlas." {
		t.Fatalf("first assistant message = %q", assistant[0])
	}
	if assistant[1] != "Middle paragraph.\n\nFinal paragraph." {
		t.Fatalf("second assistant message = %q", assistant[1])
	}
	if strings.Contains(assistant[1], "First paragraph.") {
		t.Fatal("full prior body must never be injected")
	}
}

func TestBodyFailurePreservesPriorContent(t *testing.T) {
	client := &fakeClient{results: []*provider.Result{
		failed("rate limited"),
	}}
	builder, books, units, _, _ := newTestBuilder(client)
	book := seedBook(t, books, 9, entity.UnitFormatChapter)

	unit := entity.NewNarrativeUnit(book, 1)
	unit.SetBody("Existing complete body from an earlier run.")
	unit.SummaryText = "Existing summary."
	unit.MarkComplete()
	if err := units.Create(context.Background(), unit); err != nil {
		t.Fatalf("seed unit: %v", err)
	}

	err := builder.Regenerate(context.Background(), book.ID, unit.ID, false, "")
	if err == nil {
		t.Fatal("expected error")
	}

	stored, _ := units.GetByID(context.Background(), unit.ID)
	if stored.Status != entity.UnitStatusError {
		t.Fatalf("status = %s, want error", stored.Status)
	}
	if stored.ErrorMessage == "" {
		t.Fatal("error message must be populated")
	}
	if stored.BodyText != "Existing complete body from an earlier run." {
		t.Fatalf("prior body was overwritten: %q", stored.BodyText)
	}
}

func TestSummaryFailureIsHardFailure(t *testing.T) {
	client := &fakeClient{results: []*provider.Result{
		ok("A fine chapter body."),
		failed("summary backend down"),
	}}
	builder, books, units, _, _ := newTestBuilder(client)
	book := seedBook(t, books, 9, entity.UnitFormatChapter)

	unit, err := builder.AppendUnit(context.Background(), book.ID, false, "")
	if err == nil {
		t.Fatal("expected error")
	}

	stored, _ := units.GetByID(context.Background(), unit.ID)
	if stored.Status != entity.UnitStatusComplete && stored.Status != entity.UnitStatusError {
		t.Fatalf("status = %s", stored.Status)
	}
	if stored.Status == entity.UnitStatusComplete {
		t.Fatal("partial output must never be committed as complete")
	}
	if stored.BodyText != "" {
		t.Fatalf("partial body was persisted: %q", stored.BodyText)
	}
}

func TestFinalUnitOmitsCliffhanger(t *testing.T) {
	client := &fakeClient{results: []*provider.Result{
		ok("The end."),
		ok("Everything resolved."),
		ok(`{"characters": []}`),
	}}
	builder, books, _, _, _ := newTestBuilder(client)
	book := seedBook(t, books, 9, entity.UnitFormatChapter)

	if _, err := builder.AppendUnit(context.Background(), book.ID, true, ""); err != nil {
		t.Fatalf("AppendUnit: %v", err)
	}

	var instruction string
	for _, msg := range client.calls[0] {
		if msg.Role == provider.RoleUser {
			instruction = msg.Content
		}
	}
	if strings.Contains(strings.ToLower(instruction), "cliffhanger") {
		t.Fatalf("final unit instruction must not demand a cliffhanger: %q", instruction)
	}
	if !strings.Contains(instruction, "final installment") {
		t.Fatalf("instruction = %q", instruction)
	}
}

func TestTheatrePersonaDemandsSingleLocation(t *testing.T) {
	book := entity.NewBook("mystery", 12, entity.UnitFormatTheatre)
	unit := entity.NewNarrativeUnit(book, 1)

	persona := BuildPersona(unit)
	if !strings.Contains(persona, "single physical location") {
		t.Fatalf("theatre persona must constrain location: %q", persona)
	}
	if !strings.Contains(persona, "stage") {
		t.Fatalf("persona = %q", persona)
	}
}

func TestExtractCharactersDedupesByNormalizedName(t *testing.T) {
	client := &fakeClient{results: []*provider.Result{
		ok(`{"characters": [
			{"name": "  alice ", "age": 12, "gender": "Female"},
			{"name": "Bob", "age": 40, "gender": "male", "description": "a sailor"}
		]}`),
	}}
	builder, books, units, characters, events := newTestBuilder(client)
	book := seedBook(t, books, 9, entity.UnitFormatChapter)

	existing := entity.NewCharacterProfile(book.ID, "Alice")
	if err := characters.Create(context.Background(), existing); err != nil {
		t.Fatalf("seed character: %v", err)
	}

	unit := entity.NewNarrativeUnit(book, 1)
	unit.SetBody("Alice met Bob at the docks.")
	if err := units.Create(context.Background(), unit); err != nil {
		t.Fatalf("seed unit: %v", err)
	}

	created, err := builder.ExtractCharacters(context.Background(), unit)
	if err != nil {
		t.Fatalf("ExtractCharacters: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created = %d, want 1 (alice is a duplicate)", len(created))
	}
	if created[0].Name != "Bob" {
		t.Fatalf("name = %q", created[0].Name)
	}
	if created[0].OriginUnitID != unit.ID {
		t.Fatal("origin unit not recorded")
	}
	if len(events.created) != 1 || events.created[0] != "Bob" {
		t.Fatalf("events = %v", events.created)
	}
}

func TestExtractCharactersRepairsControlChars(t *testing.T) {
	raw := "{\"characters\": [{\"name\": \"Mira\", \"description\": \"keeper of maps\nand secrets\"}]}"
	client := &fakeClient{results: []*provider.Result{ok(raw)}}
	builder, books, units, _, _ := newTestBuilder(client)
	book := seedBook(t, books, 9, entity.UnitFormatChapter)

	unit := entity.NewNarrativeUnit(book, 1)
	unit.SetBody("Mira guarded the atlas.")
	if err := units.Create(context.Background(), unit); err != nil {
		t.Fatalf("seed unit: %v", err)
	}

	created, err := builder.ExtractCharacters(context.Background(), unit)
	if err != nil {
		t.Fatalf("ExtractCharacters: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created = %d, want 1", len(created))
	}
	if created[0].Description != "keeper of maps\nand secrets" {
		t.Fatalf("description = %q", created[0].Description)
	}
}

func TestFinalParagraphs(t *testing.T) {
	body := "One.\n\nTwo.\n\nThree.\n\nFour."
	if got := FinalParagraphs(body, 2); got != "Three.\n\nFour." {
		t.Fatalf("FinalParagraphs = %q", got)
	}
	if got := FinalParagraphs("Only one.", 2); got != "Only one." {
		t.Fatalf("FinalParagraphs = %q", got)
	}
	if got := FinalParagraphs("", 2); got != "" {
		t.Fatalf("FinalParagraphs = %q", got)
	}
}
