package upload

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zeroremorse/scrimbot/internal/msgcat"
	"github.com/zeroremorse/scrimbot/internal/oracle"
	"github.com/zeroremorse/scrimbot/internal/platform"
	"github.com/zeroremorse/scrimbot/internal/record"
	"github.com/zeroremorse/scrimbot/internal/session"
	"github.com/zeroremorse/scrimbot/internal/store"
)

type sentMessage struct {
	userID  string
	content string
	comps   []platform.Component
}

type fakePlatform struct {
	dms       []sentMessage
	responses []sentMessage
	updates   []sentMessage

	roles     map[string]bool
	dmErr     error
	downloads map[string][]byte
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		roles:     map[string]bool{},
		downloads: map[string][]byte{},
	}
}

func (f *fakePlatform) SendDM(_ context.Context, userID, content string, comps []platform.Component) error {
	if f.dmErr != nil {
		return f.dmErr
	}
	f.dms = append(f.dms, sentMessage{userID, content, comps})
	return nil
}

func (f *fakePlatform) RespondInteraction(_ context.Context, inter *platform.InteractionEvent, content string, comps []platform.Component, _ bool) error {
	f.responses = append(f.responses, sentMessage{inter.UserID, content, comps})
	return nil
}

func (f *fakePlatform) UpdateInteraction(_ context.Context, inter *platform.InteractionEvent, content string, comps []platform.Component) error {
	f.updates = append(f.updates, sentMessage{inter.UserID, content, comps})
	return nil
}

func (f *fakePlatform) HasRole(_ context.Context, _, userID, _ string) (bool, error) {
	return f.roles[userID], nil
}

func (f *fakePlatform) Download(_ context.Context, url string) ([]byte, error) {
	data, ok := f.downloads[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *fakePlatform) lastDM(t *testing.T) sentMessage {
	t.Helper()
	if len(f.dms) == 0 {
		t.Fatal("no DMs sent")
	}
	return f.dms[len(f.dms)-1]
}

type fakeExtractor struct {
	matchScore oracle.Score
	matchErr   error

	seriesScores  []oracle.Score
	seriesDropped int
	seriesErr     error
}

func (f *fakeExtractor) ExtractMatchScore(context.Context, oracle.Image) (oracle.Score, error) {
	return f.matchScore, f.matchErr
}

func (f *fakeExtractor) ExtractSeries(context.Context, []oracle.Image) ([]oracle.Score, int, error) {
	return f.seriesScores, f.seriesDropped, f.seriesErr
}

type fakePublisher struct {
	records []record.MatchRecord
	shots   [][]session.Screenshot
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, rec record.MatchRecord, shots []session.Screenshot) error {
	f.records = append(f.records, rec)
	f.shots = append(f.shots, shots)
	return f.err
}

type fixture struct {
	mgr       *Manager
	pf        *fakePlatform
	extractor *fakeExtractor
	publisher *fakePublisher
	sessions  *session.MemoryStore
	records   *store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	pf := newFakePlatform()
	ex := &fakeExtractor{}
	pub := &fakePublisher{}
	sessions := session.NewMemoryStore()
	records := store.Open(filepath.Join(t.TempDir(), "scrim_highlight.json"))
	mgr := NewManager(pf, cat, sessions, records, ex, pub, "guild-1", "role-uploader")
	return &fixture{mgr: mgr, pf: pf, extractor: ex, publisher: pub, sessions: sessions, records: records}
}

func dm(userID, content string, atts ...platform.Attachment) *platform.MessageEvent {
	return &platform.MessageEvent{
		ID: "m1", ChannelID: "dm-" + userID, UserID: userID, Username: "player",
		Content: content, DM: true, Attachments: atts,
	}
}

func startInteraction(userID string) *platform.InteractionEvent {
	return &platform.InteractionEvent{
		ID: "i1", Token: "tok", GuildID: "guild-1", ChannelID: "hub",
		UserID: userID, Username: "player", CustomID: customIDStart,
	}
}

func selectInteraction(userID, customID, value string) *platform.InteractionEvent {
	return &platform.InteractionEvent{
		ID: "i2", Token: "tok", ChannelID: "dm-" + userID,
		UserID: userID, Username: "player", CustomID: customID, Values: []string{value},
	}
}

func buttonInteraction(userID, customID string) *platform.InteractionEvent {
	return &platform.InteractionEvent{
		ID: "i3", Token: "tok", ChannelID: "dm-" + userID,
		UserID: userID, Username: "player", CustomID: customID,
	}
}

// runToScreenshots drives a session up to AWAITING_SCREENSHOTS.
func (fx *fixture) runToScreenshots(t *testing.T, userID string, ut record.UploadType, format record.MatchFormat, clan string) {
	t.Helper()
	ctx := context.Background()
	fx.pf.roles[userID] = true
	fx.mgr.HandleInteraction(ctx, startInteraction(userID))
	fx.mgr.HandleInteraction(ctx, selectInteraction(userID, customIDUploadType, string(ut)))
	fx.mgr.HandleInteraction(ctx, selectInteraction(userID, customIDFormat, string(format)))
	fx.mgr.HandleMessage(ctx, dm(userID, clan))

	sess, err := fx.sessions.Get(ctx, userID)
	if err != nil || sess == nil {
		t.Fatalf("session missing after setup: %v", err)
	}
	if sess.State != session.StateAwaitScreenshots {
		t.Fatalf("state = %s, want %s", sess.State, session.StateAwaitScreenshots)
	}
}

func TestFullBO1Flow(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.extractor.matchScore = oracle.Score{Our: 13, Enemy: 10}
	fx.pf.downloads["https://cdn/final.png"] = []byte{0x89}

	fx.runToScreenshots(t, "u1", record.UploadScrim, record.FormatBO1, "Team Liquid")

	fx.mgr.HandleMessage(ctx, dm("u1", "", platform.Attachment{
		Filename: "final.png", Size: 1024, URL: "https://cdn/final.png",
	}))
	if got := fx.pf.lastDM(t).content; !strings.Contains(got, "done") {
		t.Fatalf("expected done prompt, got %q", got)
	}

	fx.mgr.HandleMessage(ctx, dm("u1", "done"))
	confirm := fx.pf.lastDM(t)
	if !strings.Contains(confirm.content, "13-10") || !strings.Contains(confirm.content, "win") {
		t.Fatalf("confirmation = %q", confirm.content)
	}
	if len(confirm.comps) != 2 {
		t.Fatalf("confirmation components = %d", len(confirm.comps))
	}

	fx.mgr.HandleInteraction(ctx, buttonInteraction("u1", confirm.comps[0].CustomID))

	data, err := fx.records.Load()
	if err != nil {
		t.Fatal(err)
	}
	rec, ok := data["1"]
	if !ok {
		t.Fatalf("record not stored: %+v", data)
	}
	if rec.OurScore != 13 || rec.EnemyScore != 10 || rec.Result != record.ResultWin {
		t.Fatalf("record = %+v", rec)
	}
	if rec.ClanName != "Team Liquid" || rec.MatchFormat != record.FormatBO1 || rec.ExtractionMethod != record.MethodOCR {
		t.Fatalf("record = %+v", rec)
	}
	if len(rec.MapResults) != 0 {
		t.Fatalf("single-shot record carries map results: %+v", rec.MapResults)
	}

	if len(fx.publisher.records) != 1 || fx.publisher.records[0].ID != "1" {
		t.Fatalf("publisher got %+v", fx.publisher.records)
	}
	if len(fx.publisher.shots[0]) != 1 {
		t.Fatalf("published shots = %d", len(fx.publisher.shots[0]))
	}

	if sess, _ := fx.sessions.Get(ctx, "u1"); sess != nil {
		t.Fatalf("session survived confirm: %+v", sess)
	}
}

func TestBO3SeriesAggregation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.extractor.seriesScores = []oracle.Score{{Our: 13, Enemy: 7}, {Our: 13, Enemy: 11}}
	fx.pf.downloads["https://cdn/m1.png"] = []byte{1}
	fx.pf.downloads["https://cdn/m2.png"] = []byte{2}

	fx.runToScreenshots(t, "u1", record.UploadTournament, record.FormatBO3, "Cloud9")

	fx.mgr.HandleMessage(ctx, dm("u1", "", platform.Attachment{Filename: "m1.png", Size: 10, URL: "https://cdn/m1.png"}))
	if got := fx.pf.lastDM(t).content; !strings.Contains(got, "Send the next one") {
		t.Fatalf("expected more-screenshots prompt, got %q", got)
	}
	fx.mgr.HandleMessage(ctx, dm("u1", "", platform.Attachment{Filename: "m2.png", Size: 10, URL: "https://cdn/m2.png"}))
	fx.mgr.HandleMessage(ctx, dm("u1", "done"))

	confirm := fx.pf.lastDM(t)
	if !strings.Contains(confirm.content, "2-0") {
		t.Fatalf("confirmation = %q", confirm.content)
	}
	if !strings.Contains(confirm.content, "Map 1: 13-7") || !strings.Contains(confirm.content, "Map 2: 13-11") {
		t.Fatalf("map lines missing: %q", confirm.content)
	}

	fx.mgr.HandleInteraction(ctx, buttonInteraction("u1", confirm.comps[0].CustomID))

	data, _ := fx.records.Load()
	rec := data["1"]
	if rec.OurScore != 2 || rec.EnemyScore != 0 || rec.Result != record.ResultWin {
		t.Fatalf("record = %+v", rec)
	}
	if len(rec.MapResults) != 2 || rec.MapResults[1].EnemyScore != 11 {
		t.Fatalf("map results = %+v", rec.MapResults)
	}
	if rec.UploadType != record.UploadTournament {
		t.Fatalf("upload type = %s", rec.UploadType)
	}
}

func TestExtraScreenshotBeyondTargetStillAppends(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	for _, u := range []string{"https://cdn/1.png", "https://cdn/2.png", "https://cdn/3.png"} {
		fx.pf.downloads[u] = []byte{1}
	}

	fx.runToScreenshots(t, "u1", record.UploadScrim, record.FormatBO3, "Fnatic")
	fx.mgr.HandleMessage(ctx, dm("u1", "", platform.Attachment{Filename: "a.png", Size: 1, URL: "https://cdn/1.png"}))
	fx.mgr.HandleMessage(ctx, dm("u1", "", platform.Attachment{Filename: "b.png", Size: 1, URL: "https://cdn/2.png"}))
	fx.mgr.HandleMessage(ctx, dm("u1", "", platform.Attachment{Filename: "c.png", Size: 1, URL: "https://cdn/3.png"}))

	sess, _ := fx.sessions.Get(ctx, "u1")
	if len(sess.Screenshots) != 3 {
		t.Fatalf("screenshots = %d, want 3", len(sess.Screenshots))
	}
}

func TestAttachmentValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.runToScreenshots(t, "u1", record.UploadScrim, record.FormatBO3, "Fnatic")

	fx.mgr.HandleMessage(ctx, dm("u1", "", platform.Attachment{Filename: "clip.mp4", Size: 10, URL: "https://cdn/clip"}))
	if got := fx.pf.lastDM(t).content; !strings.Contains(got, "not supported") {
		t.Fatalf("expected invalid-attachment message, got %q", got)
	}

	fx.mgr.HandleMessage(ctx, dm("u1", "", platform.Attachment{Filename: "huge.png", Size: record.MaxAttachmentBytes + 1, URL: "https://cdn/huge"}))
	if got := fx.pf.lastDM(t).content; !strings.Contains(got, "too large") {
		t.Fatalf("expected size rejection, got %q", got)
	}

	sess, _ := fx.sessions.Get(ctx, "u1")
	if len(sess.Screenshots) != 0 {
		t.Fatalf("invalid attachments stored: %d", len(sess.Screenshots))
	}
}

func TestDoneWithoutScreenshots(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.runToScreenshots(t, "u1", record.UploadScrim, record.FormatBO1, "Fnatic")

	fx.mgr.HandleMessage(ctx, dm("u1", "done"))
	if got := fx.pf.lastDM(t).content; !strings.Contains(got, "No screenshots") {
		t.Fatalf("got %q", got)
	}
}

func TestCancelListsCollectedState(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.pf.downloads["https://cdn/a.png"] = []byte{1}
	fx.runToScreenshots(t, "u1", record.UploadScrim, record.FormatBO3, "Team Liquid")
	fx.mgr.HandleMessage(ctx, dm("u1", "", platform.Attachment{Filename: "a.png", Size: 1, URL: "https://cdn/a.png"}))

	fx.mgr.HandleMessage(ctx, dm("u1", "cancel"))
	got := fx.pf.lastDM(t).content
	for _, want := range []string{"scrim", "BO3", "Team Liquid", "1 screenshot(s)"} {
		if !strings.Contains(got, want) {
			t.Fatalf("cancel summary missing %q: %q", want, got)
		}
	}
	if sess, _ := fx.sessions.Get(ctx, "u1"); sess != nil {
		t.Fatal("session survived cancel")
	}
}

func TestCancelWithoutSession(t *testing.T) {
	fx := newFixture(t)
	fx.mgr.HandleMessage(context.Background(), dm("u1", "cancel"))
	if got := fx.pf.lastDM(t).content; !strings.Contains(got, "No Active Process") {
		t.Fatalf("got %q", got)
	}
}

func TestMessageWithoutSession(t *testing.T) {
	fx := newFixture(t)
	fx.mgr.HandleMessage(context.Background(), dm("u1", "hello"))
	if got := fx.pf.lastDM(t).content; !strings.Contains(got, "button") {
		t.Fatalf("got %q", got)
	}
}

func TestStartWithoutRole(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.mgr.HandleInteraction(ctx, startInteraction("u1"))

	if len(fx.pf.responses) != 1 || !strings.Contains(fx.pf.responses[0].content, "Access Denied") {
		t.Fatalf("responses = %+v", fx.pf.responses)
	}
	if len(fx.pf.dms) != 0 {
		t.Fatal("DM sent despite missing role")
	}
	if sess, _ := fx.sessions.Get(ctx, "u1"); sess != nil {
		t.Fatal("session created despite missing role")
	}
}

func TestStartWithDMsDisabled(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.pf.roles["u1"] = true
	fx.pf.dmErr = platform.ErrDMDisabled

	fx.mgr.HandleInteraction(ctx, startInteraction("u1"))
	if len(fx.pf.responses) != 1 || !strings.Contains(fx.pf.responses[0].content, "Cannot send DM") {
		t.Fatalf("responses = %+v", fx.pf.responses)
	}
	if sess, _ := fx.sessions.Get(ctx, "u1"); sess != nil {
		t.Fatal("session created despite DM failure")
	}
}

func TestExtractionFailureSingleShotKeepsSession(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.extractor.matchErr = errors.New("model timeout")
	fx.pf.downloads["https://cdn/a.png"] = []byte{1}

	fx.runToScreenshots(t, "u1", record.UploadScrim, record.FormatBO1, "Fnatic")
	fx.mgr.HandleMessage(ctx, dm("u1", "", platform.Attachment{Filename: "a.png", Size: 1, URL: "https://cdn/a.png"}))
	fx.mgr.HandleMessage(ctx, dm("u1", "done"))

	if got := fx.pf.lastDM(t).content; !strings.Contains(got, "Could not extract") {
		t.Fatalf("got %q", got)
	}
	sess, _ := fx.sessions.Get(ctx, "u1")
	if sess == nil || sess.State != session.StateAwaitScreenshots || sess.Extracting {
		t.Fatalf("session = %+v", sess)
	}
}

func TestExtractionFailureSeriesDestroysSession(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.extractor.seriesErr = oracle.ErrNoScore
	fx.extractor.seriesDropped = 2
	fx.pf.downloads["https://cdn/a.png"] = []byte{1}
	fx.pf.downloads["https://cdn/b.png"] = []byte{2}

	fx.runToScreenshots(t, "u1", record.UploadScrim, record.FormatBO3, "Fnatic")
	fx.mgr.HandleMessage(ctx, dm("u1", "", platform.Attachment{Filename: "a.png", Size: 1, URL: "https://cdn/a.png"}))
	fx.mgr.HandleMessage(ctx, dm("u1", "", platform.Attachment{Filename: "b.png", Size: 1, URL: "https://cdn/b.png"}))
	fx.mgr.HandleMessage(ctx, dm("u1", "done"))

	if got := fx.pf.lastDM(t).content; !strings.Contains(got, "Could not process any") {
		t.Fatalf("got %q", got)
	}
	if sess, _ := fx.sessions.Get(ctx, "u1"); sess != nil {
		t.Fatal("session survived total extraction failure")
	}
}

func TestDroppedMapsReported(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.extractor.seriesScores = []oracle.Score{{Our: 13, Enemy: 9}}
	fx.extractor.seriesDropped = 1
	fx.pf.downloads["https://cdn/a.png"] = []byte{1}
	fx.pf.downloads["https://cdn/b.png"] = []byte{2}

	fx.runToScreenshots(t, "u1", record.UploadScrim, record.FormatBO3, "Fnatic")
	fx.mgr.HandleMessage(ctx, dm("u1", "", platform.Attachment{Filename: "a.png", Size: 1, URL: "https://cdn/a.png"}))
	fx.mgr.HandleMessage(ctx, dm("u1", "", platform.Attachment{Filename: "b.png", Size: 1, URL: "https://cdn/b.png"}))
	fx.mgr.HandleMessage(ctx, dm("u1", "done"))

	if got := fx.pf.lastDM(t).content; !strings.Contains(got, "1 screenshot(s) could not be read") {
		t.Fatalf("dropped note missing: %q", got)
	}
}

func TestConfirmationWrongID(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.extractor.matchScore = oracle.Score{Our: 13, Enemy: 10}
	fx.pf.downloads["https://cdn/a.png"] = []byte{1}

	fx.runToScreenshots(t, "u1", record.UploadScrim, record.FormatBO1, "Fnatic")
	fx.mgr.HandleMessage(ctx, dm("u1", "", platform.Attachment{Filename: "a.png", Size: 1, URL: "https://cdn/a.png"}))
	fx.mgr.HandleMessage(ctx, dm("u1", "done"))

	fx.mgr.HandleInteraction(ctx, buttonInteraction("u1", confirmPrefix+"stale-id"))
	if len(fx.pf.responses) == 0 || !strings.Contains(fx.pf.responses[len(fx.pf.responses)-1].content, "not your confirmation") {
		t.Fatalf("responses = %+v", fx.pf.responses)
	}
	if data, _ := fx.records.Load(); len(data) != 0 {
		t.Fatal("record stored from stale confirmation")
	}
}

func TestRejectDiscardsPending(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.extractor.matchScore = oracle.Score{Our: 5, Enemy: 13}
	fx.pf.downloads["https://cdn/a.png"] = []byte{1}

	fx.runToScreenshots(t, "u1", record.UploadScrim, record.FormatBO1, "Fnatic")
	fx.mgr.HandleMessage(ctx, dm("u1", "", platform.Attachment{Filename: "a.png", Size: 1, URL: "https://cdn/a.png"}))
	fx.mgr.HandleMessage(ctx, dm("u1", "done"))

	confirm := fx.pf.lastDM(t)
	fx.mgr.HandleInteraction(ctx, buttonInteraction("u1", confirm.comps[1].CustomID))

	if data, _ := fx.records.Load(); len(data) != 0 {
		t.Fatal("rejected record was stored")
	}
	if sess, _ := fx.sessions.Get(ctx, "u1"); sess != nil {
		t.Fatal("session survived reject")
	}
	if len(fx.pf.updates) == 0 || !strings.Contains(fx.pf.updates[len(fx.pf.updates)-1].content, "Rejected") {
		t.Fatalf("updates = %+v", fx.pf.updates)
	}
}

// flakySessionStore passes skipPuts Put calls through, then fails the next
// failPuts of them.
type flakySessionStore struct {
	*session.MemoryStore
	skipPuts int
	failPuts int
}

func (f *flakySessionStore) Put(ctx context.Context, sess *session.Session) error {
	if f.skipPuts > 0 {
		f.skipPuts--
		return f.MemoryStore.Put(ctx, sess)
	}
	if f.failPuts > 0 {
		f.failPuts--
		return errors.New("store unavailable")
	}
	return f.MemoryStore.Put(ctx, sess)
}

func TestExtractionFailureWithBrokenStoreDropsSession(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	flaky := &flakySessionStore{MemoryStore: fx.sessions}
	fx.mgr.sessions = flaky
	fx.extractor.matchErr = errors.New("model timeout")
	fx.pf.downloads["https://cdn/a.png"] = []byte{1}

	fx.runToScreenshots(t, "u1", record.UploadScrim, record.FormatBO1, "Fnatic")
	fx.mgr.HandleMessage(ctx, dm("u1", "", platform.Attachment{Filename: "a.png", Size: 1, URL: "https://cdn/a.png"}))

	// the Extracting=true Put succeeds, extraction fails, then the Put that
	// would clear the flag errors out
	flaky.skipPuts = 1
	flaky.failPuts = 1
	fx.mgr.HandleMessage(ctx, dm("u1", "done"))

	sess, err := fx.sessions.Get(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if sess != nil {
		t.Fatalf("session left behind (busy=%v): %+v", sess.Extracting, sess)
	}

	// the user can start a fresh upload afterwards
	fx.mgr.HandleMessage(ctx, dm("u1", "hello"))
	if got := fx.pf.lastDM(t).content; !strings.Contains(got, "button") {
		t.Fatalf("got %q", got)
	}
}

func TestGuildMessagesIgnored(t *testing.T) {
	fx := newFixture(t)
	msg := dm("u1", "hello")
	msg.DM = false
	fx.mgr.HandleMessage(context.Background(), msg)
	if len(fx.pf.dms) != 0 {
		t.Fatalf("guild message answered: %+v", fx.pf.dms)
	}
}
