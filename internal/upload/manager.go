package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zeroremorse/scrimbot/internal/msgcat"
	"github.com/zeroremorse/scrimbot/internal/obslog"
	"github.com/zeroremorse/scrimbot/internal/oracle"
	"github.com/zeroremorse/scrimbot/internal/platform"
	"github.com/zeroremorse/scrimbot/internal/record"
	"github.com/zeroremorse/scrimbot/internal/session"
	"github.com/zeroremorse/scrimbot/internal/store"
	"github.com/zeroremorse/scrimbot/internal/tally"
)

const (
	customIDStart      = "upload_start"
	customIDUploadType = "upload_type"
	customIDFormat     = "match_format"
	confirmPrefix      = "confirm:"
	rejectPrefix       = "reject:"

	keywordCancel = "cancel"
	keywordDone   = "done"
)

// Platform is the slice of the chat client the upload flow uses.
type Platform interface {
	SendDM(ctx context.Context, userID, content string, comps []platform.Component) error
	RespondInteraction(ctx context.Context, inter *platform.InteractionEvent, content string, comps []platform.Component, ephemeral bool) error
	UpdateInteraction(ctx context.Context, inter *platform.InteractionEvent, content string, comps []platform.Component) error
	HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// Extractor turns screenshots into scores.
type Extractor interface {
	ExtractMatchScore(ctx context.Context, img oracle.Image) (oracle.Score, error)
	ExtractSeries(ctx context.Context, imgs []oracle.Image) ([]oracle.Score, int, error)
}

// Publisher posts a saved record to its channel.
type Publisher interface {
	Publish(ctx context.Context, rec record.MatchRecord, shots []session.Screenshot) error
}

// Manager drives the per-user upload conversation over DMs and component
// interactions.
type Manager struct {
	pf        Platform
	cat       *msgcat.Catalog
	sessions  session.Store
	records   *store.Store
	extractor Extractor
	publisher Publisher

	guildID        string
	uploaderRoleID string
}

func NewManager(pf Platform, cat *msgcat.Catalog, sessions session.Store, records *store.Store, extractor Extractor, publisher Publisher, guildID, uploaderRoleID string) *Manager {
	return &Manager{
		pf:             pf,
		cat:            cat,
		sessions:       sessions,
		records:        records,
		extractor:      extractor,
		publisher:      publisher,
		guildID:        guildID,
		uploaderRoleID: uploaderRoleID,
	}
}

// HubComponents returns the persistent hub message content and its start
// button.
func (m *Manager) HubComponents() (string, []platform.Component) {
	return m.cat.RenderOr("upload.hub", nil), []platform.Component{
		{Type: "button", CustomID: customIDStart, Label: "Upload Match Result", Style: "primary"},
	}
}

// HandleInteraction routes a component interaction. Expired interaction
// handles are logged and dropped.
func (m *Manager) HandleInteraction(ctx context.Context, inter *platform.InteractionEvent) {
	var err error
	switch {
	case inter.CustomID == customIDStart:
		err = m.handleStart(ctx, inter)
	case inter.CustomID == customIDUploadType:
		err = m.handleUploadType(ctx, inter)
	case inter.CustomID == customIDFormat:
		err = m.handleFormat(ctx, inter)
	case strings.HasPrefix(inter.CustomID, confirmPrefix):
		err = m.handleConfirm(ctx, inter, strings.TrimPrefix(inter.CustomID, confirmPrefix))
	case strings.HasPrefix(inter.CustomID, rejectPrefix):
		err = m.handleReject(ctx, inter, strings.TrimPrefix(inter.CustomID, rejectPrefix))
	default:
		obslog.L().Debug("interaction_unhandled", zap.String("custom_id", inter.CustomID))
		return
	}
	if err != nil {
		if errors.Is(err, platform.ErrUnknownInteraction) {
			obslog.L().Warn("interaction_expired", zap.String("custom_id", inter.CustomID), zap.String("user", inter.UserID))
			return
		}
		obslog.L().Error("interaction_failed", zap.String("custom_id", inter.CustomID), zap.String("user", inter.UserID), zap.Error(err))
	}
}

func (m *Manager) handleStart(ctx context.Context, inter *platform.InteractionEvent) error {
	guildID := inter.GuildID
	if guildID == "" {
		guildID = m.guildID
	}
	ok, err := m.pf.HasRole(ctx, guildID, inter.UserID, m.uploaderRoleID)
	if err != nil {
		return fmt.Errorf("role check: %w", err)
	}
	if !ok {
		return m.pf.RespondInteraction(ctx, inter, m.cat.RenderOr("upload.no_role", nil), nil, true)
	}

	dmErr := m.pf.SendDM(ctx, inter.UserID, m.cat.RenderOr("upload.step_upload_type", nil), []platform.Component{{
		Type: "select", CustomID: customIDUploadType, Placeholder: "Scrim or tournament?",
		Options: []platform.SelectOption{
			{Label: "Scrim", Value: string(record.UploadScrim)},
			{Label: "Tournament", Value: string(record.UploadTournament)},
		},
	}})
	if dmErr != nil {
		if errors.Is(dmErr, platform.ErrDMDisabled) {
			return m.pf.RespondInteraction(ctx, inter, m.cat.RenderOr("upload.dm_disabled", nil), nil, true)
		}
		return fmt.Errorf("send upload dm: %w", dmErr)
	}

	if err := m.sessions.Put(ctx, session.New(inter.UserID, inter.Username)); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return m.pf.RespondInteraction(ctx, inter, m.cat.RenderOr("upload.check_dms", nil), nil, true)
}

func (m *Manager) handleUploadType(ctx context.Context, inter *platform.InteractionEvent) error {
	if len(inter.Values) == 0 {
		return nil
	}
	ut, ok := record.ParseUploadType(inter.Values[0])
	if !ok {
		return nil
	}
	sess, err := m.sessions.Get(ctx, inter.UserID)
	if err != nil {
		return err
	}
	if sess == nil {
		sess = session.New(inter.UserID, inter.Username)
	}
	sess.UploadType = ut
	sess.State = session.StateAwaitFormat
	sess.Touch()
	if err := m.sessions.Put(ctx, sess); err != nil {
		return err
	}

	return m.pf.UpdateInteraction(ctx, inter, m.cat.RenderOr("upload.step_format", nil), []platform.Component{{
		Type: "select", CustomID: customIDFormat, Placeholder: "Match format",
		Options: []platform.SelectOption{
			{Label: "Best of 1", Value: string(record.FormatBO1)},
			{Label: "Best of 2", Value: string(record.FormatBO2)},
			{Label: "Best of 3", Value: string(record.FormatBO3)},
			{Label: "Best of 4", Value: string(record.FormatBO4)},
			{Label: "Best of 5", Value: string(record.FormatBO5)},
		},
	}})
}

func (m *Manager) handleFormat(ctx context.Context, inter *platform.InteractionEvent) error {
	if len(inter.Values) == 0 {
		return nil
	}
	format, ok := record.ParseMatchFormat(inter.Values[0])
	if !ok {
		return nil
	}
	sess, err := m.sessions.Get(ctx, inter.UserID)
	if err != nil {
		return err
	}
	if sess == nil || sess.State != session.StateAwaitFormat {
		return m.pf.RespondInteraction(ctx, inter, m.cat.RenderOr("upload.use_button", nil), nil, true)
	}
	sess.Format = format
	sess.State = session.StateAwaitOpponent
	sess.Touch()
	if err := m.sessions.Put(ctx, sess); err != nil {
		return err
	}

	msg := m.cat.RenderOr("upload.step_opponent", map[string]any{"Format": string(format)})
	return m.pf.UpdateInteraction(ctx, inter, msg, nil)
}

// HandleMessage routes an inbound direct message through the conversation.
func (m *Manager) HandleMessage(ctx context.Context, msg *platform.MessageEvent) {
	if !msg.DM || msg.Bot {
		return
	}
	if err := m.handleDM(ctx, msg); err != nil {
		obslog.L().Error("upload_dm_failed", zap.String("user", msg.UserID), zap.Error(err))
	}
}

func (m *Manager) handleDM(ctx context.Context, msg *platform.MessageEvent) error {
	sess, err := m.sessions.Get(ctx, msg.UserID)
	if err != nil {
		return err
	}
	text := strings.ToLower(strings.TrimSpace(msg.Content))

	// extraction in flight: even cancel waits, otherwise the finishing
	// extraction would re-save the session cancel just deleted
	if sess != nil && sess.Extracting {
		return m.dm(ctx, msg.UserID, "upload.busy", nil)
	}
	if text == keywordCancel && len(msg.Attachments) == 0 {
		return m.handleCancel(ctx, msg.UserID, sess)
	}
	if sess == nil {
		return m.dm(ctx, msg.UserID, "upload.use_button", nil)
	}

	// attachments win over any text sent alongside them
	if len(msg.Attachments) > 0 && sess.State == session.StateAwaitScreenshots {
		return m.handleScreenshots(ctx, msg, sess)
	}

	switch sess.State {
	case session.StateAwaitUploadType, session.StateAwaitFormat:
		return m.dm(ctx, msg.UserID, "upload.use_button", nil)
	case session.StateAwaitOpponent:
		return m.handleOpponentName(ctx, msg, sess)
	case session.StateAwaitScreenshots:
		if text == keywordDone {
			return m.handleDone(ctx, msg.UserID, sess)
		}
		return m.dm(ctx, msg.UserID, "upload.unrecognized", nil)
	case session.StateAwaitConfirmation:
		return m.dm(ctx, msg.UserID, "upload.confirm_use_buttons", nil)
	default:
		return m.dm(ctx, msg.UserID, "upload.use_button", nil)
	}
}

func (m *Manager) handleCancel(ctx context.Context, userID string, sess *session.Session) error {
	if sess == nil {
		return m.dm(ctx, userID, "upload.cancel_none", nil)
	}
	cleared := clearedParts(sess)
	if err := m.sessions.Delete(ctx, userID); err != nil {
		return err
	}
	obslog.L().Info("upload_cancel", zap.String("user", userID), zap.String("state", string(sess.State)))
	return m.dm(ctx, userID, "upload.cancel_done", map[string]any{"Cleared": cleared})
}

// clearedParts names exactly what the cancelled session had collected.
func clearedParts(sess *session.Session) string {
	parts := []string{}
	if sess.UploadType != "" {
		parts = append(parts, fmt.Sprintf("upload type (%s)", sess.UploadType))
	}
	if sess.Format != "" {
		parts = append(parts, fmt.Sprintf("match format (%s)", sess.Format))
	}
	if sess.ClanName != "" {
		parts = append(parts, fmt.Sprintf("opponent (%s)", sess.ClanName))
	}
	if n := len(sess.Screenshots); n > 0 {
		parts = append(parts, fmt.Sprintf("%d screenshot(s)", n))
	}
	if sess.Pending != nil {
		parts = append(parts, "extracted result")
	}
	if len(parts) == 0 {
		return "upload session"
	}
	return strings.Join(parts, ", ")
}

func (m *Manager) handleOpponentName(ctx context.Context, msg *platform.MessageEvent, sess *session.Session) error {
	name := strings.TrimSpace(msg.Content)
	if name == "" {
		return m.dm(ctx, msg.UserID, "upload.need_clan_name", nil)
	}
	sess.ClanName = name
	sess.State = session.StateAwaitScreenshots
	sess.Touch()
	if err := m.sessions.Put(ctx, sess); err != nil {
		return err
	}

	data := map[string]any{
		"Format": string(sess.Format),
		"Clan":   sess.ClanName,
		"Target": sess.Format.TargetScreenshots(),
	}
	if sess.Format.Multi() {
		return m.dm(ctx, msg.UserID, "upload.step_screenshots_multi", data)
	}
	return m.dm(ctx, msg.UserID, "upload.step_screenshots_single", data)
}

func (m *Manager) handleScreenshots(ctx context.Context, msg *platform.MessageEvent, sess *session.Session) error {
	for _, att := range msg.Attachments {
		if !record.ValidAttachmentName(att.Filename, sess.Format) {
			return m.dm(ctx, msg.UserID, "upload.invalid_attachment", nil)
		}
		if att.Size > record.MaxAttachmentBytes {
			return m.dm(ctx, msg.UserID, "upload.attachment_too_large", nil)
		}
		data, err := m.pf.Download(ctx, att.URL)
		if err != nil {
			return fmt.Errorf("download %s: %w", att.Filename, err)
		}
		sess.Screenshots = append(sess.Screenshots, session.Screenshot{Filename: att.Filename, Data: data})
	}
	sess.Touch()
	if err := m.sessions.Put(ctx, sess); err != nil {
		return err
	}

	data := map[string]any{"Count": len(sess.Screenshots), "Format": string(sess.Format)}
	if len(sess.Screenshots) < sess.Format.TargetScreenshots() {
		return m.dm(ctx, msg.UserID, "upload.screenshot_more", data)
	}
	return m.dm(ctx, msg.UserID, "upload.screenshot_enough", data)
}

func (m *Manager) handleDone(ctx context.Context, userID string, sess *session.Session) error {
	if len(sess.Screenshots) == 0 {
		return m.dm(ctx, userID, "upload.done_no_screenshots", nil)
	}

	sess.Extracting = true
	sess.Touch()
	if err := m.sessions.Put(ctx, sess); err != nil {
		return err
	}
	_ = m.dm(ctx, userID, "upload.extracting", map[string]any{
		"Count":  len(sess.Screenshots),
		"Format": string(sess.Format),
	})

	pending, dropped, err := m.extract(ctx, sess)
	if err != nil {
		obslog.L().Warn("oracle_extract_error", zap.String("user", userID), zap.String("format", string(sess.Format)), zap.Error(err))
		if sess.Format.Multi() {
			// nothing usable came back, throw the session away
			_ = m.sessions.Delete(ctx, userID)
			return m.dm(ctx, userID, "upload.extract_failed_all", nil)
		}
		sess.Extracting = false
		sess.Touch()
		if putErr := m.sessions.Put(ctx, sess); putErr != nil {
			// a stored session stuck with Extracting set would answer busy
			// forever, dropping it lets the user start over
			_ = m.sessions.Delete(ctx, userID)
			return putErr
		}
		return m.dm(ctx, userID, "upload.extract_failed", nil)
	}

	sess.Pending = pending
	sess.DroppedMaps = dropped
	sess.ConfirmID = uuid.NewString()
	sess.State = session.StateAwaitConfirmation
	sess.Extracting = false
	sess.Touch()
	if err := m.sessions.Put(ctx, sess); err != nil {
		return err
	}
	return m.sendConfirmation(ctx, userID, sess)
}

func (m *Manager) extract(ctx context.Context, sess *session.Session) (*record.MatchRecord, int, error) {
	rec := &record.MatchRecord{
		UserID:           sess.UserID,
		Username:         sess.Username,
		MatchFormat:      sess.Format,
		UploadType:       sess.UploadType,
		ClanName:         sess.ClanName,
		Timestamp:        record.Now(),
		ExtractionMethod: record.MethodOCR,
	}

	if !sess.Format.Multi() {
		shot := sess.Screenshots[0]
		score, err := m.extractor.ExtractMatchScore(ctx, oracle.Image{Filename: shot.Filename, Data: shot.Data})
		if err != nil {
			return nil, 0, err
		}
		rec.OurScore = score.Our
		rec.EnemyScore = score.Enemy
		rec.Result = record.ResultFromScores(score.Our, score.Enemy)
		return rec, 0, nil
	}

	imgs := make([]oracle.Image, 0, len(sess.Screenshots))
	for _, shot := range sess.Screenshots {
		imgs = append(imgs, oracle.Image{Filename: shot.Filename, Data: shot.Data})
	}
	scores, dropped, err := m.extractor.ExtractSeries(ctx, imgs)
	if err != nil {
		return nil, dropped, err
	}
	maps := make([]record.MapScore, 0, len(scores))
	for _, s := range scores {
		maps = append(maps, record.MapScore{
			OurScore:   s.Our,
			EnemyScore: s.Enemy,
			Result:     record.ResultFromScores(s.Our, s.Enemy),
		})
	}
	our, enemy, result := tally.Aggregate(maps)
	rec.OurScore = our
	rec.EnemyScore = enemy
	rec.Result = result
	rec.MapResults = maps
	return rec, dropped, nil
}

func (m *Manager) sendConfirmation(ctx context.Context, userID string, sess *session.Session) error {
	rec := sess.Pending
	var sb strings.Builder
	sb.WriteString(m.cat.RenderOr("upload.confirm_header", map[string]any{
		"Format": string(rec.MatchFormat),
		"Clan":   rec.ClanName,
		"Our":    rec.OurScore,
		"Enemy":  rec.EnemyScore,
		"Result": string(rec.Result),
	}))
	for i, mr := range rec.MapResults {
		sb.WriteByte('\n')
		sb.WriteString(m.cat.RenderOr("upload.confirm_map_line", map[string]any{
			"Number": i + 1,
			"Our":    mr.OurScore,
			"Enemy":  mr.EnemyScore,
			"Result": string(mr.Result),
		}))
	}
	if sess.DroppedMaps > 0 {
		sb.WriteByte('\n')
		sb.WriteString(m.cat.RenderOr("upload.dropped_maps", map[string]any{"Dropped": sess.DroppedMaps}))
	}

	comps := []platform.Component{
		{Type: "button", CustomID: confirmPrefix + sess.ConfirmID, Label: "Correct", Style: "success"},
		{Type: "button", CustomID: rejectPrefix + sess.ConfirmID, Label: "Incorrect", Style: "danger"},
	}
	return m.pf.SendDM(ctx, userID, sb.String(), comps)
}

func (m *Manager) handleConfirm(ctx context.Context, inter *platform.InteractionEvent, confirmID string) error {
	sess, err := m.sessions.Get(ctx, inter.UserID)
	if err != nil {
		return err
	}
	if sess == nil || sess.State != session.StateAwaitConfirmation || sess.ConfirmID != confirmID || sess.Pending == nil {
		return m.pf.RespondInteraction(ctx, inter, m.cat.RenderOr("upload.not_your_confirmation", nil), nil, true)
	}

	rec := *sess.Pending
	id, err := m.records.Append(rec)
	if err != nil {
		return fmt.Errorf("persist record: %w", err)
	}
	rec.ID = id
	obslog.L().Info("record_saved",
		zap.String("id", id),
		zap.String("user", inter.UserID),
		zap.String("format", string(rec.MatchFormat)),
		zap.String("result", string(rec.Result)))

	shots := sess.Screenshots
	if err := m.sessions.Delete(ctx, inter.UserID); err != nil {
		obslog.L().Warn("session_delete_failed", zap.String("user", inter.UserID), zap.Error(err))
	}

	// the record is already durable, a failed announcement is log-only
	if err := m.publisher.Publish(ctx, rec, shots); err != nil {
		obslog.L().Error("publish_failed", zap.String("id", id), zap.Error(err))
	}

	msg := m.cat.RenderOr("upload.saved", map[string]any{"Format": string(rec.MatchFormat)})
	return m.pf.UpdateInteraction(ctx, inter, msg, nil)
}

func (m *Manager) handleReject(ctx context.Context, inter *platform.InteractionEvent, confirmID string) error {
	sess, err := m.sessions.Get(ctx, inter.UserID)
	if err != nil {
		return err
	}
	if sess == nil || sess.State != session.StateAwaitConfirmation || sess.ConfirmID != confirmID {
		return m.pf.RespondInteraction(ctx, inter, m.cat.RenderOr("upload.not_your_confirmation", nil), nil, true)
	}
	if err := m.sessions.Delete(ctx, inter.UserID); err != nil {
		return err
	}
	obslog.L().Info("record_rejected", zap.String("user", inter.UserID))
	return m.pf.UpdateInteraction(ctx, inter, m.cat.RenderOr("upload.rejected", nil), nil)
}

func (m *Manager) dm(ctx context.Context, userID, key string, data map[string]any) error {
	return m.pf.SendDM(ctx, userID, m.cat.RenderOr(key, data), nil)
}
