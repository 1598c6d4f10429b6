package admin

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/zeroremorse/scrimbot/internal/msgcat"
	"github.com/zeroremorse/scrimbot/internal/obslog"
	"github.com/zeroremorse/scrimbot/internal/platform"
	"github.com/zeroremorse/scrimbot/internal/tally"
)

// Platform is the slice of the chat client the admin commands use.
type Platform interface {
	SendText(ctx context.Context, channelID, content string) error
	HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error)
}

// Handler routes prefixed guild-channel stat commands:
//
//	<prefix>stats show
//	<prefix>stats reset
//	<prefix>stats set <wins> <losses> <draws>
//	<prefix>stats adjust <±wins> <±losses> <±draws>
type Handler struct {
	svc *Service
	pf  Platform
	cat *msgcat.Catalog

	prefix      string
	guildID     string
	adminRoleID string
}

func NewHandler(svc *Service, pf Platform, cat *msgcat.Catalog, prefix, guildID, adminRoleID string) *Handler {
	return &Handler{svc: svc, pf: pf, cat: cat, prefix: prefix, guildID: guildID, adminRoleID: adminRoleID}
}

// HandleMessage processes one guild message; non-command messages are
// ignored.
func (h *Handler) HandleMessage(ctx context.Context, msg *platform.MessageEvent) {
	if msg.DM || msg.Bot {
		return
	}
	body, ok := strings.CutPrefix(strings.TrimSpace(msg.Content), h.prefix+"stats")
	if !ok || (body != "" && !strings.HasPrefix(body, " ")) {
		return
	}
	args := strings.Fields(body)

	if err := h.run(ctx, msg, args); err != nil {
		obslog.L().Error("admin_command_failed",
			zap.String("user", msg.UserID),
			zap.Strings("args", args),
			zap.Error(err))
	}
}

func (h *Handler) run(ctx context.Context, msg *platform.MessageEvent, args []string) error {
	guildID := msg.GuildID
	if guildID == "" {
		guildID = h.guildID
	}
	ok, err := h.pf.HasRole(ctx, guildID, msg.UserID, h.adminRoleID)
	if err != nil {
		return err
	}
	if !ok {
		return h.reply(ctx, msg, "admin.no_role", nil)
	}
	if len(args) == 0 {
		return h.reply(ctx, msg, "admin.usage", nil)
	}

	switch args[0] {
	case "show":
		totals, err := h.svc.Stats()
		if err != nil {
			return err
		}
		return h.reply(ctx, msg, "admin.show", totalsData(totals))
	case "reset":
		backup, err := h.svc.ResetStats(msg.Username)
		if err != nil {
			return err
		}
		return h.reply(ctx, msg, "admin.reset_done", map[string]any{"Backup": backup})
	case "set":
		vals, ok := parseInts(args[1:], 3)
		if !ok {
			return h.reply(ctx, msg, "admin.usage", nil)
		}
		totals, err := h.svc.SetStats(vals[0], vals[1], vals[2], msg.Username)
		if err != nil {
			if errors.Is(err, ErrInvalidCounts) {
				return h.reply(ctx, msg, "admin.invalid_args", nil)
			}
			return err
		}
		return h.reply(ctx, msg, "admin.set_done", totalsData(totals))
	case "adjust":
		vals, ok := parseInts(args[1:], 3)
		if !ok {
			return h.reply(ctx, msg, "admin.usage", nil)
		}
		totals, err := h.svc.AdjustStats(vals[0], vals[1], vals[2], msg.Username)
		if err != nil {
			if errors.Is(err, ErrInvalidCounts) {
				return h.reply(ctx, msg, "admin.invalid_args", nil)
			}
			return err
		}
		return h.reply(ctx, msg, "admin.adjust_done", totalsData(totals))
	default:
		return h.reply(ctx, msg, "admin.usage", nil)
	}
}

func totalsData(t tally.Totals) map[string]any {
	return map[string]any{
		"Wins":   t.Wins,
		"Losses": t.Losses,
		"Draws":  t.Draws,
		"Total":  t.Total(),
	}
}

func parseInts(args []string, n int) ([]int, bool) {
	if len(args) != n {
		return nil, false
	}
	out := make([]int, n)
	for i, a := range args {
		v, err := strconv.Atoi(strings.TrimPrefix(a, "+"))
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func (h *Handler) reply(ctx context.Context, msg *platform.MessageEvent, key string, data map[string]any) error {
	return h.pf.SendText(ctx, msg.ChannelID, h.cat.RenderOr(key, data))
}
