package publish

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/zeroremorse/scrimbot/internal/platform"
	"github.com/zeroremorse/scrimbot/internal/record"
	"github.com/zeroremorse/scrimbot/internal/session"
	"github.com/zeroremorse/scrimbot/internal/store"
	"github.com/zeroremorse/scrimbot/internal/tally"
)

// ChannelSender is the outbound slice of the platform client the publisher
// needs.
type ChannelSender interface {
	SendText(ctx context.Context, channelID, content string) error
	SendFiles(ctx context.Context, channelID, content string, files []platform.File) error
}

// Publisher posts saved match results, with running totals, to the channel
// matching the record's upload type.
type Publisher struct {
	sender            ChannelSender
	store             *store.Store
	scrimChannel      string
	tournamentChannel string
}

func New(sender ChannelSender, st *store.Store, scrimChannel, tournamentChannel string) *Publisher {
	if strings.TrimSpace(tournamentChannel) == "" {
		tournamentChannel = scrimChannel
	}
	return &Publisher{
		sender:            sender,
		store:             st,
		scrimChannel:      scrimChannel,
		tournamentChannel: tournamentChannel,
	}
}

func (p *Publisher) channelFor(ut record.UploadType) string {
	if ut == record.UploadTournament {
		return p.tournamentChannel
	}
	return p.scrimChannel
}

// Publish posts the announcement for rec, re-reading the store so the
// totals include the record itself and any saves that raced with it.
// Screenshots ride along with anonymized filenames.
func (p *Publisher) Publish(ctx context.Context, rec record.MatchRecord, shots []session.Screenshot) error {
	records, err := p.store.Load()
	if err != nil {
		return fmt.Errorf("load totals: %w", err)
	}
	content := tally.Summary(rec, tally.Count(records))
	channel := p.channelFor(rec.UploadType)

	if len(shots) == 0 {
		return p.sender.SendText(ctx, channel, content)
	}
	files := make([]platform.File, 0, len(shots))
	for _, shot := range shots {
		name := uuid.NewString() + strings.ToLower(filepath.Ext(shot.Filename))
		files = append(files, platform.File{Name: name, Data: shot.Data})
	}
	return p.sender.SendFiles(ctx, channel, content, files)
}
