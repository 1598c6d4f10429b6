package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	// matchPrompt reads the final series score from a single screenshot.
	matchPrompt = `You are analyzing an end-game scoreboard screenshot from a competitive match.
The uploading team is the one whose side is highlighted or marked as the viewer's team.
The UI language may not be English; treat equivalents of WIN/VICTORY and DEFEAT/LOSE in any language the same way.
Report the final score of the match.
Respond with exactly one JSON object and nothing else:
{"our_score": <number>, "enemy_score": <number>}`

	// mapPrompt reads a single map's score out of a per-map screenshot.
	mapPrompt = `You are analyzing an end-game scoreboard screenshot for ONE map of a competitive series.
The uploading team is the one whose side is highlighted or marked as the viewer's team.
The UI language may not be English; treat equivalents of WIN/VICTORY and DEFEAT/LOSE in any language the same way.
Report the round score of this single map only, not the series score.
Respond with exactly one JSON object and nothing else:
{"our_score": <number>, "enemy_score": <number>}`

	matchTimeout = 15 * time.Second
	mapTimeout   = 30 * time.Second

	// interCallDelay spaces out consecutive oracle calls in a series.
	interCallDelay = 2 * time.Second
)

// Score is a single extracted scoreline from the uploader's perspective.
type Score struct {
	Our   int `json:"our_score"`
	Enemy int `json:"enemy_score"`
}

// Image is one screenshot to extract from.
type Image struct {
	Filename string
	Data     []byte
}

// Generator produces model text for a prompt plus one inline image.
type Generator interface {
	Generate(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// Extractor turns screenshots into scores via the vision model.
type Extractor struct {
	gen   Generator
	delay time.Duration
}

func NewExtractor(gen Generator) *Extractor {
	return &Extractor{gen: gen, delay: interCallDelay}
}

// ExtractMatchScore reads the final series score from one screenshot.
func (e *Extractor) ExtractMatchScore(ctx context.Context, img Image) (Score, error) {
	return e.extract(ctx, matchPrompt, img, matchTimeout)
}

// ExtractMapScore reads a single map's score from one screenshot.
func (e *Extractor) ExtractMapScore(ctx context.Context, img Image) (Score, error) {
	return e.extract(ctx, mapPrompt, img, mapTimeout)
}

// ExtractSeries runs map extraction over each screenshot in upload order.
// Unreadable screenshots are skipped and counted in dropped; the error is
// non-nil only when every screenshot failed.
func (e *Extractor) ExtractSeries(ctx context.Context, imgs []Image) (scores []Score, dropped int, err error) {
	for i, img := range imgs {
		if i > 0 && e.delay > 0 {
			t := time.NewTimer(e.delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return scores, dropped, ctx.Err()
			case <-t.C:
			}
		}
		score, exErr := e.ExtractMapScore(ctx, img)
		if exErr != nil {
			dropped++
			continue
		}
		scores = append(scores, score)
	}
	if len(scores) == 0 {
		return nil, dropped, ErrNoScore
	}
	return scores, dropped, nil
}

func (e *Extractor) extract(ctx context.Context, prompt string, img Image, timeout time.Duration) (Score, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := e.gen.Generate(callCtx, prompt, img.Data, MimeForFilename(img.Filename))
	if err != nil {
		return Score{}, err
	}
	return parseScore(text)
}

func parseScore(text string) (Score, error) {
	raw, ok := extractJSON(text)
	if !ok {
		return Score{}, ErrNoScore
	}
	var s Score
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Score{}, fmt.Errorf("%w: %v", ErrNoScore, err)
	}
	if s.Our < 0 || s.Enemy < 0 {
		return Score{}, ErrNoScore
	}
	return s, nil
}

// extractJSON pulls the widest brace-delimited span out of free-form model
// text, tolerating prose or code fences around the object.
func extractJSON(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}

// MimeForFilename maps an attachment name to the inline-data mime type.
func MimeForFilename(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webm":
		return "video/webm"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	case ".mkv":
		return "video/x-matroska"
	default:
		return "application/octet-stream"
	}
}
