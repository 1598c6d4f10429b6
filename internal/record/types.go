package record

import (
	"path/filepath"
	"strings"
	"time"
)

// Result is the outcome of a match or of a single map, derived from score comparison.
type Result string

const (
	ResultWin    Result = "win"
	ResultDefeat Result = "defeat"
	ResultDraw   Result = "draw"
)

// ResultFromScores derives the result from a score pair: greater → win,
// less → defeat, equal → draw.
func ResultFromScores(our, enemy int) Result {
	switch {
	case our > enemy:
		return ResultWin
	case our < enemy:
		return ResultDefeat
	default:
		return ResultDraw
	}
}

// MatchFormat is a best-of-N series format.
type MatchFormat string

const (
	FormatBO1 MatchFormat = "BO1"
	FormatBO2 MatchFormat = "BO2"
	FormatBO3 MatchFormat = "BO3"
	FormatBO4 MatchFormat = "BO4"
	FormatBO5 MatchFormat = "BO5"
)

// ParseMatchFormat accepts "BO1".."BO5" case-insensitively.
func ParseMatchFormat(s string) (MatchFormat, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BO1":
		return FormatBO1, true
	case "BO2":
		return FormatBO2, true
	case "BO3":
		return FormatBO3, true
	case "BO4":
		return FormatBO4, true
	case "BO5":
		return FormatBO5, true
	default:
		return "", false
	}
}

// Number returns the N of a best-of-N format (BO3 → 3).
func (f MatchFormat) Number() int {
	if len(f) != 3 {
		return 0
	}
	return int(f[2] - '0')
}

// Multi reports whether the format collects one screenshot per map (BO2..BO5).
func (f MatchFormat) Multi() bool { return f.Number() >= 2 }

// TargetScreenshots is the number of screenshots needed for the format:
// the maps required to win the series, ceil(N/2). BO1 takes a single shot.
func (f MatchFormat) TargetScreenshots() int {
	n := f.Number()
	if n <= 1 {
		return 1
	}
	return (n + 1) / 2
}

// UploadType selects the destination channel for a published record.
type UploadType string

const (
	UploadScrim      UploadType = "scrim"
	UploadTournament UploadType = "tournament"
)

func ParseUploadType(s string) (UploadType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scrim":
		return UploadScrim, true
	case "tournament":
		return UploadTournament, true
	default:
		return "", false
	}
}

// Extraction provenance tags.
const (
	MethodOCR    = "OCR"
	MethodManual = "manual"
)

// MapScore is the extracted outcome of a single map in a multi-map series.
type MapScore struct {
	OurScore   int    `json:"our_score"`
	EnemyScore int    `json:"enemy_score"`
	Result     Result `json:"result"`
}

// MatchRecord is one persisted match result. Records live in a flat JSON file
// keyed by string-encoded sequential id; ids are assigned at write time.
type MatchRecord struct {
	ID               string      `json:"id"`
	UserID           string      `json:"user_id"`
	Username         string      `json:"username"`
	MatchFormat      MatchFormat `json:"match_format"`
	UploadType       UploadType  `json:"upload_type"`
	ClanName         string      `json:"clan_name"`
	OurScore         int         `json:"our_score"`
	EnemyScore       int         `json:"enemy_score"`
	Result           Result      `json:"result"`
	MapResults       []MapScore  `json:"map_results,omitempty"`
	Timestamp        string      `json:"timestamp"`
	ExtractionMethod string      `json:"extraction_method"`

	Edited   bool   `json:"edited,omitempty"`
	EditedBy string `json:"edited_by,omitempty"`
	EditedAt string `json:"edited_at,omitempty"`
}

// Now returns the ISO-8601 timestamp used for Timestamp fields.
func Now() string { return time.Now().Format(time.RFC3339) }

// MaxAttachmentBytes is the accepted upload size limit (50 MB).
const MaxAttachmentBytes = 50 * 1024 * 1024

var (
	screenshotExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}
	// BO1 accepts the broader highlight set in addition to screenshots.
	singleShotExts = map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
		".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true,
	}
)

// ValidAttachmentName checks the filename extension against the allowed set
// for the format: strict image types for multi-map collection, the broader
// set for single-shot uploads.
func ValidAttachmentName(name string, format MatchFormat) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if format.Multi() {
		return screenshotExts[ext]
	}
	return singleShotExts[ext]
}
