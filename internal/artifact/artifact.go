// Package artifact renders an issued award into a deterministic SVG
// badge and uploads it to the object store, returning its public URL.
package artifact

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hoopmetrics/achievements-worker/internal/canonjson"
	"github.com/hoopmetrics/achievements-worker/pkg/storage/gcs"
)

const (
	generatedBy  = "achievements-worker"
	cacheControl = "public, max-age=31536000"
	contentType  = "image/svg+xml"
)

// Uploader is the object-store surface the renderer depends on.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, opts gcs.UploadOptions) error
}

// Award carries the fields the renderer needs from a player_awards row.
// It is deliberately decoupled from the models package so the renderer
// can be exercised without a database.
type Award struct {
	AwardID   string
	PlayerID  string
	RuleID    int64
	ScopeKey  *string
	Level     int
	Title     string
	Tier      string
	AwardedAt time.Time
	Issuer    string
}

// Renderer turns award records into badge SVGs and uploads them.
type Renderer struct {
	uploader      Uploader
	publicBaseURL string
}

// New constructs a Renderer that uploads through uploader and returns
// URLs prefixed with publicBaseURL.
func New(uploader Uploader, publicBaseURL string) *Renderer {
	return &Renderer{uploader: uploader, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}
}

var palettes = map[string]palette{
	"bronze":    {background: "#7c4a25", foreground: "#fdf3e7", accent: "#d98e45"},
	"silver":    {background: "#717376", foreground: "#f5f6f7", accent: "#c7cbd1"},
	"gold":      {background: "#8a6d00", foreground: "#fffbe6", accent: "#f0c419"},
	"platinum":  {background: "#3e4a52", foreground: "#f0f8ff", accent: "#a9c6d8"},
	"legendary": {background: "#3a0ca3", foreground: "#fff0f6", accent: "#f72585"},
}

var neutralPalette = palette{background: "#2b2d31", foreground: "#f2f3f5", accent: "#8e9297"}

type palette struct {
	background string
	foreground string
	accent     string
}

func paletteFor(tier string) palette {
	p, ok := palettes[strings.ToLower(strings.TrimSpace(tier))]
	if !ok {
		return neutralPalette
	}
	return p
}

// Key returns the object-store key an award's badge is uploaded under.
func Key(playerID, awardID string) string {
	return fmt.Sprintf("badges/%s/%s.svg", playerID, awardID)
}

// GenerateAndUpload renders award's badge, uploads it, and returns its
// public URL. The SVG body is a pure function of award's fields; only
// the provenance metadata attached at upload time varies between calls.
func (r *Renderer) GenerateAndUpload(ctx context.Context, award Award) (string, error) {
	body, err := render(award)
	if err != nil {
		return "", fmt.Errorf("rendering badge for award %s: %w", award.AwardID, err)
	}

	key := Key(award.PlayerID, award.AwardID)
	opts := gcs.UploadOptions{
		ContentType:  contentType,
		CacheControl: cacheControl,
		UserMetadata: map[string]string{
			"generated-by": generatedBy,
			"generated-at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := r.uploader.Upload(ctx, key, body, opts); err != nil {
		return "", fmt.Errorf("uploading badge for award %s: %w", award.AwardID, err)
	}

	return r.publicBaseURL + "/" + key, nil
}

// render builds the deterministic SVG body for award. It contains no
// clock reads or randomness, so identical input always produces an
// identical byte sequence.
func render(award Award) ([]byte, error) {
	p := paletteFor(award.Tier)

	metadata := map[string]any{
		"award_id":  award.AwardID,
		"player_id": award.PlayerID,
		"rule_id":   award.RuleID,
		"scope_key": award.ScopeKey,
		"level":     award.Level,
		"tier":      award.Tier,
	}
	canonical, err := canonjson.Marshal(metadata)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="400" height="240" viewBox="0 0 400 240">`)
	fmt.Fprintf(&b, `<rect width="400" height="240" rx="16" fill="%s"/>`, p.background)
	fmt.Fprintf(&b, `<rect x="12" y="12" width="376" height="216" rx="12" fill="none" stroke="%s" stroke-width="2"/>`, p.accent)
	fmt.Fprintf(&b, `<text x="32" y="56" font-family="sans-serif" font-size="24" fill="%s">%s</text>`, p.foreground, escapeXML(award.Title))
	fmt.Fprintf(&b, `<text x="32" y="88" font-family="sans-serif" font-size="16" fill="%s">%s</text>`, p.accent, escapeXML(award.Tier))
	fmt.Fprintf(&b, `<text x="32" y="200" font-family="sans-serif" font-size="12" fill="%s">%s</text>`, p.foreground, escapeXML(award.AwardedAt.UTC().Format("2006-01-02")))
	fmt.Fprintf(&b, `<text x="32" y="218" font-family="sans-serif" font-size="12" fill="%s">%s</text>`, p.foreground, escapeXML(award.Issuer))
	b.WriteString(`<metadata>`)
	b.WriteString(escapeXML(string(canonical)))
	b.WriteString(`</metadata>`)
	b.WriteString(`</svg>`)

	return []byte(b.String()), nil
}

var xmlEntities = []struct {
	char   string
	entity string
}{
	{"&", "&amp;"},
	{"<", "&lt;"},
	{">", "&gt;"},
	{`"`, "&quot;"},
	{"'", "&apos;"},
}

// escapeXML replaces the five XML special characters with their named
// entities so that a malicious title or issuer string cannot escape its
// text element.
func escapeXML(s string) string {
	// '&' must be replaced first, or entities introduced by later
	// replacements would themselves be escaped.
	for _, e := range xmlEntities {
		s = strings.ReplaceAll(s, e.char, e.entity)
	}
	return s
}
