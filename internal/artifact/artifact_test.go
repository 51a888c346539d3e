package artifact

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hoopmetrics/achievements-worker/pkg/storage/gcs"
)

type recordingUploader struct {
	key  string
	body []byte
	opts gcs.UploadOptions
}

func (u *recordingUploader) Upload(_ context.Context, key string, body []byte, opts gcs.UploadOptions) error {
	u.key = key
	u.body = body
	u.opts = opts
	return nil
}

func TestKey_MatchesNamespace(t *testing.T) {
	if got := Key("p1", "a1"); got != "badges/p1/a1.svg" {
		t.Fatalf("unexpected key: %q", got)
	}
}

func TestGenerateAndUpload_ReturnsPublicURL(t *testing.T) {
	uploader := &recordingUploader{}
	renderer := New(uploader, "https://cdn.example.com/")

	award := Award{
		AwardID:   "a1",
		PlayerID:  "p1",
		RuleID:    7,
		Title:     "50 Bomb",
		Tier:      "Gold",
		AwardedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Issuer:    "achievements-worker",
	}

	url, err := renderer.GenerateAndUpload(context.Background(), award)
	if err != nil {
		t.Fatalf("GenerateAndUpload: %v", err)
	}
	if url != "https://cdn.example.com/badges/p1/a1.svg" {
		t.Fatalf("unexpected url: %q", url)
	}
	if uploader.key != "badges/p1/a1.svg" {
		t.Fatalf("unexpected uploaded key: %q", uploader.key)
	}
	if uploader.opts.ContentType != "image/svg+xml" {
		t.Fatalf("unexpected content type: %q", uploader.opts.ContentType)
	}
	if uploader.opts.CacheControl != "public, max-age=31536000" {
		t.Fatalf("unexpected cache control: %q", uploader.opts.CacheControl)
	}
	if uploader.opts.UserMetadata["generated-by"] != "achievements-worker" {
		t.Fatalf("unexpected generated-by metadata: %v", uploader.opts.UserMetadata)
	}
}

func TestGenerateAndUpload_IsDeterministicModuloUploadMetadata(t *testing.T) {
	award := Award{
		AwardID:   "a1",
		PlayerID:  "p1",
		RuleID:    7,
		Title:     "50 Bomb",
		Tier:      "Gold",
		AwardedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Issuer:    "achievements-worker",
	}

	first, err := render(award)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	second, err := render(award)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("expected identical award input to render byte-identical SVGs")
	}
}

func TestRender_XMLEscapesMaliciousTitle(t *testing.T) {
	award := Award{
		AwardID:  "a2",
		PlayerID: "p2",
		Title:    `<script>alert("x")</script> & friends'`,
		Tier:     "unknown-tier",
	}

	body, err := render(award)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	svg := string(body)

	if strings.Contains(svg, "<script>") {
		t.Fatalf("expected title to be escaped, found raw <script> tag: %s", svg)
	}
	if !strings.Contains(svg, "&lt;script&gt;") {
		t.Fatalf("expected escaped script tag in output: %s", svg)
	}
	if !strings.Contains(svg, "&amp; friends&apos;") {
		t.Fatalf("expected escaped ampersand and apostrophe in output: %s", svg)
	}
}

func TestPaletteFor_UnknownTierUsesNeutralPalette(t *testing.T) {
	known := paletteFor("Gold")
	unknown := paletteFor("made-up-tier")

	if known == unknown {
		t.Fatalf("expected known tier palette to differ from neutral fallback")
	}
	if unknown != neutralPalette {
		t.Fatalf("expected unknown tier to use the neutral palette")
	}
}
