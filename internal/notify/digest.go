// Package notify builds the daily digest and delivers it to a webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mtblotter/internal/config"
	"mtblotter/internal/store"
)

// Notifier renders one day's posts and posts them to the configured
// webhook.
type Notifier struct {
	store  *store.Store
	cfg    config.DigestConfig
	client *http.Client
	log    zerolog.Logger
}

func New(st *store.Store, cfg config.DigestConfig, logger zerolog.Logger) *Notifier {
	return &Notifier{
		store:  st,
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		log:    logger.With().Str("component", "notify").Logger(),
	}
}

// Digest holds one day's summaries grouped by county.
type Digest struct {
	Date     string         `json:"date"`
	Total    int            `json:"total"`
	Counties []CountyDigest `json:"counties"`
}

type CountyDigest struct {
	County string       `json:"county"`
	Posts  []store.Post `json:"posts"`
}

// BuildDigest collects the posts created on day (UTC), grouped by county
// in alphabetical order.
func (n *Notifier) BuildDigest(ctx context.Context, day time.Time) (*Digest, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)
	posts, err := n.store.PostsSince(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("load posts: %w", err)
	}

	groups := make(map[string][]store.Post)
	total := 0
	for _, p := range posts {
		if !p.CreatedAt.Before(end) {
			continue
		}
		groups[p.County] = append(groups[p.County], p)
		total++
	}
	counties := make([]string, 0, len(groups))
	for county := range groups {
		counties = append(counties, county)
	}
	sort.Strings(counties)

	d := &Digest{Date: start.Format("2006-01-02"), Total: total}
	for _, county := range counties {
		d.Counties = append(d.Counties, CountyDigest{County: county, Posts: groups[county]})
	}
	return d, nil
}

// Render produces the plain-text digest body.
func (d *Digest) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Montana Blotter Digest for %s\n", d.Date)
	if d.Total == 0 {
		b.WriteString("\nNo new incidents.\n")
		return b.String()
	}
	for _, cd := range d.Counties {
		fmt.Fprintf(&b, "\n%s (%d)\n", countyLabel(cd.County), len(cd.Posts))
		for _, p := range cd.Posts {
			line := p.Title
			if p.IncidentDate != "" {
				line = p.IncidentDate + " " + line
			}
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	fmt.Fprintf(&b, "\n%d incidents total.\n", d.Total)
	return b.String()
}

func countyLabel(county string) string {
	if county == "" {
		return "Unassigned"
	}
	return county + " County"
}

type webhookPayload struct {
	Text  string `json:"text"`
	Date  string `json:"date"`
	Total int    `json:"total"`
}

// Send delivers the rendered digest. An unset webhook URL makes Send a
// no-op, so the digest can stay scheduled without a destination.
func (n *Notifier) Send(ctx context.Context, d *Digest) error {
	if n.cfg.WebhookURL == "" {
		n.log.Debug().Msg("webhook unset, digest skipped")
		return nil
	}
	payload, err := json.Marshal(webhookPayload{Text: d.Render(), Date: d.Date, Total: d.Total})
	if err != nil {
		return fmt.Errorf("encode digest: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver digest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	n.log.Info().Str("date", d.Date).Int("posts", d.Total).Msg("digest delivered")
	return nil
}

// Run builds and sends yesterday's digest in one step.
func (n *Notifier) Run(ctx context.Context) (*Digest, error) {
	d, err := n.BuildDigest(ctx, time.Now().UTC().AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}
	if err := n.Send(ctx, d); err != nil {
		return d, err
	}
	return d, nil
}
