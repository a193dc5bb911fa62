package portal

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/david/govcapture/internal/collab"
	"github.com/david/govcapture/internal/models"
	"github.com/gocolly/colly/v2"
)

const userAgent = "govcapture-status/1.0 (+https://github.com/david/govcapture)"

// StatusReader interprets a status page when selectors are not enough.
type StatusReader interface {
	ReadStatus(ctx context.Context, title, pageText string) (status, reason string, err error)
}

func (l *Lookup) collector(cfg Config) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.UserAgent(userAgent),
		colly.MaxBodySize(5 * 1024 * 1024),
		colly.AllowURLRevisit(),
		colly.DetectCharset(),
	}
	if cfg.IgnoreRobots {
		opts = append(opts, colly.IgnoreRobotsTxt())
	}
	c := colly.NewCollector(opts...)
	c.SetRequestTimeout(cfg.Timeout())
	return c
}

func (l *Lookup) checkHTML(ctx context.Context, cfg Config, sub models.Submission, opp models.Opportunity) (collab.PortalStatus, error) {
	target := strings.ReplaceAll(cfg.StatusURL, "{ref}", opp.ExternalRef)
	c := l.collector(cfg)

	var (
		body     []byte
		fetchErr error
	)
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("fetch %s: status %d: %w", r.Request.URL, r.StatusCode, err)
	})
	if err := c.Visit(target); err != nil {
		return collab.PortalStatus{}, fmt.Errorf("visit failed: %w", err)
	}
	c.Wait()
	if err := ctx.Err(); err != nil {
		return collab.PortalStatus{}, err
	}
	if fetchErr != nil {
		return collab.PortalStatus{}, fetchErr
	}
	if body == nil {
		return collab.PortalStatus{}, fmt.Errorf("no response received for %s", target)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return collab.PortalStatus{}, fmt.Errorf("parse status page: %w", err)
	}
	status := selectText(doc, cfg.Selectors.Status)
	notice := selectText(doc, cfg.Selectors.Notice)

	out := collab.PortalStatus{Status: status, Analysis: notice, Source: target}
	if !cfg.UseAI || l.reader == nil {
		if status == "" {
			return collab.PortalStatus{}, fmt.Errorf("no status found on %s", target)
		}
		return out, nil
	}

	pageText := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	aiStatus, reason, err := l.reader.ReadStatus(ctx, sub.Title, pageText)
	switch {
	case err != nil && status == "":
		return collab.PortalStatus{}, fmt.Errorf("no status found on %s and AI read failed: %w", target, err)
	case err != nil:
		log.Printf("[portal] AI status read failed for %s: %v", target, err)
	case status == "":
		out.Status, out.Analysis = aiStatus, reason
	default:
		out.Analysis = strings.TrimSpace(reason + " " + notice)
	}
	return out, nil
}

func selectText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	var parts []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, " | ")
}
