package portal

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/david/govcapture/internal/collab"
	"github.com/david/govcapture/internal/models"
)

// Lookup implements follow-up status checks for every registered portal.
type Lookup struct {
	registry *Registry
	limits   *limits
	http     *http.Client
	reader   StatusReader
	company  string
	now      func() time.Time
}

type LookupOptions struct {
	// Reader is optional; portals with use_ai need it to interpret pages.
	Reader StatusReader
	// CompanyName lets a SAM.gov award to someone else classify as a loss.
	CompanyName string
	HTTPClient  *http.Client
}

func NewLookup(reg *Registry, opts LookupOptions) *Lookup {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Lookup{
		registry: reg,
		limits:   newLimits(),
		http:     client,
		reader:   opts.Reader,
		company:  opts.CompanyName,
		now:      defaultNow,
	}
}

func (l *Lookup) CheckStatus(ctx context.Context, sub models.Submission, opp models.Opportunity) (collab.PortalStatus, error) {
	cfg, ok := l.registry.Lookup(sub.Portal)
	if !ok {
		return collab.PortalStatus{}, fmt.Errorf("portal %q is not registered", sub.Portal)
	}
	if err := l.limits.wait(ctx, cfg); err != nil {
		return collab.PortalStatus{}, fmt.Errorf("rate limit wait for %s: %w", cfg.Name, err)
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()

	log.Printf("[portal] checking %s status for submission %s (ref %q)", cfg.Name, sub.ID, opp.ExternalRef)
	switch cfg.Kind {
	case KindSAMAPI:
		return l.checkSAM(ctx, cfg, opp)
	case KindHTML:
		return l.checkHTML(ctx, cfg, sub, opp)
	}
	return collab.PortalStatus{}, fmt.Errorf("portal %q: unsupported kind %q", cfg.Name, cfg.Kind)
}
