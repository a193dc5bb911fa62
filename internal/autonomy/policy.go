// Package autonomy decides how much of the pursuit workflow may run without
// a human, and holds the live policy configuration.
package autonomy

import "fmt"

type Action string

const (
	// ActionDefer means no score is available yet.
	ActionDefer            Action = "defer"
	ActionNone             Action = "none"
	ActionDraft            Action = "draft"
	ActionDraftAndGenerate Action = "draft_and_generate"
)

type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// Drafts reports whether the decision creates or advances a submission.
func (d Decision) Drafts() bool {
	return d.Action == ActionDraft || d.Action == ActionDraftAndGenerate
}

// Decide maps a fit score and contract value onto the recommended action.
// An unknown value never passes the autonomous value gate.
func Decide(fitScore *int, estimatedValue *float64, cfg Config) Decision {
	if fitScore == nil {
		return Decision{Action: ActionDefer, Reason: "fit score not available yet"}
	}
	fit := *fitScore

	if cfg.Mode == ModeManual {
		return Decision{Action: ActionNone, Reason: "manual mode"}
	}
	if fit < cfg.FitThreshold {
		return Decision{Action: ActionNone, Reason: fmt.Sprintf("fit %d below threshold %d", fit, cfg.FitThreshold)}
	}
	if cfg.Mode != ModeAutonomous {
		return Decision{Action: ActionDraft, Reason: fmt.Sprintf("supervised: fit %d >= %d", fit, cfg.FitThreshold)}
	}

	if fit < cfg.AutoThreshold {
		return Decision{Action: ActionDraft, Reason: fmt.Sprintf("fit %d below auto threshold %d", fit, cfg.AutoThreshold)}
	}
	if estimatedValue == nil {
		return Decision{Action: ActionDraft, Reason: "estimated value unknown"}
	}
	if *estimatedValue > cfg.MaxAutoValue {
		return Decision{Action: ActionDraft, Reason: fmt.Sprintf("value %.0f exceeds max auto value %.0f", *estimatedValue, cfg.MaxAutoValue)}
	}
	return Decision{Action: ActionDraftAndGenerate, Reason: fmt.Sprintf("autonomous: fit %d >= %d and value %.0f <= %.0f", fit, cfg.AutoThreshold, *estimatedValue, cfg.MaxAutoValue)}
}
