// Package models defines the data types shared across the bergamot
// ingestion core: visits, page sessions, trees, rules, corrections, and
// the vector documents that back retrieval. Kept dependency-light so
// both the server and the tool-surface binary can import it directly.
package models

import "time"

// Classification is the page-type label the classifier pipeline assigns
// to a PageSession.
type Classification string

const (
	ClassKnowledge      Classification = "knowledge"
	ClassInteractiveApp Classification = "interactive_app"
	ClassAggregator     Classification = "aggregator"
	ClassLeisure        Classification = "leisure"
	ClassNavigation     Classification = "navigation"
	ClassOther          Classification = "other"
)

// ValidClassification reports whether c is one of the six known labels.
func ValidClassification(c Classification) bool {
	switch c {
	case ClassKnowledge, ClassInteractiveApp, ClassAggregator, ClassLeisure, ClassNavigation, ClassOther:
		return true
	}
	return false
}

// Visit is the unit of input received from the browser extension.
type Visit struct {
	ID                string    `json:"id"`
	URL               string    `json:"url"`
	PageLoadedAt      time.Time `json:"page_loaded_at"`
	TabID             string    `json:"tab_id"`
	OpenerTabID       string    `json:"opener_tab_id,omitempty"`
	GroupID           string    `json:"group_id"`
	ReferrerURL       string    `json:"referrer,omitempty"`
	ReferrerTimestamp *float64  `json:"referrer_timestamp,omitempty"`
	Title             string    `json:"title,omitempty"`
	RawContent        string    `json:"-"` // decompressed page text; never persisted in the structured store
}

// PageSession is the persisted, classified form of an accepted Visit.
type PageSession struct {
	ID             string         `json:"id"`
	URL            string         `json:"url"`
	PageLoadedAt   time.Time      `json:"page_loaded_at"`
	TabID          string         `json:"tab_id"`
	OpenerTabID    string         `json:"opener_tab_id,omitempty"`
	GroupID        string         `json:"group_id"`
	Title          string         `json:"title,omitempty"`
	TreeID         string         `json:"tree_id"`
	ParentPageID   *string        `json:"parent_page_id,omitempty"`
	Classification Classification `json:"classification"`
	Confidence     float64        `json:"confidence"`
	Reasoning      string         `json:"reasoning"`
	ShouldProcess  bool           `json:"should_process"`
	ProcessedAt    time.Time      `json:"processed_at"`
}

// Tree groups causally linked PageSessions originating from a single root.
type Tree struct {
	TreeID         string    `json:"tree_id"`
	RootPageID     string    `json:"root_page_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// OrphanEntry is a Visit deferred because its expected parent has not
// yet been observed.
type OrphanEntry struct {
	Visit               Visit
	ExpectedParentTabID string
	FirstSeenAt         time.Time
	RetryCount          int
}

// RuleActionKind enumerates the action kinds a procedural rule can take.
type RuleActionKind string

const (
	ActionAlwaysProcess   RuleActionKind = "always_process"
	ActionNeverProcess    RuleActionKind = "never_process"
	ActionPreferType      RuleActionKind = "prefer_type"
	ActionBoostConfidence RuleActionKind = "boost_confidence"
)

// RuleAction is the action a ProceduralRule performs when its condition
// matches.
type RuleAction struct {
	Kind            RuleActionKind `json:"kind"`
	PreferType      Classification `json:"prefer_type,omitempty"`
	ConfidenceBoost float64        `json:"confidence_boost,omitempty"`
}

// ProceduralRule is a user- or system-declared decision evaluated before
// the language-model classifier runs.
type ProceduralRule struct {
	ID        string     `json:"id"`
	Priority  int        `json:"priority"` // higher evaluated first
	Condition string     `json:"condition"` // expr-lang boolean expression
	Action    RuleAction `json:"action"`
}

// EpisodicCorrection is a record of a prior classification that was
// later corrected by the user, used to adjust future confidence.
type EpisodicCorrection struct {
	ID                       string         `json:"id"`
	PageID                   string         `json:"page_id"`
	OriginalClassification   Classification `json:"original_classification"`
	CorrectedClassification  Classification `json:"corrected_classification"`
	URL                      string         `json:"url"`
	Embedding                []float32      `json:"embedding"`
	CreatedAt                time.Time      `json:"created_at"`
}

// VectorDocMetadata is the small metadata sidecar stored with every
// VectorDocument.
type VectorDocMetadata struct {
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	PageLoadedAt time.Time `json:"page_loaded_at"`
}

// VectorDocument is the stored unit in the vector store: full page text
// plus its embedding, keyed by PageSession.ID. It is the sole source of
// truth for page content — the structured store never holds it.
type VectorDocument struct {
	Key       string            `json:"key"`
	Content   string            `json:"content"`
	Embedding []float32         `json:"embedding"`
	Metadata  VectorDocMetadata `json:"metadata"`
}

// SearchResult is one hit of a vector-store k-NN query.
type SearchResult struct {
	Doc   VectorDocument `json:"doc"`
	Score float64        `json:"score"`
}

// ClassifierInput is the material the classifier pipeline evaluates.
type ClassifierInput struct {
	URL            string
	Title          string
	ContentFirst2k string
	TabGroupSize   int
}

// ClassifierDecision is the arbitrated output of the classifier pipeline.
type ClassifierDecision struct {
	ShouldProcess bool           `json:"should_process"`
	PageType      Classification `json:"page_type"`
	Confidence    float64        `json:"confidence"`
	Reasoning     string         `json:"reasoning"`
}

// LMResponse is the schema the language-model provider must return for a
// classification request.
type LMResponse struct {
	PageType      Classification `json:"page_type"`
	Confidence    float64        `json:"confidence"`
	Reasoning     string         `json:"reasoning"`
	ShouldProcess bool           `json:"should_process"`
}
