// Package hindsight implements a long-term agentic memory engine: a
// content-addressed, graph-structured knowledge store with hybrid
// (lexical + semantic + graph + temporal) retrieval, write-time
// reconsolidation, and background consolidation into higher-order
// observations.
//
// The three entry points are Retain (write), Recall (read) and Reflect
// (bounded tool-using synthesis over a three-tier memory hierarchy). The
// caller supplies the effectful collaborators — an embedding function, an
// optional reranker, and an LLM adapter for extraction/consolidation/
// reflection — so the engine itself has no network or provider dependency.
package hindsight

import "time"

// FactType categorizes a MemoryUnit epistemically.
type FactType string

const (
	WorldFact      FactType = "world"
	ExperienceFact FactType = "experience"
	OpinionFact    FactType = "opinion"
	ObservationFact FactType = "observation"
)

// Scope bounds the activity window an episode or memory belongs to.
type Scope string

const (
	ScopeProfile Scope = "profile"
	ScopeProject Scope = "project"
	ScopeSession Scope = "session"
)

// Route is the outcome of the router classifying a new fact.
type Route string

const (
	RouteNewTrace      Route = "new_trace"
	RouteReinforce     Route = "reinforce"
	RouteReconsolidate Route = "reconsolidate"
)

// LinkType enumerates the kinds of directed edges the link builder creates.
type LinkType string

const (
	LinkEntity   LinkType = "entity"
	LinkSemantic LinkType = "semantic"
	LinkTemporal LinkType = "temporal"
	LinkCausedBy LinkType = "caused_by"
)

// BoundaryReason explains why the episode tracker opened a new episode.
type BoundaryReason string

const (
	BoundaryInitial        BoundaryReason = "initial"
	BoundaryTimeGap        BoundaryReason = "time_gap"
	BoundaryScopeChange    BoundaryReason = "scope_change"
	BoundaryPhrase         BoundaryReason = "phrase_boundary"
)

// CausalRelation records that an extracted fact was caused by another fact
// in the same extraction batch.
type CausalRelation struct {
	TargetIndex int     // index into the same ExtractResult.Facts slice
	Kind        string  // relation label, e.g. "caused_by"
	Strength    float64 // [0,1], used directly as the resulting link weight
}

// TaskType enumerates the kinds of work tracked by the async operation queue.
type TaskType string

const (
	TaskRetain            TaskType = "retain"
	TaskConsolidation     TaskType = "consolidation"
	TaskRefreshMentalModel TaskType = "refresh_mental_model"
)

// OpStatus is the lifecycle state of an AsyncOperation.
type OpStatus string

const (
	OpPending    OpStatus = "pending"
	OpProcessing OpStatus = "processing"
	OpCompleted  OpStatus = "completed"
	OpFailed     OpStatus = "failed"
)

// EntityType classifies a canonicalized named thing.
type EntityType string

const (
	EntityPerson EntityType = "person"
	EntityOrg    EntityType = "organization"
	EntityPlace  EntityType = "place"
	EntityConcept EntityType = "concept"
	EntityOther  EntityType = "other"
)

// ObservationType tags the kind of insight a consolidated observation
// represents. Optional: set by the consolidation engine's LLM hook when it
// has an opinion about the shape of the observation it is creating.
type ObservationType string

const (
	ObsPattern        ObservationType = "pattern"
	ObsCausal         ObservationType = "causal"
	ObsGeneralization ObservationType = "generalization"
	ObsPreference     ObservationType = "preference"
	ObsRisk           ObservationType = "risk"
	ObsStrategy       ObservationType = "strategy"
)

// Disposition holds three integer traits (1-5) that shape how a bank's
// reflect prompt frames retrieved context. They do not affect recall
// ranking, only the narrative voice reflect assembles around it.
type Disposition struct {
	Skepticism int // 1=Trusting, 5=Skeptical
	Literalism int // 1=Flexible interpretation, 5=Literal
	Empathy    int // 1=Detached, 5=Empathetic
}

// DefaultDisposition returns a disposition with balanced traits.
func DefaultDisposition() Disposition {
	return Disposition{Skepticism: 3, Literalism: 3, Empathy: 3}
}

// Valid reports whether each trait is in [1,5].
func (d Disposition) Valid() bool {
	inRange := func(v int) bool { return v >= 1 && v <= 5 }
	return inRange(d.Skepticism) && inRange(d.Literalism) && inRange(d.Empathy)
}

// BankConfig holds the tunables that affect retain/recall/reflect behavior
// for a single bank. Zero values are replaced by engine-level defaults at
// the point of use; see Config.Defaults.
type BankConfig struct {
	ExtractionMode         string   // "concise" (default), "verbose", "custom"
	ExtractionGuidelines   string   // appended to the prompt when ExtractionMode == "custom"
	EnableConsolidation    *bool    // nil inherits Config.EnableConsolidation
	ReflectBudget          string   // "low" (3), "mid" (5), "high" (8)
	ReinforceThreshold     float64  // default 0.92
	ReconsolidateThreshold float64  // default 0.75
	TemporalWindowMs       int64    // default 24h
	EpisodeGapMs           int64    // default 45min; gap since the bank's last episode that forces a new one
	EpisodeBoundaryPhrases []string // defaults to a small illustrative list
}

// Bank is a tenant/profile scope. All other entities are bank-scoped.
type Bank struct {
	ID          string
	Name        string
	Description string
	Mission     string
	Config      BankConfig
	Disposition Disposition
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HistoryEntry records a prior revision of a memory's content, appended by
// reconsolidate and consolidation update/merge actions.
type HistoryEntry struct {
	PreviousText string    `json:"previousText"`
	Reason       string    `json:"reason"`
	At           time.Time `json:"at"`
}

// MemoryUnit is the atom of storage.
type MemoryUnit struct {
	ID         string
	BankID     string
	Content    string
	FactType   FactType
	Confidence float64

	DocumentID string
	ChunkID    string

	EventDate     int64 // epoch ms, the temporal anchor
	OccurredStart *int64
	OccurredEnd   *int64
	MentionedAt   int64

	Metadata map[string]string
	Tags     []string
	SourceText string

	AccessCount     int
	LastAccessed    time.Time
	EncodingStrength float64
	Gist            string
	Scope           Scope

	ConsolidatedAt *time.Time

	// Observation-only fields.
	ProofCount      int
	SourceMemoryIDs []string
	History         []HistoryEntry

	Entities  []string // entity names attached at write time
	Vector    []float32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsObservation reports whether m is a consolidated observation.
func (m *MemoryUnit) IsObservation() bool {
	return m.FactType == ObservationFact && len(m.SourceMemoryIDs) > 0
}

// Entity is a canonicalized named thing linked to memories.
type Entity struct {
	ID          string
	BankID      string
	Name        string
	EntityType  EntityType
	MentionCount int
	FirstSeen   time.Time
	LastUpdated time.Time
	Description string
	Metadata    map[string]string
}

// MemoryLink is a typed directed edge between two memories.
type MemoryLink struct {
	ID        string
	BankID    string
	SourceID  string
	TargetID  string
	LinkType  LinkType
	Weight    float64
	CreatedAt time.Time
}

// EntityCooccurrence is an undirected pair count used by the resolver.
// Stored canonically with the lexicographically smaller id as EntityA.
type EntityCooccurrence struct {
	BankID  string
	EntityA string
	EntityB string
	Count   int
}

// Episode is a contiguous activity window.
type Episode struct {
	ID             string
	BankID         string
	Scope          Scope
	StartAt        time.Time
	EndAt          *time.Time
	LastEventAt    time.Time
	EventCount     int
	BoundaryReason BoundaryReason
}

// EpisodeEvent records one memory write into an episode.
type EpisodeEvent struct {
	ID        string
	EpisodeID string
	MemoryID  string
	Route     Route
	EventTime time.Time
}

// EpisodeTemporalLink chains adjacent episodes.
type EpisodeTemporalLink struct {
	ID           string
	FromEpisode  string
	ToEpisode    string
	GapMs        int64
}

// Document is optional provenance for retained content.
type Document struct {
	ID          string
	BankID      string
	ContentHash string
	Title       string
	CreatedAt   time.Time
}

// Chunk is a split of a Document's original text.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Content    string
}

// MentalModel is a user-curated question with a cached answer.
type MentalModel struct {
	ID              string
	BankID          string
	Name            string
	SourceQuery     string
	Content         string
	SourceMemoryIDs []string
	Tags            []string
	AutoRefresh     bool
	LastRefreshedAt *time.Time
	CreatedAt       time.Time
}

// Directive is a hard behavioral rule injected into reflect prompts.
type Directive struct {
	ID       string
	BankID   string
	Name     string
	Content  string
	Priority int
	IsActive bool
	Tags     []string
}

// AsyncOperation is a durable record of a long-running background task.
type AsyncOperation struct {
	ID           string
	BankID       string
	TaskType     TaskType
	Status       OpStatus
	PayloadKey   string
	Payload      string
	ItemsCount   int
	DocumentID   string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RoutingDecision is the logged outcome of a single router classification,
// kept for replay/debugging.
type RoutingDecision struct {
	ID               string
	BankID           string
	Route            Route
	CandidateMemoryID string
	CandidateScore   *float64
	ConflictDetected bool
	ConflictKeys     []string
	CreatedAt        time.Time
}
