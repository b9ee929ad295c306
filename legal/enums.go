package legal

// Priority expresses how urgently a query should be handled.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ValidationLevel controls how strictly answers are reviewed.
type ValidationLevel string

const (
	ValidationStrict   ValidationLevel = "strict"
	ValidationModerate ValidationLevel = "moderate"
	ValidationLenient  ValidationLevel = "lenient"
)

// Status is the lifecycle state of a query or response.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReviewing  Status = "reviewing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// JurisdictionType scopes where a legal source applies.
type JurisdictionType string

const (
	JurisdictionFederal       JurisdictionType = "federal"
	JurisdictionState         JurisdictionType = "state"
	JurisdictionMunicipal     JurisdictionType = "municipal"
	JurisdictionInternational JurisdictionType = "international"
	JurisdictionUnknown       JurisdictionType = "unknown"
)

// LegalArea classifies the subject of a query.
type LegalArea string

const (
	AreaCivil          LegalArea = "civil"
	AreaCriminal       LegalArea = "criminal"
	AreaLabor          LegalArea = "labor"
	AreaCommercial     LegalArea = "commercial"
	AreaConstitutional LegalArea = "constitutional"
	AreaAdministrative LegalArea = "administrative"
	AreaTax            LegalArea = "tax"
	AreaEnvironmental  LegalArea = "environmental"
	AreaFamily         LegalArea = "family"
	AreaConsumer       LegalArea = "consumer"
	AreaOther          LegalArea = "other"
)

// SearchSource identifies the backend a result came from.
type SearchSource string

const (
	SourceVectorDB      SearchSource = "vectordb"
	SourceLexML         SearchSource = "lexml"
	SourceWeb           SearchSource = "web"
	SourceJurisprudence SearchSource = "jurisprudence"
	SourceLegislation   SearchSource = "legislation"
)
