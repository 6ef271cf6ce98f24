package decision

// Kind is the response strategy chosen for a query
type Kind string

const (
	KindUseDocumentContext    Kind = "use_document_context"
	KindRejectNonEducation    Kind = "reject_non_education"
	KindUseExternalAPI        Kind = "use_external_api"
	KindRequireAuthentication Kind = "require_authentication"
	KindSayDontKnow           Kind = "say_dont_know"
	KindUseDBDirect           Kind = "use_db_direct"
	KindEnhanceDBAnswer       Kind = "enhance_db_answer"
	KindAskClarification      Kind = "ask_clarification"
)

// ResponseContext is what the generation step needs for one decision kind.
// Each kind has its own concrete type; switch on the type, not on Kind().
type ResponseContext interface {
	Kind() Kind
}

type DocumentContext struct {
	Query        string
	DocumentText string
}

type RejectionContext struct {
	Query string
}

type ExternalAPIContext struct {
	Query          string
	AuthToken      string
	FallbackAnswer string // best knowledge-base answer, used when the lookup fails
}

type AuthRequiredContext struct {
	Query string
}

type DontKnowContext struct {
	Query  string
	Tier   Tier
	Reason string
}

type DirectAnswerContext struct {
	Query          string
	Answer         string
	Tier           Tier
	MismatchIssues []string
	Preserved      bool // very high confidence kept despite mismatches
}

type EnhanceContext struct {
	Query  string
	Answer string
	Tier   Tier
}

type ClarificationContext struct {
	Query          string
	Answer         string
	Tier           Tier
	MismatchIssues []string
	Smart          bool // issues are known, so the question can be targeted
}

func (DocumentContext) Kind() Kind      { return KindUseDocumentContext }
func (RejectionContext) Kind() Kind     { return KindRejectNonEducation }
func (ExternalAPIContext) Kind() Kind   { return KindUseExternalAPI }
func (AuthRequiredContext) Kind() Kind  { return KindRequireAuthentication }
func (DontKnowContext) Kind() Kind      { return KindSayDontKnow }
func (DirectAnswerContext) Kind() Kind  { return KindUseDBDirect }
func (EnhanceContext) Kind() Kind       { return KindEnhanceDBAnswer }
func (ClarificationContext) Kind() Kind { return KindAskClarification }
