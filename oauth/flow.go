package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/TKOaly/user-service-sub000/kvstore"
	"github.com/goliatone/go-errors"
)

const (
	// DefaultFlowTTL bounds how long a principal has to finish a flow.
	DefaultFlowTTL = 15 * time.Minute
	// DefaultCodeTTL bounds how long an authorization code can be exchanged.
	DefaultCodeTTL = 60 * time.Second
)

const (
	flowKeyPrefix = "oauth:flow:"
	codeKeyPrefix = "oauth:code:"
)

// Step is a position in the authorization flow.
type Step string

const (
	StepLogin   Step = "login"
	StepPrivacy Step = "privacy"
	StepGDPR    Step = "gdpr"
	StepGranted Step = "granted"
	StepDenied  Step = "denied"
)

const textCodeInvalidStep = "INVALID_FLOW_STEP"

// ErrInvalidStep is returned when a flow is asked to move somewhere its
// current step does not lead.
var ErrInvalidStep = errors.New("invalid authorization flow step", errors.CategoryValidation).
	WithTextCode(textCodeInvalidStep).
	WithCode(errors.CodeBadRequest)

// login may skip privacy when consent was already given.
var transitions = map[Step]map[Step]struct{}{
	StepLogin: {
		StepPrivacy: {},
		StepGDPR:    {},
	},
	StepPrivacy: {
		StepGDPR:   {},
		StepDenied: {},
	},
	StepGDPR: {
		StepGranted: {},
		StepDenied:  {},
	},
}

// ParseStep returns the interactive step named s.
func ParseStep(s string) (Step, bool) {
	switch step := Step(s); step {
	case StepLogin, StepPrivacy, StepGDPR:
		return step, true
	}
	return "", false
}

// CanTransition reports whether the flow may move from s to next.
func (s Step) CanTransition(next Step) bool {
	_, ok := transitions[s][next]
	return ok
}

// Terminal reports whether the flow has finished.
func (s Step) Terminal() bool {
	return s == StepGranted || s == StepDenied
}

// Flow is one in-progress authorization attempt.
type Flow struct {
	ID                string    `json:"id"`
	ServiceIdentifier string    `json:"service"`
	State             string    `json:"state,omitempty"`
	Scopes            []string  `json:"scopes"`
	ResponseType      string    `json:"response_type"`
	RedirectURL       string    `json:"redirect_url"`
	RedirectExplicit  bool      `json:"redirect_explicit,omitempty"`
	Nonce             string    `json:"nonce,omitempty"`
	Step              Step      `json:"step"`
	UserID            *int64    `json:"user_id,omitempty"`
	AuthTime          time.Time `json:"auth_time,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Advance moves the flow to next when the transition table allows it.
func (f *Flow) Advance(next Step) error {
	if !f.Step.CanTransition(next) {
		return auth.NewError(ErrInvalidStep, "", map[string]any{
			"from": string(f.Step),
			"to":   string(next),
		})
	}
	f.Step = next
	return nil
}

// FlowStore keeps flows in a TTL store. A flow lives for the store's TTL
// measured from its creation; saving does not extend it.
type FlowStore struct {
	kv  kvstore.Store
	ttl time.Duration
	now func() time.Time
}

func NewFlowStore(kv kvstore.Store, ttl time.Duration) *FlowStore {
	if ttl <= 0 {
		ttl = DefaultFlowTTL
	}
	return &FlowStore{kv: kv, ttl: ttl, now: time.Now}
}

// Create assigns a random id and stores the flow at the login step.
func (s *FlowStore) Create(ctx context.Context, flow *Flow) error {
	id, err := randomToken()
	if err != nil {
		return err
	}
	flow.ID = id
	flow.Step = StepLogin
	flow.CreatedAt = s.now()
	return kvstore.PutJSON(ctx, s.kv, flowKeyPrefix+id, flow, s.ttl)
}

func (s *FlowStore) Get(ctx context.Context, id string) (*Flow, error) {
	if id == "" {
		return nil, auth.ErrNotFound
	}
	flow, err := kvstore.GetJSON[*Flow](ctx, s.kv, flowKeyPrefix+id)
	if err != nil {
		return nil, err
	}
	return flow, nil
}

// Save writes the flow back with whatever lifetime it has left.
func (s *FlowStore) Save(ctx context.Context, flow *Flow) error {
	remaining := flow.CreatedAt.Add(s.ttl).Sub(s.now())
	if remaining <= 0 {
		return auth.NewError(auth.ErrNotFound, "authorization flow expired")
	}
	return kvstore.PutJSON(ctx, s.kv, flowKeyPrefix+flow.ID, flow, remaining)
}

// Take removes the flow and returns it. Of two concurrent calls for the
// same id only one gets the flow, the other fails with NotFound.
func (s *FlowStore) Take(ctx context.Context, id string) (*Flow, error) {
	if id == "" {
		return nil, auth.ErrNotFound
	}
	return kvstore.TakeJSON[*Flow](ctx, s.kv, flowKeyPrefix+id)
}

// Code is a single use authorization code grant.
type Code struct {
	Code              string    `json:"-"`
	UserID            int64     `json:"user_id"`
	ServiceIdentifier string    `json:"service"`
	Scopes            []string  `json:"scopes"`
	RedirectURL       string    `json:"redirect_url"`
	RedirectExplicit  bool      `json:"redirect_explicit,omitempty"`
	Nonce             string    `json:"nonce,omitempty"`
	AuthTime          time.Time `json:"auth_time"`
	CreatedAt         time.Time `json:"created_at"`
}

// CodeStore issues and redeems authorization codes.
type CodeStore struct {
	kv  kvstore.Store
	ttl time.Duration
	now func() time.Time
}

func NewCodeStore(kv kvstore.Store, ttl time.Duration) *CodeStore {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &CodeStore{kv: kv, ttl: ttl, now: time.Now}
}

// Issue stores code under a fresh random value and returns it.
func (s *CodeStore) Issue(ctx context.Context, code *Code) (string, error) {
	value, err := randomToken()
	if err != nil {
		return "", err
	}
	code.Code = value
	code.CreatedAt = s.now()
	if err := kvstore.PutJSON(ctx, s.kv, codeKeyPrefix+value, code, s.ttl); err != nil {
		return "", err
	}
	return value, nil
}

// Redeem consumes the code. A second redemption of the same value fails
// with NotFound.
func (s *CodeStore) Redeem(ctx context.Context, value string) (*Code, error) {
	if value == "" {
		return nil, auth.ErrNotFound
	}
	code, err := kvstore.TakeJSON[*Code](ctx, s.kv, codeKeyPrefix+value)
	if err != nil {
		return nil, err
	}
	code.Code = value
	return code, nil
}

// randomToken returns 32 random bytes, hex encoded.
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate random token")
	}
	return hex.EncodeToString(buf), nil
}
