package projection

import (
	"encoding/json"
	"strconv"
	"strings"

	auth "github.com/TKOaly/user-service-sub000"
)

// Kind discriminates user events on the wire.
type Kind string

const (
	KindCreate Kind = "create"
	KindImport Kind = "import"
	KindSet    Kind = "set"
	KindDelete Kind = "delete"
)

const subjectPrefix = "users"

// SubjectPattern matches every user subject.
const SubjectPattern = subjectPrefix + ".*"

// Subject is the event log subject of a user.
func Subject(id int64) string {
	return subjectPrefix + "." + strconv.FormatInt(id, 10)
}

// Event is a decoded user event. The concrete types are CreateEvent,
// ImportEvent, SetEvent, DeleteEvent and UnknownEvent.
type Event interface {
	Kind() Kind
	UserID() int64
	event()
}

// CreateEvent introduces a user with a freshly allocated id.
type CreateEvent struct {
	ID     int64
	Fields auth.UserFields
}

// ImportEvent introduces a user whose id was supplied by the caller.
type ImportEvent struct {
	ID     int64
	Fields auth.UserFields
}

// SetEvent changes some fields of a user. Subject is the principal that
// made the change, when known.
type SetEvent struct {
	ID      int64
	Patch   auth.UserPatch
	Subject *int64
}

// DeleteEvent removes a user.
type DeleteEvent struct {
	ID int64
}

// UnknownEvent is a well formed event of a kind this version does not act
// on. Applying it only advances the user's sequence.
type UnknownEvent struct {
	ID       int64
	Type     Kind
	Original json.RawMessage
}

func (CreateEvent) Kind() Kind    { return KindCreate }
func (ImportEvent) Kind() Kind    { return KindImport }
func (SetEvent) Kind() Kind       { return KindSet }
func (DeleteEvent) Kind() Kind    { return KindDelete }
func (e UnknownEvent) Kind() Kind { return e.Type }

func (e CreateEvent) UserID() int64  { return e.ID }
func (e ImportEvent) UserID() int64  { return e.ID }
func (e SetEvent) UserID() int64     { return e.ID }
func (e DeleteEvent) UserID() int64  { return e.ID }
func (e UnknownEvent) UserID() int64 { return e.ID }

func (CreateEvent) event()  {}
func (ImportEvent) event()  {}
func (SetEvent) event()     {}
func (DeleteEvent) event()  {}
func (UnknownEvent) event() {}

type envelope struct {
	Type    Kind             `json:"type"`
	ID      int64            `json:"id"`
	Fields  *auth.UserFields `json:"fields,omitempty"`
	Patch   *auth.UserPatch  `json:"patch,omitempty"`
	Subject *int64           `json:"subject,omitempty"`
}

// EncodeEvent serializes evt. UnknownEvent is re-emitted unchanged.
func EncodeEvent(evt Event) ([]byte, error) {
	var env envelope
	switch e := evt.(type) {
	case CreateEvent:
		env = envelope{Type: KindCreate, ID: e.ID, Fields: &e.Fields}
	case ImportEvent:
		env = envelope{Type: KindImport, ID: e.ID, Fields: &e.Fields}
	case SetEvent:
		env = envelope{Type: KindSet, ID: e.ID, Patch: &e.Patch, Subject: e.Subject}
	case DeleteEvent:
		env = envelope{Type: KindDelete, ID: e.ID}
	case UnknownEvent:
		return e.Original, nil
	default:
		return nil, auth.NewError(auth.ErrMalformedRequest, "unsupported event type")
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return nil, auth.WrapError(auth.ErrMalformedRequest, err, "failed to encode event")
	}
	return raw, nil
}

// DecodeEvent parses and validates a wire event. Every known kind must
// carry the payload it needs; unknown kinds decode to UnknownEvent.
func DecodeEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, auth.WrapError(auth.ErrMalformedRequest, err, "event is not valid json")
	}
	if env.ID <= 0 {
		return nil, malformed("event has no user id", env.Type)
	}

	switch Kind(strings.ToLower(string(env.Type))) {
	case KindCreate:
		if env.Fields == nil {
			return nil, malformed("create event has no fields", env.Type)
		}
		return CreateEvent{ID: env.ID, Fields: *env.Fields}, nil
	case KindImport:
		if env.Fields == nil {
			return nil, malformed("import event has no fields", env.Type)
		}
		return ImportEvent{ID: env.ID, Fields: *env.Fields}, nil
	case KindSet:
		if env.Patch == nil {
			return nil, malformed("set event has no patch", env.Type)
		}
		return SetEvent{ID: env.ID, Patch: *env.Patch, Subject: env.Subject}, nil
	case KindDelete:
		return DeleteEvent{ID: env.ID}, nil
	case "":
		return nil, malformed("event has no type", env.Type)
	default:
		return UnknownEvent{ID: env.ID, Type: env.Type, Original: append(json.RawMessage(nil), raw...)}, nil
	}
}

func malformed(msg string, kind Kind) error {
	return auth.NewError(auth.ErrMalformedRequest, msg, map[string]any{"type": string(kind)})
}
