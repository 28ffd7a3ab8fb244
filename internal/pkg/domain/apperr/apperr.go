// Package apperr defines the error taxonomy shared by the decoders,
// normalizer, command builder, transport and persistence layers (§7).
// Where a layer reports one of these kinds it uses these types, so that
// callers can branch on kind without string matching, the way the
// teacher branches on gorm.ErrRecordNotFound rather than error strings.
// Not every error in the module is wrapped: some paths return plain
// fmt.Errorf values or driver errors unchanged.
package apperr

import "fmt"

// Source tags a component for the {source, detail} payload published on
// the "error" bus topic.
type Source string

const (
	SourceDecoderB     Source = "decoder.familyb"
	SourceDecoderJ     Source = "decoder.familyj"
	SourceNormalizer   Source = "normalizer"
	SourceShadow       Source = "shadow"
	SourceCommandBuild Source = "commandbuilder"
	SourceTransport    Source = "transport"
	SourcePersistence  Source = "persistence"
)

// DecodeError reports bad framing or malformed JSON (§4.1, §4.2).
type DecodeError struct {
	Source Source
	Topic  string
	Detail string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error [%s] topic=%s: %s", e.Source, e.Topic, e.Detail)
}
func (e *DecodeError) Unwrap() error { return e.Err }

// ValidationError reports a missing or out-of-range field (§4.6, §4.3).
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field %q: %s", e.Field, e.Detail)
}

// ShadowError reports internal shadow-cache consistency failures.
type ShadowError struct {
	DeviceID string
	Detail   string
}

func (e *ShadowError) Error() string {
	return fmt.Sprintf("shadow error: device %q: %s", e.DeviceID, e.Detail)
}

// CommandBuildError reports an unsupported kind/family or missing params
// in the outbound command builder (§4.6).
type CommandBuildError struct {
	Kind    string
	Family  string
	Detail  string
}

func (e *CommandBuildError) Error() string {
	return fmt.Sprintf("command build error: kind=%s family=%s: %s", e.Kind, e.Family, e.Detail)
}

// TransportError reports a broker publish/subscribe failure.
type TransportError struct {
	Detail string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s: %v", e.Detail, e.Err)
}
func (e *TransportError) Unwrap() error { return e.Err }

// PersistenceError reports a DB timeout or driver error (§4.7).
type PersistenceError struct {
	Table  string
	Detail string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error: table=%s: %s: %v", e.Table, e.Detail, e.Err)
}
func (e *PersistenceError) Unwrap() error { return e.Err }

// UnknownKind describes an unrecognized FamilyJ msg_type. The FamilyJ
// decoder does not return it: for an unknown msg_type it returns an IF of
// kind "UNKNOWN" carrying the raw body and a nil error.
type UnknownKind struct {
	MsgType string
}

func (e *UnknownKind) Error() string {
	return fmt.Sprintf("unknown msg_type: %s", e.MsgType)
}

// ErrorEvent is the payload published on the bus's "error" topic.
type ErrorEvent struct {
	Source Source `json:"source"`
	Detail string `json:"detail"`
}

// NewErrorEvent builds an ErrorEvent from any error, tagging it with the
// reporting component.
func NewErrorEvent(source Source, err error) ErrorEvent {
	return ErrorEvent{Source: source, Detail: err.Error()}
}
