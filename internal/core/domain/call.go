package domain

import (
	"errors"
	"fmt"
)

var (
	ErrCallNotFound    = errors.New("call not found")
	ErrNoOffer         = errors.New("call has no offer")
	ErrLanguageTimeout = errors.New("timed out waiting for peer language")
	ErrSessionConfig   = errors.New("unable to configure translation session")
	ErrSinkNotLoaded   = errors.New("playback sink not loaded")
)

// CallNotFoundError is returned when a call id does not resolve to a record.
type CallNotFoundError struct {
	ID CallID
}

func (e *CallNotFoundError) Error() string {
	return fmt.Sprintf("call %s not found", e.ID)
}

func (e *CallNotFoundError) Is(target error) bool {
	return target == ErrCallNotFound
}

// CallRecord is the signaling document shared by both peers.
type CallRecord struct {
	ID            CallID              `json:"id"`
	Offer         *SessionDescription `json:"offer,omitempty"`
	Answer        *SessionDescription `json:"answer,omitempty"`
	HostLanguage  string              `json:"hostLanguage,omitempty"`
	GuestLanguage string              `json:"guestLanguage,omitempty"`
}

// CallUpdate is a partial update: nil fields are left untouched.
type CallUpdate struct {
	Offer         *SessionDescription `json:"offer,omitempty"`
	Answer        *SessionDescription `json:"answer,omitempty"`
	HostLanguage  *string             `json:"hostLanguage,omitempty"`
	GuestLanguage *string             `json:"guestLanguage,omitempty"`
}

func (u CallUpdate) Empty() bool {
	return u.Offer == nil && u.Answer == nil && u.HostLanguage == nil && u.GuestLanguage == nil
}

// Apply merges the non-nil fields of u into r.
func (r *CallRecord) Apply(u CallUpdate) {
	if u.Offer != nil {
		offer := *u.Offer
		r.Offer = &offer
	}
	if u.Answer != nil {
		answer := *u.Answer
		r.Answer = &answer
	}
	if u.HostLanguage != nil {
		r.HostLanguage = *u.HostLanguage
	}
	if u.GuestLanguage != nil {
		r.GuestLanguage = *u.GuestLanguage
	}
}

type CandidateCollection string

const (
	OfferCandidates  CandidateCollection = "offerCandidates"
	AnswerCandidates CandidateCollection = "answerCandidates"
)

func (c CandidateCollection) Valid() bool {
	return c == OfferCandidates || c == AnswerCandidates
}

func (c CandidateCollection) String() string {
	return string(c)
}

// Role is the side of the call a participant plays.
type Role string

const (
	RoleHost  Role = "host"  // created the call
	RoleGuest Role = "guest" // joined with the id
)

// LocalCandidates is the collection this role writes its own candidates to.
func (r Role) LocalCandidates() CandidateCollection {
	if r == RoleHost {
		return OfferCandidates
	}
	return AnswerCandidates
}

// RemoteCandidates is the collection this role watches.
func (r Role) RemoteCandidates() CandidateCollection {
	if r == RoleHost {
		return AnswerCandidates
	}
	return OfferCandidates
}

// PeerLanguage returns the language the other side declared, or "".
func (r Role) PeerLanguage(rec CallRecord) string {
	if r == RoleHost {
		return rec.GuestLanguage
	}
	return rec.HostLanguage
}

// LanguageUpdate builds the update that declares this role's language.
func (r Role) LanguageUpdate(lang string) CallUpdate {
	if r == RoleHost {
		return CallUpdate{HostLanguage: &lang}
	}
	return CallUpdate{GuestLanguage: &lang}
}
