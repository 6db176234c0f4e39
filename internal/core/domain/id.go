package domain

import (
	"github.com/google/uuid"
)

// CallID identifies a call record in the signaling store.
type CallID string

func NewCallID() CallID {
	return CallID(uuid.New().String())
}

func ParseCallID(s string) (CallID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return CallID(id.String()), nil
}

func (id CallID) String() string {
	return string(id)
}
