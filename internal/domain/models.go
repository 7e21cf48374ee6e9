package domain

import (
	"strings"
	"time"
)

// Sex follows the VK encoding: 0 unknown, 1 female, 2 male.
type Sex int

const (
	SexUnknown Sex = 0
	SexFemale  Sex = 1
	SexMale    Sex = 2
)

type Person struct {
	ID                int64
	FirstName         string
	LastName          string
	BirthDate         string // "DD.MM" или "DD.MM.YYYY"
	Sex               Sex
	RelationStatus    int
	RelationPartnerID *int64
}

func (p Person) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Profile is a person as seen through the elevated lookup, which also
// exposes contactability.
type Profile struct {
	Person
	Domain                 string
	CanWritePrivateMessage bool
}

type PartnerCandidate struct {
	ID            int64
	DisplayName   string
	Sex           Sex
	ContactHandle string
	RelationType  int
	Messageable   bool
}

type SentMessageRecord struct {
	PartnerID        int64
	PartnerName      string
	BirthdayUserID   int64
	BirthdayUserName string
	SentAt           time.Time
	MessageText      string
}
