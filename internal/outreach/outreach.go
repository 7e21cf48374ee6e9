// Package outreach finds a birthday person's partner and sends them the offer.
package outreach

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Draggon233/gift-song/internal/domain"
	"github.com/Draggon233/gift-song/internal/vk"
)

// Directory is the elevated lookup capability.
type Directory interface {
	UsersByID(ctx context.Context, ids []int64, fields string) ([]domain.Profile, error)
}

// Messenger is the elevated messaging capability.
type Messenger interface {
	SendMessage(ctx context.Context, userID int64, text string, randomID int64) error
}

type Service struct {
	dir       Directory // nil → нет пользовательского токена
	messenger Messenger
	templates Templates
	botLink   string
	ids       *RandomIDSource
	now       func() time.Time
	log       *slog.Logger

	degradedOnce sync.Once
}

type Options struct {
	Directory Directory
	Messenger Messenger
	Templates Templates
	BotLink   string
	IDs       *RandomIDSource
	Now       func() time.Time
	Logger    *slog.Logger
}

func New(o Options) *Service {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.IDs == nil {
		o.IDs = NewRandomIDSource(o.Now)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Service{
		dir:       o.Directory,
		messenger: o.Messenger,
		templates: o.Templates,
		botLink:   o.BotLink,
		ids:       o.IDs,
		now:       o.Now,
		log:       o.Logger,
	}
}

// Elevated reports whether partner lookups and messaging are available.
func (s *Service) Elevated() bool {
	return s.dir != nil && s.messenger != nil
}

// ResolvePartner returns the messageable partner of personID, or nil.
// A lookup failure is returned as a resolution error; the caller treats it
// as "no partner" for this run.
func (s *Service) ResolvePartner(ctx context.Context, personID int64) (*domain.PartnerCandidate, error) {
	if !s.Elevated() {
		s.degradedOnce.Do(func() {
			s.log.Warn("user token not configured, partner lookup disabled")
		})
		return nil, nil
	}

	people, err := s.dir.UsersByID(ctx, []int64{personID}, vk.PersonFields)
	if err != nil {
		return nil, domain.E(domain.KindResolution, "resolve partner", err)
	}
	if len(people) == 0 {
		return nil, nil
	}
	person := people[0]
	if person.RelationPartnerID == nil || *person.RelationPartnerID == 0 {
		return nil, nil
	}

	partners, err := s.dir.UsersByID(ctx, []int64{*person.RelationPartnerID}, vk.PartnerFields)
	if err != nil {
		return nil, domain.E(domain.KindResolution, "resolve partner", err)
	}
	if len(partners) == 0 {
		return nil, nil
	}
	partner := partners[0]
	if !partner.CanWritePrivateMessage {
		s.log.Info("partner does not accept private messages", "partner_id", partner.ID, "user_id", personID)
		return nil, nil
	}

	return &domain.PartnerCandidate{
		ID:            partner.ID,
		DisplayName:   partner.FullName(),
		Sex:           partner.Sex,
		ContactHandle: partner.Domain,
		RelationType:  person.RelationStatus,
		Messageable:   true,
	}, nil
}

// NotifyPartner renders the template for the birthday person and sends it.
// On success the returned record holds the literal text that was sent.
func (s *Service) NotifyPartner(ctx context.Context, partner domain.PartnerCandidate, person domain.Person) (domain.SentMessageRecord, error) {
	if s.messenger == nil {
		return domain.SentMessageRecord{}, domain.E(domain.KindDispatch, "notify partner", errors.New("messaging not configured"))
	}

	role := TemplateFor(person.Sex)
	text, err := s.templates.Render(role, s.botLink)
	if err != nil {
		return domain.SentMessageRecord{}, domain.E(domain.KindDispatch, "notify partner", err)
	}

	if err := s.messenger.SendMessage(ctx, partner.ID, text, s.ids.Next()); err != nil {
		return domain.SentMessageRecord{}, domain.E(domain.KindDispatch, "notify partner", err)
	}

	return domain.SentMessageRecord{
		PartnerID:        partner.ID,
		PartnerName:      partner.DisplayName,
		BirthdayUserID:   person.ID,
		BirthdayUserName: strings.TrimSpace(person.FirstName + " " + person.LastName),
		SentAt:           s.now(),
		MessageText:      text,
	}, nil
}
