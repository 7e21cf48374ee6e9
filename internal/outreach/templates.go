package outreach

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Draggon233/gift-song/internal/domain"
)

const (
	RoleMalePartner   = "male_partner"
	RoleFemalePartner = "female_partner"

	botLinkPlaceholder = "{BOT_LINK}"
)

// Templates maps a template role to its text.
type Templates map[string]string

// TemplateFor picks the template by the birthday person's sex: a female
// birthday person gets the male_partner text, everyone else female_partner.
func TemplateFor(sex domain.Sex) string {
	if sex == domain.SexFemale {
		return RoleMalePartner
	}
	return RoleFemalePartner
}

func (t Templates) Render(role, botLink string) (string, error) {
	tpl, ok := t[role]
	if !ok || tpl == "" {
		return "", fmt.Errorf("template %q not configured", role)
	}
	return strings.ReplaceAll(tpl, botLinkPlaceholder, botLink), nil
}

// RandomIDSource hands out VK random_id values. They start at the current
// Unix second and strictly increase, so two sends within one second differ.
type RandomIDSource struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewRandomIDSource(now func() time.Time) *RandomIDSource {
	if now == nil {
		now = time.Now
	}
	return &RandomIDSource{now: now}
}

func (r *RandomIDSource) Next() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.now().Unix()
	if id <= r.last {
		id = r.last + 1
	}
	r.last = id
	return id
}
