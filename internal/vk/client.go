// Package vk adapts the VK API to the domain types used by the parser.
package vk

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/SevereCloud/vksdk/v2/api"
	"github.com/SevereCloud/vksdk/v2/object"

	"github.com/Draggon233/gift-song/internal/domain"
)

const (
	// CollectFields are requested for every member/search result.
	CollectFields = "bdate,sex,relation,relation_partner,first_name,last_name"
	// PersonFields are requested when re-reading a birthday person.
	PersonFields = "relation,relation_partner,sex,first_name,last_name"
	// PartnerFields are requested for the partner lookup.
	PartnerFields = "first_name,last_name,sex,domain,can_write_private_message"
)

// Client wraps one access token. The parser builds two: a basic one for
// collection and, when configured, an elevated user token for lookups and
// messaging.
type Client struct {
	api *api.VK
}

func New(token string) *Client {
	return &Client{api: api.NewVK(token)}
}

// WithMethodURL points the client at another endpoint (tests, proxies).
func (c *Client) WithMethodURL(u string) *Client {
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}
	c.api.MethodURL = u
	return c
}

func (c *Client) GroupMembers(ctx context.Context, groupID string, count int) ([]domain.Person, error) {
	resp, err := c.api.GroupsGetMembersFields(api.Params{
		"group_id": groupID,
		"count":    count,
		"fields":   CollectFields,
	}.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("groups.getMembers %s: %w", groupID, err)
	}
	return toPersons(resp.Items), nil
}

func (c *Client) SearchUsers(ctx context.Context, query string, count int) ([]domain.Person, error) {
	resp, err := c.api.UsersSearch(api.Params{
		"q":      query,
		"count":  count,
		"fields": CollectFields,
	}.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("users.search %q: %w", query, err)
	}
	return toPersons(resp.Items), nil
}

func (c *Client) UsersByID(ctx context.Context, ids []int64, fields string) ([]domain.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = strconv.FormatInt(id, 10)
	}
	resp, err := c.api.UsersGet(api.Params{
		"user_ids": strings.Join(strIDs, ","),
		"fields":   fields,
	}.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("users.get %v: %w", ids, err)
	}
	out := make([]domain.Profile, 0, len(resp))
	for _, u := range resp {
		out = append(out, domain.Profile{
			Person:                 toPerson(u),
			Domain:                 u.Domain,
			CanWritePrivateMessage: bool(u.CanWritePrivateMessage),
		})
	}
	return out, nil
}

// SendMessage delivers a private message. randomID must differ between
// calls or VK silently drops the message as a duplicate.
func (c *Client) SendMessage(ctx context.Context, userID int64, text string, randomID int64) error {
	_, err := c.api.MessagesSend(api.Params{
		"user_id":   userID,
		"message":   text,
		"random_id": randomID,
	}.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("messages.send %d: %w", userID, err)
	}
	return nil
}

func toPersons(users []object.UsersUser) []domain.Person {
	out := make([]domain.Person, 0, len(users))
	for _, u := range users {
		out = append(out, toPerson(u))
	}
	return out
}

func toPerson(u object.UsersUser) domain.Person {
	p := domain.Person{
		ID:             int64(u.ID),
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		BirthDate:      u.Bdate,
		Sex:            domain.Sex(u.Sex),
		RelationStatus: u.Relation,
	}
	if u.RelationPartner.ID != 0 {
		id := int64(u.RelationPartner.ID)
		p.RelationPartnerID = &id
	}
	return p
}
