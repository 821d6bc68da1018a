package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"membership/internal/core"
	"membership/internal/query"
)

// ListParams are the query parameters of the paged member endpoints.
// Zero values are omitted.
type ListParams struct {
	SearchTerm string
	Year       int
	Page       int
	Limit      int
}

func (p ListParams) values() url.Values {
	q := url.Values{}
	if p.SearchTerm != "" {
		q.Set("searchTerm", p.SearchTerm)
	}
	if p.Year > 0 {
		q.Set("year", strconv.Itoa(p.Year))
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return q
}

func decodeData(env Envelope, out any) error {
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// CreateMember submits the create-member form and returns the stored member.
func (c *Client) CreateMember(ctx context.Context, in core.NewMember) (core.Member, error) {
	env, err := c.do(ctx, http.MethodPost, "/member/create-new-member", nil, in)
	if err != nil {
		return core.Member{}, err
	}
	var m core.Member
	if err := decodeData(env, &m); err != nil {
		return core.Member{}, err
	}
	return m, nil
}

func (c *Client) ListMembers(ctx context.Context, p ListParams) (query.Page[core.Member], error) {
	var page query.Page[core.Member]
	env, err := c.do(ctx, http.MethodGet, "/member", p.values(), nil)
	if err != nil {
		return page, err
	}
	if err := decodePage(env, &page); err != nil {
		return page, err
	}
	return page, nil
}

func (c *Client) GetMember(ctx context.Context, id string) (core.Member, error) {
	env, err := c.do(ctx, http.MethodGet, "/member/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return core.Member{}, err
	}
	var m core.Member
	if err := decodeData(env, &m); err != nil {
		return core.Member{}, err
	}
	if m.MemberID == "" && m.ID == "" {
		return core.Member{}, ErrNotFound
	}
	return m, nil
}

// MeatStatus lists members with their meat flags for p.Year.
func (c *Client) MeatStatus(ctx context.Context, p ListParams) (query.Page[core.Member], error) {
	var page query.Page[core.Member]
	env, err := c.do(ctx, http.MethodGet, "/member/meat-status", p.values(), nil)
	if err != nil {
		return page, err
	}
	if err := decodePage(env, &page); err != nil {
		return page, err
	}
	return page, nil
}

func (c *Client) MarkMeatTaken(ctx context.Context, in core.MeatRequest) error {
	_, err := c.do(ctx, http.MethodPost, "/member/meat-taken", nil, in)
	return err
}

func (c *Client) MarkMeatNotTaken(ctx context.Context, in core.MeatRequest) error {
	_, err := c.do(ctx, http.MethodPost, "/member/un-taken-meat", nil, in)
	return err
}

func (c *Client) RecordPayment(ctx context.Context, in core.PaymentRequest) error {
	_, err := c.do(ctx, http.MethodPost, "/member/payment", nil, in)
	return err
}

// UpdateMember applies patch and returns the member as stored, when the API
// echoes it.
func (c *Client) UpdateMember(ctx context.Context, id string, patch core.MemberPatch) (core.Member, error) {
	env, err := c.do(ctx, http.MethodPatch, "/member/"+url.PathEscape(id), nil, patch)
	if err != nil {
		return core.Member{}, err
	}
	var m core.Member
	if err := decodeData(env, &m); err != nil {
		return core.Member{}, err
	}
	return m, nil
}
