package pagination

import (
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads limit and offset query parameters, clamping limit to
// [1, MaxLimit] and offset to >= 0.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// Response is the list envelope returned by every collection endpoint.
type Response struct {
	Count    int         `json:"count"`
	Next     *string     `json:"next"`
	Previous *string     `json:"previous"`
	Results  interface{} `json:"results"`
}

// NewResponse builds the envelope. next and previous are absolute-path links
// that keep the request's other query parameters.
func NewResponse(c echo.Context, results interface{}, total int, p Params) *Response {
	r := &Response{Count: total, Results: results}
	if p.HasNext(total) {
		r.Next = link(c, p.Limit, p.Offset+p.Limit)
	}
	if p.HasPrevious() {
		prev := p.Offset - p.Limit
		if prev < 0 {
			prev = 0
		}
		r.Previous = link(c, p.Limit, prev)
	}
	return r
}

func link(c echo.Context, limit, offset int) *string {
	u := *c.Request().URL
	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()
	s := (&url.URL{Path: u.Path, RawQuery: u.RawQuery}).String()
	return &s
}
