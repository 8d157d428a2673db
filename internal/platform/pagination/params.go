package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits pageSize.
	DefaultPageSize = 50
	// MaxPageSize caps pageSize.
	MaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Params bundles the paging values extracted from a request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// FromRequest parses pageSize and pageToken from the request query.
func FromRequest(r *http.Request) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query())
}

// Parse consumes the query values and returns normalised Params.
func Parse(values url.Values) (Params, error) {
	size := DefaultPageSize
	if raw := strings.TrimSpace(values.Get("pageSize")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		}
		if value <= 0 {
			return Params{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		}
		size = min(value, MaxPageSize)
	}

	params := Params{PageSize: size}
	if raw := strings.TrimSpace(values.Get("pageToken")); raw != "" {
		cursor, err := DecodeToken(raw)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = raw
		params.Cursor = cursor
	}
	return params, nil
}

// Window returns the [start, end) bounds of an offset page over total items and the token of the
// following page, empty when the page is the last one.
func Window(total int, params Params) (start, end int, next string) {
	size := params.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	start = min(params.Cursor.Offset, total)
	end = min(start+size, total)
	if end < total {
		next, _ = EncodeToken(Cursor{Offset: end})
	}
	return start, end, next
}
