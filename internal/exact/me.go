package exact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tonimelisma/exact-go/internal/odata"
	"github.com/tonimelisma/exact-go/internal/resource"
)

// ErrNoCurrentUser is returned when /current/Me yields no record.
var ErrNoCurrentUser = errors.New("exact: current user not returned")

// Me is the authenticated user as reported by /current/Me.
type Me struct {
	UserID          string
	UserName        string
	FullName        string
	Email           string
	CurrentDivision int
}

// CurrentMe fetches the authenticated user and their current division.
func CurrentMe(ctx context.Context, transport resource.Transport, opts ...resource.Option) (*Me, error) {
	def, _ := resource.Lookup("me")

	rs, err := resource.New(def, transport, nil, opts...).FindAll(ctx, resource.FindOptions{})
	if err != nil {
		return nil, err
	}

	rec, ok := rs.First()
	if !ok {
		return nil, ErrNoCurrentUser
	}

	division, err := intField(rec, "CurrentDivision")
	if err != nil {
		return nil, err
	}

	return &Me{
		UserID:          stringField(rec, "UserID"),
		UserName:        stringField(rec, "UserName"),
		FullName:        stringField(rec, "FullName"),
		Email:           stringField(rec, "Email"),
		CurrentDivision: division,
	}, nil
}

func stringField(rec odata.Record, name string) string {
	s, _ := rec[name].(string)
	return s
}

func intField(rec odata.Record, name string) (int, error) {
	switch v := rec[name].(type) {
	case nil:
		return 0, nil
	case json.Number:
		n, err := strconv.Atoi(v.String())
		if err != nil {
			return 0, fmt.Errorf("exact: %s: %w", name, err)
		}

		return n, nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("exact: %s: unexpected type %T", name, v)
	}
}
