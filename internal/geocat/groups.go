// groups.go wraps the group and user listing endpoints used by backup and
// by group-name resolution on restore.

package geocat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// Group is a catalogue group.
type Group struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Logo string `json:"logo"`
}

// User is a catalogue user account.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Profile  string `json:"profile"`
	Enabled  bool   `json:"enabled"`
}

// UserGroup is one membership of a user in a group under a profile.
type UserGroup struct {
	ID struct {
		Profile string `json:"profile"`
		GroupID int    `json:"groupId"`
	} `json:"id"`
	Group Group `json:"group"`
}

// ErrGroupResolution is returned when a group name maps to zero or multiple
// live groups. Fatal for the record being processed: applying privileges to
// a guessed group would corrupt its access state.
var ErrGroupResolution = errors.New("geocat: cannot resolve group name to a single group")

// Groups lists the catalogue groups, optionally including the reserved
// ones (intranet, guest, all). The raw body is returned alongside for
// callers that archive the listing verbatim.
func (c *Client) Groups(ctx context.Context, withReserved bool) ([]Group, []byte, error) {
	q := url.Values{"withReservedGroup": {strconv.FormatBool(withReserved)}}
	var groups []Group
	raw, err := c.getJSON(ctx, "/groups", q, &groups)
	if err != nil {
		return nil, nil, err
	}
	return groups, raw, nil
}

// GroupUsers returns the raw user listing of one group.
func (c *Client) GroupUsers(ctx context.Context, groupID int) ([]byte, error) {
	return c.getJSON(ctx, fmt.Sprintf("/groups/%d/users", groupID), nil, nil)
}

// GroupLogo fetches a group's logo image.
func (c *Client) GroupLogo(ctx context.Context, groupID int) ([]byte, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/groups/%d/logo", groupID),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Op: fmt.Sprintf("logo of group %d", groupID), StatusCode: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

// Users lists all user accounts.
func (c *Client) Users(ctx context.Context) ([]User, []byte, error) {
	var users []User
	raw, err := c.getJSON(ctx, "/users", nil, &users)
	if err != nil {
		return nil, nil, err
	}
	return users, raw, nil
}

// UserGroups lists one user's group memberships.
func (c *Client) UserGroups(ctx context.Context, userID int) ([]UserGroup, []byte, error) {
	var memberships []UserGroup
	raw, err := c.getJSON(ctx, fmt.Sprintf("/users/%d/groups", userID), nil, &memberships)
	if err != nil {
		return nil, nil, err
	}
	return memberships, raw, nil
}

// ResolveGroupID finds the live group with exactly the given name. Zero or
// multiple matches are an error: the target is missing or ambiguous.
func ResolveGroupID(groups []Group, name string) (int, error) {
	var (
		id    int
		found int
	)
	for _, g := range groups {
		if g.Name == name {
			id = g.ID
			found++
		}
	}
	if found != 1 {
		return 0, fmt.Errorf("%w: %q matches %d groups", ErrGroupResolution, name, found)
	}
	return id, nil
}
