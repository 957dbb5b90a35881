package directory

import (
	"bytes"
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/cbrunker/quip/friend"
	"github.com/cbrunker/quip/limits"
	"github.com/cbrunker/quip/qerr"
	"github.com/cbrunker/quip/wire"
)

// SearchResult is one page of a profile search.
type SearchResult struct {
	Cursor string
	UIDs   []string
}

// Total returns the number of profiles on this page.
func (r SearchResult) Total() int {
	return len(r.UIDs)
}

func encodeFields(fields map[string]string) []byte {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]string, len(names))
	for i, name := range names {
		entries[i] = name + wire.ValueSeparator + fields[name]
	}
	return []byte(strings.Join(entries, wire.EntrySeparator))
}

// SearchProfiles searches public profiles. An empty cursor starts a new
// search.
func (c *Client) SearchProfiles(ctx context.Context, fields map[string]string, cursor string) (SearchResult, error) {
	if err := limits.ValidateProfileFields(fields); err != nil {
		return SearchResult{}, qerr.New("profile search", "", invalid("%v", err))
	}
	if cursor == "" {
		cursor = "0"
	}
	line, err := c.authed(ctx, "profile search", wire.ProfileSearch, []byte(cursor+wire.EntrySeparator), encodeFields(fields))
	if err != nil {
		return SearchResult{}, err
	}
	parts := strings.Split(strings.TrimRight(string(line), " \r"), wire.EntrySeparator)
	res := SearchResult{Cursor: parts[0]}
	for _, uid := range parts[1:] {
		if uid != "" {
			res.UIDs = append(res.UIDs, uid)
		}
	}
	return res, nil
}

// SetProfile updates the logged in user's profile.
func (c *Client) SetProfile(ctx context.Context, fields map[string]string) (bool, error) {
	if err := limits.ValidateProfileFields(fields); err != nil {
		return false, qerr.New("profile set", "", invalid("%v", err))
	}
	return c.authedBool(ctx, "profile set", wire.ProfileSet, encodeFields(fields))
}

// Profile fetches the profile of uid. An unknown uid yields an empty map.
func (c *Client) Profile(ctx context.Context, uid string) (map[string]string, error) {
	if !friend.ValidUUID(uid) {
		return nil, qerr.New("profile get", uid, invalid("user id %q", uid))
	}
	line, err := c.authed(ctx, "profile get", wire.ProfileGet, []byte(uid))
	if err != nil {
		return nil, err
	}
	profile := make(map[string]string)
	if len(line) < 7 {
		return profile, nil
	}
	for _, entry := range strings.Split(string(line), wire.EntrySeparator) {
		name, value, ok := strings.Cut(entry, wire.ValueSeparator)
		if ok {
			profile[name] = value
		}
	}
	return profile, nil
}

// GenerateInvite requests a new invite code and returns how many remain.
// The code is empty when none are left.
func (c *Client) GenerateInvite(ctx context.Context) (int, string, error) {
	line, err := c.authed(ctx, "invites generate", wire.InvitesGenerate)
	if err != nil {
		return 0, "", err
	}
	if len(line) <= 4 {
		return 0, "", nil
	}
	remaining, code, ok := bytes.Cut(line, []byte(wire.ValueSeparator))
	if !ok {
		return 0, "", qerr.New("invites generate", "", qerr.ErrInvalidData)
	}
	n, err := strconv.Atoi(string(remaining))
	if err != nil {
		return 0, "", qerr.New("invites generate", "", qerr.ErrInvalidData)
	}
	return n, strings.TrimSpace(string(code)), nil
}

// Invites lists generated invite codes with their status and the number of
// codes still available.
func (c *Client) Invites(ctx context.Context) (int, map[string]int, error) {
	line, err := c.authed(ctx, "invites get", wire.InvitesGet)
	if err != nil {
		return 0, nil, err
	}
	invites := make(map[string]int)
	if len(line) <= 2 {
		return 0, invites, nil
	}
	entries := strings.Split(string(line), wire.EntrySeparator)
	remaining, err := strconv.Atoi(entries[0])
	if err != nil {
		return 0, nil, qerr.New("invites get", "", qerr.ErrInvalidData)
	}
	for _, entry := range entries[1:] {
		code, status, ok := strings.Cut(entry, wire.ValueSeparator)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(status)
		if err != nil {
			continue
		}
		invites[code] = n
	}
	return remaining, invites, nil
}

// ClearInvites removes claimed and expired invites.
func (c *Client) ClearInvites(ctx context.Context) (bool, error) {
	return c.authedBool(ctx, "invites clear", wire.InvitesClear)
}
