package server

import (
	"strings"

	"golang.org/x/text/cases"
)

type Mode string

const (
	ModeWhitelist Mode = "whitelist"
	ModeBlacklist Mode = "blacklist"
)

// AccessPolicySnapshot is the mode and roster in effect for one connection
type AccessPolicySnapshot struct {
	Mode   Mode     `json:"mode"`
	Roster []string `json:"players"`
}

type Decision int

const (
	DecisionReject Decision = iota
	DecisionAllow
)

func (d Decision) String() string {
	if d == DecisionAllow {
		return "allow"
	}
	return "reject"
}

// RosterContains reports whether any roster entry occurs in username, ignoring case.
// Entries are substrings, not whole names: "bob" matches "Bob_The_Builder".
func RosterContains(roster []string, username string) bool {
	folder := cases.Fold()
	folded := folder.String(username)
	for _, entry := range roster {
		if entry == "" {
			continue
		}
		if strings.Contains(folded, folder.String(entry)) {
			return true
		}
	}
	return false
}

// Decide applies the access decision table to username
func Decide(snapshot *AccessPolicySnapshot, username string) Decision {
	if snapshot == nil || username == "" {
		return DecisionReject
	}

	inRoster := RosterContains(snapshot.Roster, username)

	switch {
	case snapshot.Mode == ModeBlacklist && inRoster:
		return DecisionReject
	case snapshot.Mode == ModeWhitelist && inRoster:
		return DecisionAllow
	case snapshot.Mode == ModeWhitelist && !inRoster:
		return DecisionReject
	case snapshot.Mode == ModeBlacklist && !inRoster:
		return DecisionAllow
	default:
		return DecisionReject
	}
}
