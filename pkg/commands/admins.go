package commands

import (
	"strings"

	"github.com/tidwall/match"
)

const accountPrefix = "account:"

// admins holds the chat.admins entries. An entry is either a hostmask
// pattern such as "alice!*@staff.example.org", where * and ? are wildcards,
// or a services account written as "account:alice".
type admins struct {
	masks    []string
	accounts map[string]struct{}
}

func newAdmins(entries []string) admins {
	set := admins{accounts: make(map[string]struct{})}
	for _, entry := range entries {
		entry = strings.ToLower(strings.TrimSpace(entry))
		switch {
		case entry == "":
		case strings.HasPrefix(entry, accountPrefix):
			if name := strings.TrimSpace(strings.TrimPrefix(entry, accountPrefix)); name != "" {
				set.accounts[name] = struct{}{}
			}
		case IsHostmask(entry):
			set.masks = append(set.masks, entry)
		}
	}
	return set
}

// IsHostmask reports whether entry has the nick!user@host shape. Bare nicks
// are not accepted as admin entries since anyone can take a nick.
func IsHostmask(entry string) bool {
	bang := strings.Index(entry, "!")
	at := strings.LastIndex(entry, "@")
	return bang > 0 && at > bang+1 && at < len(entry)-1
}

// IsAdminEntry reports whether entry is a usable chat.admins value.
func IsAdminEntry(entry string) bool {
	entry = strings.TrimSpace(entry)
	if strings.HasPrefix(strings.ToLower(entry), accountPrefix) {
		return strings.TrimSpace(entry[len(accountPrefix):]) != ""
	}
	return IsHostmask(entry)
}

// allows reports whether caller is an admin. A nick alone never passes: a
// mask needs the bridge-supplied user@host and an account must be
// identified.
func (a admins) allows(caller Caller) bool {
	if account := strings.ToLower(strings.TrimSpace(caller.Account)); account != "" {
		if _, ok := a.accounts[account]; ok {
			return true
		}
	}
	host := strings.ToLower(strings.TrimSpace(caller.Host))
	nick := strings.ToLower(strings.TrimSpace(caller.Nick))
	if host == "" || nick == "" || !strings.Contains(host, "@") {
		return false
	}
	mask := nick + "!" + host
	for _, pattern := range a.masks {
		if match.Match(mask, pattern) {
			return true
		}
	}
	return false
}
