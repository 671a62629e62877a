// Package acl models POSIX-style access control lists as exposed by the
// LakeStore REST surface: entries of scope (access or default), type (user,
// group, other or mask), an optional principal name, and an rwx action.
// The package converts entries and entry lists to and from their canonical
// string form, such as "default:user:bob:r-x".
package acl

import (
	"fmt"
	"strings"
)

// Scope of an ACL entry: whether it applies to the object itself (Access)
// or is inherited by children created under a directory (Default).
type Scope int

const (
	ScopeAccess Scope = iota
	ScopeDefault
)

// Type of an ACL entry.
type Type int

const (
	TypeUser Type = iota
	TypeGroup
	TypeOther
	TypeMask
)

func (t Type) String() string {
	switch t {
	case TypeUser:
		return "user"
	case TypeGroup:
		return "group"
	case TypeOther:
		return "other"
	case TypeMask:
		return "mask"
	default:
		return "unknown"
	}
}

func parseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return TypeUser, nil
	case "group":
		return TypeGroup, nil
	case "other":
		return TypeOther, nil
	case "mask":
		return TypeMask, nil
	default:
		return 0, fmt.Errorf("%q is not a valid acl entry type", s)
	}
}

// Action is one of the eight rwx permission combinations. The numeric value
// of an Action equals its octal digit, so ActionFromOctal(n) and
// Action.Octal() are inverses.
type Action int

const (
	ActionNone Action = iota
	ActionExecute
	ActionWrite
	ActionWriteExecute
	ActionRead
	ActionReadExecute
	ActionReadWrite
	ActionAll
)

var actionRwx = [8]string{"---", "--x", "-w-", "-wx", "r--", "r-x", "rw-", "rwx"}

// String returns the unix rwx form of the action, such as "r-x".
func (a Action) String() string {
	if a < 0 || int(a) >= len(actionRwx) {
		return "invalid"
	}
	return actionRwx[a]
}

// Octal returns the octal digit corresponding to the action.
func (a Action) Octal() int {
	return int(a)
}

// ActionFromOctal returns the action whose bitwise rwx value equals the
// supplied octal digit.
func ActionFromOctal(perm int) (Action, error) {
	if perm < 0 || perm > 7 {
		return 0, fmt.Errorf("%d is not a valid access specifier", perm)
	}
	return Action(perm), nil
}

// ActionFromRwx parses a unix rwx permission string. Parsing is
// case-insensitive and ignores surrounding whitespace.
func ActionFromRwx(rwx string) (Action, error) {
	s := strings.ToLower(strings.TrimSpace(rwx))
	for i, v := range actionRwx {
		if v == s {
			return Action(i), nil
		}
	}
	return 0, fmt.Errorf("%q is not a valid access specifier", rwx)
}

// IsValidRwx reports whether the string is a valid rwx permission string.
func IsValidRwx(input string) bool {
	_, err := ActionFromRwx(input)
	return err == nil
}

// Entry is one ACL entry. Name is the principal the entry applies to; it
// may be empty to address the owning user/group, and must be empty for
// entries of type other or mask.
//
// HasAction distinguishes an entry carrying a permission from a removal
// template, where the permission field is omitted in the string form.
type Entry struct {
	Scope     Scope
	Type      Type
	Name      string
	Action    Action
	HasAction bool
}

// NewEntry builds an entry with a permission, validating the name
// constraints for mask and other entries.
func NewEntry(scope Scope, typ Type, name string, action Action) (Entry, error) {
	if typ == TypeMask && strings.TrimSpace(name) != "" {
		return Entry{}, fmt.Errorf("mask entry cannot contain a user/group name")
	}
	if typ == TypeOther && strings.TrimSpace(name) != "" {
		return Entry{}, fmt.Errorf("entry of type 'other' cannot contain a user/group name")
	}
	return Entry{Scope: scope, Type: typ, Name: name, Action: action, HasAction: true}, nil
}

// ParseEntry parses one ACL entry from its posix string form, for example
// "default:user:bob:r-x". The permission field is required.
func ParseEntry(entryString string) (Entry, error) {
	return parseEntry(entryString, false)
}

// ParseRemovalEntry parses one ACL entry used as a removal template: the
// trailing permission field is optional.
func ParseRemovalEntry(entryString string) (Entry, error) {
	return parseEntry(entryString, true)
}

func parseEntry(entryString string, removal bool) (Entry, error) {
	var e Entry
	s := strings.TrimSpace(entryString)
	if s == "" {
		return e, fmt.Errorf("empty acl entry string")
	}

	colon := strings.Index(s, ":")
	if colon < 0 {
		return e, fmt.Errorf("invalid acl entry %q", entryString)
	}
	if strings.ToLower(strings.TrimSpace(s[:colon])) == "default" {
		e.Scope = ScopeDefault
		s = s[colon+1:]
	} else {
		e.Scope = ScopeAccess
	}

	// The remaining string has type:name:rwx, with rwx optional for
	// removal templates.
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return e, fmt.Errorf("invalid acl entry %q", entryString)
	}
	if len(parts) == 2 && !removal {
		return e, fmt.Errorf("invalid acl entry %q: permission missing", entryString)
	}

	typ, err := parseType(parts[0])
	if err != nil {
		return e, fmt.Errorf("invalid acl entry type in %q", entryString)
	}
	e.Type = typ

	e.Name = strings.TrimSpace(parts[1])
	if e.Type == TypeMask && e.Name != "" {
		return Entry{}, fmt.Errorf("mask entry cannot contain a user/group name: %q", entryString)
	}
	if e.Type == TypeOther && e.Name != "" {
		return Entry{}, fmt.Errorf("entry of type 'other' cannot contain a user/group name: %q", entryString)
	}

	if len(parts) == 3 {
		action, err := ActionFromRwx(parts[2])
		if err != nil {
			return Entry{}, fmt.Errorf("invalid acl action in %q", entryString)
		}
		e.Action = action
		e.HasAction = true
	}
	return e, nil
}

// String returns the canonical posix form of the entry: lowercased type, no
// whitespace, "default:" prefix only for default scope, and the permission
// field omitted for removal templates.
func (e Entry) String() string {
	var b strings.Builder
	if e.Scope == ScopeDefault {
		b.WriteString("default:")
	}
	b.WriteString(e.Type.String())
	b.WriteString(":")
	b.WriteString(e.Name)
	if e.HasAction {
		b.WriteString(":")
		b.WriteString(e.Action.String())
	}
	return b.String()
}

// RemovalString returns the entry's string form with the permission field
// omitted, as used for remove-ACL requests.
func (e Entry) RemovalString() string {
	stripped := e
	stripped.HasAction = false
	return stripped.String()
}

// ParseSpec parses a comma-separated ACL spec string into a list of entries.
// An empty string yields an empty list.
func ParseSpec(aclString string) ([]Entry, error) {
	return parseSpec(aclString, false)
}

// ParseRemovalSpec is ParseSpec with optional permission fields.
func ParseRemovalSpec(aclString string) ([]Entry, error) {
	return parseSpec(aclString, true)
}

func parseSpec(aclString string, removal bool) ([]Entry, error) {
	s := strings.TrimSpace(aclString)
	if s == "" {
		return []Entry{}, nil
	}
	var entries []Entry
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		e, err := parseEntry(part, removal)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// SpecString converts a list of entries to its comma-separated spec form.
func SpecString(entries []Entry) string {
	return specString(entries, false)
}

// RemovalSpecString converts a list of entries to spec form with the
// permission fields omitted.
func RemovalSpecString(entries []Entry) string {
	return specString(entries, true)
}

func specString(entries []Entry, removal bool) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if removal {
			parts = append(parts, e.RemovalString())
		} else {
			parts = append(parts, e.String())
		}
	}
	return strings.Join(parts, ",")
}

// Status is the ACL and permission information for one file or directory,
// as returned by the ACL status operation.
type Status struct {
	// Entries is the full list of ACL entries on the object.
	Entries []Entry

	// Owner is the ID of the owning user.
	Owner string

	// Group is the ID of the owning group.
	Group string

	// Permission is the unix permission for the object in octal form.
	Permission string

	// StickyBit is only meaningful for directories.
	StickyBit bool
}
