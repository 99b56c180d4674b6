package portal

import "github.com/pkg/errors"

var ErrUnknownRole = errors.New("unknown role")

// Role selects which actions the portal offers. It is a display setting,
// not an authorization decision.
type Role string

const (
	Visitor Role = "visitor"
	TA      Role = "ta"
	Teacher Role = "teacher"
	Admin   Role = "admin"
)

var elevatedRoles = []Role{Admin, Teacher, TA}

var authorLabels = map[Role]string{
	Admin:   "Official",
	Teacher: "Teacher",
	TA:      "Teaching Assistant",
	Visitor: "Student",
}

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case Visitor, TA, Teacher, Admin:
		return r, nil
	}
	return "", errors.Wrapf(ErrUnknownRole, "%q", s)
}

func (r Role) String() string {
	return string(r)
}

func (r Role) CanPostNotice() bool {
	return r == Admin || r == Teacher
}

func (r Role) CanDeleteAny() bool {
	return r == Admin
}

func (r Role) CanDeleteChat() bool {
	return r == Admin || r == TA
}

// AuthorLabel is the name comments are signed with.
func (r Role) AuthorLabel() string {
	if l, ok := authorLabels[r]; ok {
		return l
	}
	return authorLabels[Visitor]
}
