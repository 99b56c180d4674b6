package portal

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

var ErrUnknownSecret = errors.New("secret does not match any role")
var ErrAmbiguousSecret = errors.New("secret matches more than one role")
var ErrAlreadyElevated = errors.New("role already elevated")
var ErrInvalidHash = errors.New("invalid secret hash")

// Gate picks a display role from a secret checked against bcrypt hashes.
// It only decides which affordances are shown. Anything that needs real
// authorization must verify credentials on a server.
type Gate struct {
	mu     sync.RWMutex
	hashes map[Role][]byte
	role   Role
}

// NewGate accepts bcrypt hashes for the elevated roles. Roles without a hash
// can never be selected.
func NewGate(hashes map[Role]string) (*Gate, error) {
	g := &Gate{hashes: make(map[Role][]byte), role: Visitor}

	for r, h := range hashes {
		if r == Visitor {
			return nil, errors.Wrap(ErrUnknownRole, "visitor cannot have a secret")
		}

		if _, err := ParseRole(string(r)); err != nil {
			return nil, err
		}

		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, errors.Wrapf(ErrInvalidHash, "role %s: %s", r, err.Error())
		}

		g.hashes[r] = []byte(h)
	}

	return g, nil
}

// HashSecret produces a hash suitable for NewGate.
func HashSecret(secret string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", errors.Wrap(err, "could not hash secret")
	}
	return string(h), nil
}

func (g *Gate) Role() Role {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.role
}

// Elevate switches from visitor to the role whose hash matches secret.
func (g *Gate) Elevate(secret string) (Role, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.role != Visitor {
		return g.role, ErrAlreadyElevated
	}

	var matched []Role
	for _, r := range elevatedRoles {
		h, ok := g.hashes[r]
		if !ok {
			continue
		}
		if bcrypt.CompareHashAndPassword(h, []byte(secret)) == nil {
			matched = append(matched, r)
		}
	}

	switch len(matched) {
	case 0:
		return Visitor, ErrUnknownSecret
	case 1:
		g.role = matched[0]
		return g.role, nil
	default:
		return Visitor, ErrAmbiguousSecret
	}
}

// Reset drops back to visitor. Confirmation is up to the caller.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.role = Visitor
}
