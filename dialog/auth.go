package dialog

import (
	"sync"

	"github.com/icholy/digest"
	"github.com/voxgrid/sipstack/sip"
)

// realmAuth tracks the RFC 7616 nonce-count/cnonce state this stack owns
// for one realm on one dialog, so repeated in-dialog requests challenged
// under the same nonce increment nc instead of restarting at 1.
type realmAuth struct {
	cnonce string
	nc     int
}

// digestState is embedded in Dialog; it remembers, per realm, the client
// nonce and nonce-count so re-challenges within the dialog's lifetime (e.g.
// a re-INVITE hitting the same proxy) continue the same digest session
// instead of generating a fresh cnonce every time.
type digestState struct {
	mu     sync.Mutex
	realms map[string]*realmAuth
}

// next returns the Options to attach to a digest retry for the given
// challenge, bumping this realm's nonce-count.
func (s *digestState) next(username, password string, chal *digest.Challenge) digest.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.realms == nil {
		s.realms = make(map[string]*realmAuth)
	}
	ra, ok := s.realms[chal.Realm]
	if !ok || chal.Stale {
		ra = &realmAuth{cnonce: sip.GenerateTagN(16)}
		s.realms[chal.Realm] = ra
	}
	ra.nc++
	return digest.Options{
		Username: username,
		Password: password,
		Cnonce:   ra.cnonce,
		Count:    ra.nc,
	}
}
