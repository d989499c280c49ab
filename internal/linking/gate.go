package linking

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/xerolink/xerolink/internal/telemetry"
)

// Session gate reasons
const (
	ReasonLinked   = "linked"
	ReasonUnlinked = "unlinked"
	ReasonExpired  = "expired"
	ReasonCorrupt  = "corrupt_state"
)

// Decision is the outcome of a session gate check. When Allow is false,
// Redirect points at the interstitial with the original path as next.
type Decision struct {
	Allow    bool
	Reason   string
	Redirect string
}

// CheckSession decides whether userID may proceed to path. Users with no link,
// an expired token or unreadable credentials must link again. No refresh is
// attempted.
func (s *Service) CheckSession(ctx context.Context, userID, path string, now time.Time) (Decision, error) {
	link, err := s.Link(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return s.deny(ReasonUnlinked, path), nil
	}
	if err != nil {
		return Decision{}, err
	}

	valid, err := s.IsLinkValid(link, now)
	if errors.Is(err, ErrCorruptState) {
		return s.deny(ReasonCorrupt, path), nil
	}
	if err != nil {
		return Decision{}, err
	}
	if !valid {
		return s.deny(ReasonExpired, path), nil
	}

	telemetry.SessionGateDecisionsTotal.WithLabelValues(ReasonLinked).Inc()
	return Decision{Allow: true, Reason: ReasonLinked}, nil
}

// RelinkURL is the interstitial location carrying next
func (s *Service) RelinkURL(next string) string {
	if next == "" {
		return s.interstitialPath
	}
	return s.interstitialPath + "?next=" + url.QueryEscape(next)
}

// deny builds the relink redirect. Expired and corrupt links carry the reason
// so the interstitial can say why the user is there again.
func (s *Service) deny(reason, path string) Decision {
	telemetry.SessionGateDecisionsTotal.WithLabelValues(reason).Inc()
	redirect := s.RelinkURL(path)
	if reason != ReasonUnlinked {
		sep := "?"
		if strings.Contains(redirect, "?") {
			sep = "&"
		}
		redirect += sep + "reason=" + url.QueryEscape(reason)
	}
	return Decision{Reason: reason, Redirect: redirect}
}
