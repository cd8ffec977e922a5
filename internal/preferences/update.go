package preferences

import (
	"fmt"
	"strings"

	"github.com/bissquit/notification-queue/internal/domain"
)

// Update is a partial preference change. A nil field leaves the stored value as is.
//
// Quiet-hour bounds are strings: a present blank string clears the bound,
// anything else must be HH:MM.
type Update struct {
	EmailEnabled     *bool
	SMSEnabled       *bool
	Frequency        *domain.Frequency
	QuietHoursStart  *string
	QuietHoursEnd    *string
	SubscribedEvents *[]domain.NotificationType
}

// timeBound is a parsed quiet-hour bound. set=false means "leave unchanged";
// set=true with a nil value means "clear".
type timeBound struct {
	set   bool
	value *domain.TimeOfDay
}

type parsedUpdate struct {
	emailEnabled     *bool
	smsEnabled       *bool
	frequency        *domain.Frequency
	quietStart       timeBound
	quietEnd         timeBound
	subscribedEvents *[]domain.NotificationType
}

func (u Update) parse() (*parsedUpdate, error) {
	p := &parsedUpdate{
		emailEnabled: u.EmailEnabled,
		smsEnabled:   u.SMSEnabled,
	}

	if u.Frequency != nil {
		if !u.Frequency.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFrequency, *u.Frequency)
		}
		p.frequency = u.Frequency
	}

	var err error
	if p.quietStart, err = parseBound(u.QuietHoursStart); err != nil {
		return nil, err
	}
	if p.quietEnd, err = parseBound(u.QuietHoursEnd); err != nil {
		return nil, err
	}

	if u.SubscribedEvents != nil {
		seen := make(map[domain.NotificationType]bool, len(*u.SubscribedEvents))
		events := make([]domain.NotificationType, 0, len(*u.SubscribedEvents))
		for _, t := range *u.SubscribedEvents {
			if !t.IsValid() {
				return nil, fmt.Errorf("%w: %q", ErrInvalidEventType, t)
			}
			if seen[t] {
				continue
			}
			seen[t] = true
			events = append(events, t)
		}
		p.subscribedEvents = &events
	}

	return p, nil
}

func parseBound(s *string) (timeBound, error) {
	if s == nil {
		return timeBound{}, nil
	}
	if strings.TrimSpace(*s) == "" {
		return timeBound{set: true}, nil
	}

	t, err := domain.ParseTimeOfDay(*s)
	if err != nil {
		return timeBound{}, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, *s)
	}
	return timeBound{set: true, value: &t}, nil
}

func (p *parsedUpdate) apply(pref *domain.NotificationPreference) {
	if p.emailEnabled != nil {
		pref.EmailEnabled = *p.emailEnabled
	}
	if p.smsEnabled != nil {
		pref.SMSEnabled = *p.smsEnabled
	}
	if p.frequency != nil {
		pref.Frequency = *p.frequency
	}
	if p.quietStart.set {
		pref.QuietHoursStart = p.quietStart.value
	}
	if p.quietEnd.set {
		pref.QuietHoursEnd = p.quietEnd.value
	}
	if p.subscribedEvents != nil {
		pref.SubscribedEvents = *p.subscribedEvents
	}
}
