package calls

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Platform is the medium a call is held on.
type Platform string

const (
	PlatformZoom       Platform = "zoom"
	PlatformGoogleMeet Platform = "google_meet"
	PlatformTeams      Platform = "teams"
	PlatformPhone      Platform = "phone"
	PlatformWhatsApp   Platform = "whatsapp"
	PlatformOther      Platform = "other"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformZoom, PlatformGoogleMeet, PlatformTeams, PlatformPhone, PlatformWhatsApp, PlatformOther:
		return true
	default:
		return false
	}
}

func ParsePlatform(v string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(v)))
	if !p.Valid() {
		return "", invalid("platform", fmt.Sprintf("unknown platform %q", v))
	}
	return p, nil
}

// NormalizeCallLink validates link for platform p.
//
// Phone and WhatsApp links are phone numbers and come back in E.164, parsed
// with defaultRegion when the number has no country prefix. Video platforms
// require an absolute https URL. "other" only requires a non-empty value.
func NormalizeCallLink(p Platform, link, defaultRegion string) (string, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", invalid("call_link", "is required")
	}
	switch p {
	case PlatformPhone, PlatformWhatsApp:
		num, err := phonenumbers.Parse(link, strings.ToUpper(defaultRegion))
		if err != nil {
			return "", invalid("call_link", fmt.Sprintf("not a phone number: %v", err))
		}
		if !phonenumbers.IsValidNumber(num) {
			return "", invalid("call_link", "phone number is not valid")
		}
		return phonenumbers.Format(num, phonenumbers.E164), nil
	case PlatformZoom, PlatformGoogleMeet, PlatformTeams:
		u, err := url.Parse(link)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return "", invalid("call_link", "must be an absolute https URL")
		}
		return u.String(), nil
	case PlatformOther:
		return link, nil
	default:
		return "", invalid("platform", fmt.Sprintf("unknown platform %q", p))
	}
}
