// Package links finds remote visit links in appointment text.
package links

import "regexp"

// Link is a detected video visit URL.
type Link struct {
	URL     string `json:"url"`
	Service string `json:"service"`
}

type service struct {
	name    string
	pattern *regexp.Regexp
}

// Known services, checked in order before the generic URL fallback.
var services = []service{
	{"Zoom", regexp.MustCompile(`https?://[\w.-]*zoom\.us/j/[\w?=&-]+`)},
	{"Teams", regexp.MustCompile(`https?://teams\.microsoft\.com/l/meetup-join/[\w%/-]+`)},
	{"Meet", regexp.MustCompile(`https?://meet\.google\.com/[\w-]+`)},
	{"Webex", regexp.MustCompile(`https?://[\w.-]*\.webex\.com/[\w./-]+`)},
	{"Doxy", regexp.MustCompile(`https?://doxy\.me/[\w./-]+`)},
}

var generic = regexp.MustCompile(`https?://[^\s<>"]+`)

// Detect returns the first visit link in location, then description.
// Known services win over plain URLs within each field.
func Detect(location, description string) (Link, bool) {
	for _, text := range []string{location, description} {
		if l, ok := detectInText(text); ok {
			return l, true
		}
	}
	return Link{}, false
}

func detectInText(text string) (Link, bool) {
	if text == "" {
		return Link{}, false
	}
	for _, s := range services {
		if m := s.pattern.FindString(text); m != "" {
			return Link{URL: m, Service: s.name}, true
		}
	}
	if m := generic.FindString(text); m != "" {
		return Link{URL: m, Service: "Link"}, true
	}
	return Link{}, false
}

// Service names the video service serving url.
func Service(url string) string {
	for _, s := range services {
		if s.pattern.MatchString(url) {
			return s.name
		}
	}
	return "Link"
}
