package session

import (
	"net/url"
	"strings"
)

const (
	// DefaultAvatarTemplate derives a deterministic avatar from the username.
	DefaultAvatarTemplate = "https://api.dicebear.com/9.x/lorelei/svg?seed={name}"
	// DefaultPlaceholderAvatar is shown for senders missing from the roster.
	DefaultPlaceholderAvatar = "https://api.dicebear.com/9.x/shapes/svg?seed=unknown"
)

// Avatars builds avatar URLs from a template in which {name} is replaced by
// the query-escaped username. No request is ever made.
type Avatars struct {
	Template    string
	Placeholder string
}

// DefaultAvatars returns the dicebear-backed avatar templates.
func DefaultAvatars() Avatars {
	return Avatars{
		Template:    DefaultAvatarTemplate,
		Placeholder: DefaultPlaceholderAvatar,
	}
}

// URL returns the avatar URL for name.
func (a Avatars) URL(name string) string {
	tmpl := a.Template
	if tmpl == "" {
		tmpl = DefaultAvatarTemplate
	}
	return strings.ReplaceAll(tmpl, "{name}", url.QueryEscape(name))
}

// PlaceholderURL returns the fallback avatar URL.
func (a Avatars) PlaceholderURL() string {
	if a.Placeholder == "" {
		return DefaultPlaceholderAvatar
	}
	return a.Placeholder
}
