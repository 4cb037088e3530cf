package auth

import (
	"github.com/desertthunder/relink/internal/shared"
)

// Navigator abstracts "where the client is" and "go somewhere else" so the
// coordinator's redirect behavior is testable without a browser.
type Navigator interface {
	// CurrentLocation returns the current path+query, used as the redirect
	// return target.
	CurrentLocation() string
	// Navigate sends the user to target (an absolute URL or server path).
	Navigate(target string) error
}

// BrowserNavigator opens navigation targets in the system browser. The
// current location is the logical server path this client session is
// anchored to (e.g. "/dashboard").
type BrowserNavigator struct {
	baseURL  string
	location string
}

// NewBrowserNavigator creates a [BrowserNavigator] rooted at the server base
// URL with the given logical location.
func NewBrowserNavigator(baseURL, location string) *BrowserNavigator {
	if location == "" {
		location = "/"
	}
	return &BrowserNavigator{baseURL: baseURL, location: location}
}

func (b *BrowserNavigator) CurrentLocation() string {
	return b.location
}

func (b *BrowserNavigator) Navigate(target string) error {
	return shared.OpenBrowser(b.baseURL + target)
}
