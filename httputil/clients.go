package httputil

import (
	"net/http"
	"net/url"
	"time"

	"car_scrooper/config"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type Clients struct {
	Rendering *http.Client // proxied, for listing and detail pages
	Media     *http.Client // direct, for image downloads
}

func NewClients(proxyCfg *config.ProxyConfig) *Clients {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyCfg != nil && proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &Clients{
		Rendering: &http.Client{
			Timeout:   60 * time.Second,
			Transport: transport,
		},
		Media: &http.Client{Timeout: 60 * time.Second},
	}
}

// SetBrowserHeaders makes a request look like it came from a desktop browser
func SetBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "hr-HR,hr;q=0.9,en;q=0.8")
}
