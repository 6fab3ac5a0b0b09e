package coincap

import "net/http"

// authTransport sets the headers every CoinCap request carries.
type authTransport struct {
	agent  string
	apiKey string
	base   http.RoundTripper
}

func (t authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.agent != "" {
		req.Header.Set("User-Agent", t.agent)
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	return t.base.RoundTrip(req)
}
