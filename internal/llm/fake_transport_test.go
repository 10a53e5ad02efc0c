package llm

import (
	"bytes"
	"errors"
	"io"
	"net/http"
)

// fakeTransport answers every request with a canned response and records
// the last request body.
type fakeTransport struct {
	status int
	body   string
	err    error

	calls   int
	lastURL string
	lastReq []byte
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	f.lastURL = req.URL.String()
	if req.Body != nil {
		f.lastReq, _ = io.ReadAll(req.Body)
		_ = req.Body.Close()
	}
	if f.err != nil {
		return nil, f.err
	}
	resp := &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(bytes.NewReader([]byte(f.body))),
		Header:     make(http.Header),
		Request:    req,
	}
	resp.Header.Set("Content-Type", "application/json")
	return resp, nil
}

var errDialFailed = errors.New("dial tcp: connection refused")
