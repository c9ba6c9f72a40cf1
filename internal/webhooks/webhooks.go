// Package webhooks posts task change notifications to configured URLs.
// Dispatch is best-effort: failures are logged and never affect the request
// that triggered them.
package webhooks

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"
)

const defaultTimeout = 500 * time.Millisecond

// Dispatcher sends webhook notifications to a fixed set of URLs.
type Dispatcher struct {
	urls   []string
	client *http.Client
}

// New creates a dispatcher for the given URLs. A nil or empty list produces
// a dispatcher that does nothing.
func New(urls []string) *Dispatcher {
	return &Dispatcher{
		urls:   urls,
		client: &http.Client{Timeout: defaultTimeout},
	}
}

// Payload is the webhook body.
type Payload struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Notify posts the payload to every configured URL concurrently and waits
// for all deliveries to finish or time out.
func (d *Dispatcher) Notify(event string, data interface{}) {
	if len(d.urls) == 0 {
		return
	}

	body, err := json.Marshal(Payload{Event: event, Data: data})
	if err != nil {
		log.Printf("webhooks: marshal payload for %s failed: %v", event, err)
		return
	}

	var wg sync.WaitGroup
	for _, url := range d.urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			d.post(url, event, body)
		}(url)
	}
	wg.Wait()
}

// NotifyAsync fires Notify without blocking the caller.
func (d *Dispatcher) NotifyAsync(event string, data interface{}) {
	if len(d.urls) == 0 {
		return
	}
	go d.Notify(event, data)
}

func (d *Dispatcher) post(url, event string, body []byte) {
	resp, err := d.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("webhooks: post %s to %s failed: %v", event, url, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("webhooks: post %s to %s returned %d", event, url, resp.StatusCode)
	}
}
