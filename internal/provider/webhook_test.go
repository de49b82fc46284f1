package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/signing"
)

func TestWebhookClientSendSuccess(t *testing.T) {
	t.Parallel()

	body := []byte(`{"event":"order.created","orderId":"o-1"}`)
	sentAt := time.UnixMilli(1_736_900_000_123)

	var (
		gotBody    []byte
		gotHeaders http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)

		w.Header().Set("X-Request-ID", "partner-req-1")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	defer server.Close()

	client := NewWebhookClient(time.Second)
	resp, err := client.Send(context.Background(), WebhookRequest{
		URL:        server.URL,
		EndpointID: "ep-1",
		Event:      "order.created",
		Signature:  signing.Sign(body, "secret"),
		Timestamp:  sentAt,
		Body:       body,
	})
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if resp.RequestID != "partner-req-1" {
		t.Fatalf("RequestID = %q, want partner-req-1", resp.RequestID)
	}
	if resp.Body != `{"received":true}` {
		t.Fatalf("Body = %q", resp.Body)
	}

	if string(gotBody) != string(body) {
		t.Fatalf("request body = %s, want %s", gotBody, body)
	}
	if got := gotHeaders.Get(HeaderEvent); got != "order.created" {
		t.Fatalf("%s = %q, want order.created", HeaderEvent, got)
	}
	if got := gotHeaders.Get(HeaderID); got != "ep-1" {
		t.Fatalf("%s = %q, want ep-1", HeaderID, got)
	}
	if got := gotHeaders.Get(HeaderTimestamp); got != strconv.FormatInt(sentAt.UnixMilli(), 10) {
		t.Fatalf("%s = %q, want %d", HeaderTimestamp, got, sentAt.UnixMilli())
	}
	if !signing.Verify(gotBody, gotHeaders.Get(HeaderSignature), "secret") {
		t.Fatal("receiver could not verify signature over raw body")
	}
}

func TestWebhookClientSendStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantTransient: false},
		{name: "internal server error is transient", statusCode: http.StatusInternalServerError, wantTransient: true},
		{name: "redirect is a failure", statusCode: http.StatusFound, wantTransient: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("partner failed"))
			}))
			defer server.Close()

			client := resty.New()
			c, err := NewWebhookClientWithClient(client)
			if err != nil {
				t.Fatalf("NewWebhookClientWithClient() error = %v", err)
			}

			resp, err := c.Send(context.Background(), WebhookRequest{
				URL:       server.URL,
				Event:     "order.created",
				Timestamp: time.Now(),
				Body:      []byte(`{}`),
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if resp == nil || resp.StatusCode != tc.statusCode || resp.Body != "partner failed" {
				t.Fatalf("response = %+v, want status %d with body", resp, tc.statusCode)
			}

			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}

			var providerErr *ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("expected ProviderError, got %T", err)
			}
			if providerErr.StatusCode != tc.statusCode {
				t.Fatalf("ProviderError.StatusCode = %d, want %d", providerErr.StatusCode, tc.statusCode)
			}
		})
	}
}

func TestWebhookClientSendTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(30 * time.Millisecond)

	c, err := NewWebhookClientWithClient(client)
	if err != nil {
		t.Fatalf("NewWebhookClientWithClient() error = %v", err)
	}

	_, err = c.Send(context.Background(), WebhookRequest{URL: server.URL, Body: []byte(`{}`), Timestamp: time.Now()})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
}

func TestWebhookClientSendRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	_, err := NewWebhookClient(0).Send(context.Background(), WebhookRequest{URL: "not a url"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Fatal("invalid url must not be transient")
	}
}

func TestProviderErrorFormattingAndStatus(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("dispatch: %w", unexpectedStatus(webhookService, http.StatusBadGateway, "upstream down"))
	if got, want := err.Error(), "dispatch: webhook error: status=502: returned status 502: upstream down"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if code, ok := StatusCodeOf(err); !ok || code != http.StatusBadGateway {
		t.Fatalf("StatusCodeOf() = (%d, %v), want (502, true)", code, ok)
	}
	if !IsTransient(err) {
		t.Fatal("502 must be transient")
	}

	cancelled := requestFailed(orderService, context.Canceled)
	if IsTransient(cancelled) {
		t.Fatal("cancelled request must not be transient")
	}
	if _, ok := StatusCodeOf(cancelled); ok {
		t.Fatal("transport failure must not carry a status code")
	}
	if !errors.Is(cancelled, context.Canceled) {
		t.Fatal("cause must stay reachable through errors.Is")
	}
}
