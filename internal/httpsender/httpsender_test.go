// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package httpsender

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		code int
		want Disposition
	}{
		{200, Delivered},
		{201, Delivered},
		{299, Delivered},
		{400, Permanent},
		{404, Permanent},
		{413, Permanent},
		{415, Permanent},
		{408, Retryable},
		{429, Retryable},
		{500, Retryable},
		{503, Retryable},
	}
	for _, c := range cases {
		got := classifyStatus(c.code).Disposition
		if got != c.want {
			t.Errorf("classifyStatus(%d) = %v, want %v", c.code, got, c.want)
		}
	}
}

func TestClientSendDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	res := c.Send(context.Background(), Request{
		EndpointURL: srv.URL,
		Payload:     []byte(`{}`),
		ContentType: "application/json",
	})
	if res.Disposition != Delivered {
		t.Fatalf("Disposition = %v, want Delivered (err=%v)", res.Disposition, res.Err)
	}
}

func TestClientSendRetryableOn503(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	res := c.Send(context.Background(), Request{EndpointURL: srv.URL, Payload: []byte("x")})
	if res.Disposition != Retryable {
		t.Fatalf("Disposition = %v, want Retryable", res.Disposition)
	}
}

func TestClientSendPermanentOn400(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	res := c.Send(context.Background(), Request{EndpointURL: srv.URL, Payload: []byte("x")})
	if res.Disposition != Permanent {
		t.Fatalf("Disposition = %v, want Permanent", res.Disposition)
	}
}

func TestClientSendTimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(5 * time.Millisecond)
	res := c.Send(context.Background(), Request{EndpointURL: srv.URL, Payload: []byte("x")})
	if res.Disposition != Retryable {
		t.Fatalf("Disposition = %v, want Retryable on timeout", res.Disposition)
	}
}

func TestClientSendConnectionRefusedIsRetryable(t *testing.T) {
	c := NewClient(time.Second)
	res := c.Send(context.Background(), Request{EndpointURL: "http://127.0.0.1:1", Payload: []byte("x")})
	if res.Disposition != Retryable {
		t.Fatalf("Disposition = %v, want Retryable on connection refused", res.Disposition)
	}
}

func TestFakeScriptsResponsesThenDefault(t *testing.T) {
	f := NewFake()
	f.Results = []Result{{Disposition: Retryable}, {Disposition: Permanent}}
	f.DefaultResult = Result{Disposition: Delivered}

	seq := []Disposition{Retryable, Permanent, Delivered, Delivered}
	for i, want := range seq {
		got := f.Send(context.Background(), Request{}).Disposition
		if got != want {
			t.Errorf("call %d: Disposition = %v, want %v", i, got, want)
		}
	}
	if f.Calls() != len(seq) {
		t.Errorf("Calls() = %d, want %d", f.Calls(), len(seq))
	}
}
