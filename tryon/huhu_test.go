// ABOUTME: Tests for the Huhu adapter's hosted-URL combined submission.
// ABOUTME: Validates the JSON submission payload and unified status mapping.

package tryon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHuhuSubmitAndPoll(t *testing.T) {
	var gotSubmit huhuSubmitRequest
	polls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tryon", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotSubmit); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(huhuJobResponse{JobID: "hj_1"})
	})
	mux.HandleFunc("GET /api/v1/tryon/hj_1", func(w http.ResponseWriter, r *http.Request) {
		polls++
		resp := huhuJobResponse{JobID: "hj_1", Status: "processing"}
		if polls >= 3 {
			resp = huhuJobResponse{JobID: "hj_1", Status: "completed", ResultURL: "https://x/huhu.png"}
		}
		json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	adapter := NewHuhuAdapter("k",
		WithHuhuBaseURL(srv.URL),
		WithHuhuPoller(Poller{Interval: time.Millisecond, MaxAttempts: 10, StatusTimeout: time.Second}),
	)

	out, err := adapter.Run(context.Background(), Params{
		ModelImage:    "https://img.example/m.png",
		TopGarment:    "https://img.example/t.jpg",
		BottomGarment: "https://img.example/b.jpg",
		Mode:          "high",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "https://x/huhu.png" {
		t.Errorf("output = %q", out)
	}

	if gotSubmit.ModelURL != "https://img.example/m.png" ||
		gotSubmit.TopURL != "https://img.example/t.jpg" ||
		gotSubmit.BottomURL != "https://img.example/b.jpg" {
		t.Errorf("submission = %+v, want all three image URLs", gotSubmit)
	}
	if gotSubmit.Quality != "high" {
		t.Errorf("quality = %q, want high", gotSubmit.Quality)
	}
}

func TestHuhuValidateQualityDomain(t *testing.T) {
	adapter := NewHuhuAdapter("k")
	err := adapter.Validate(Params{
		ModelImage:    "https://img.example/m.png",
		TopGarment:    "https://img.example/t.jpg",
		BottomGarment: "https://img.example/b.jpg",
		Mode:          "ultra",
	})
	ve := AsValidation(err)
	if ve == nil || ve.Field != "mode" {
		t.Fatalf("want ValidationError on mode, got %v", err)
	}
}
