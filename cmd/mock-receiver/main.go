// Command mock-receiver is a chaotic webhook endpoint for exercising the
// dispatcher's retry and backoff behavior: it verifies the HMAC signature,
// then fails most requests with a random delay, occasionally holding the
// connection long enough to force a client-side timeout.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/arnavmehta/webhook-dispatcher/internal/sign"
)

var requestCount atomic.Int64

func main() {
	port := getEnv("PORT", "8080")
	secret := getEnv("WEBHOOK_SECRET", "change-me-in-production")
	failureRate := getEnvFloat("FAILURE_RATE", 0.7)
	maxDelaySeconds := getEnvFloat("MAX_DELAY_SEC", 5)
	hangRate := getEnvFloat("HANG_RATE", 0.08)

	http.HandleFunc("/webhook", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"message": "Webhook receiver. Use POST with X-Webhook-Signature to deliver webhooks.",
			})
			return
		}

		count := requestCount.Add(1)
		body, _ := io.ReadAll(r.Body)

		if !sign.Verify(secret, body, r.Header.Get("X-Webhook-Signature")) {
			logReceipt(count, http.StatusUnauthorized, "invalid or missing signature")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Invalid signature"))
			return
		}

		if rand.Float64() < hangRate {
			logReceipt(count, 0, "simulating offline, holding connection")
			time.Sleep(60 * time.Second)
			w.WriteHeader(http.StatusGatewayTimeout)
			w.Write([]byte("Gateway Timeout (simulated)"))
			return
		}

		delay := time.Duration(rand.Float64() * maxDelaySeconds * float64(time.Second))
		time.Sleep(delay)

		if rand.Float64() < failureRate {
			logReceipt(count, http.StatusInternalServerError, "chaos failure")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("Internal Server Error (chaos)"))
			return
		}

		logReceipt(count, http.StatusOK, fmt.Sprintf("success body_len=%d", len(body)))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"received": true}`))
	})

	http.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{"total_requests": requestCount.Load()})
	})

	log.Printf("mock receiver starting on :%s (failure_rate=%.2f max_delay=%.1fs hang_rate=%.2f)",
		port, failureRate, maxDelaySeconds, hangRate)

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func logReceipt(count int64, status int, note string) {
	log.Printf("[#%d] POST /webhook -> %d | %s", count, status, note)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
