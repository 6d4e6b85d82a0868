package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type seededUser struct {
	UserID uuid.UUID `json:"user_id"`
	GoalID uuid.UUID `json:"goal_id"`
}

var (
	targetURL    string
	concurrency  int
	duration     time.Duration
	workload     string
	manifestPath string
	jwtSecret    string
	replayRate   float64
	auditSample  int
)

var (
	totalRequests uint64
	success200    uint64
	replayed      uint64
	fail409       uint64
	fail422       uint64
	fail503       uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.StringVar(&manifestPath, "users", "seed_users.json", "Seed manifest written by the seeder")
	flag.StringVar(&jwtSecret, "jwt-secret", os.Getenv("JWT_SECRET"), "HS256 secret used to sign user tokens")
	flag.Float64Var(&replayRate, "replay-rate", 0.1, "Fraction of requests that resend the previous Idempotency-Key")
	flag.IntVar(&auditSample, "audit", 20, "Users to audit after the run")
}

func main() {
	flag.Parse()
	users, err := loadUsers(manifestPath)
	if err != nil {
		log.Fatalf("Unable to load users: %v", err)
	}
	tokens := make(map[uuid.UUID]string, len(users))
	for _, u := range users {
		tokens[u.UserID] = signToken(u.UserID)
	}

	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s | Users: %d", workload, concurrency, duration, len(users))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, users, tokens)
	}
	wg.Wait()
	elapsed := time.Since(start)

	inconsistent := audit(users, tokens)
	printResults(elapsed, inconsistent)
}

func loadUsers(path string) ([]seededUser, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var users []seededUser
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, err
	}
	if len(users) < 2 {
		return nil, fmt.Errorf("manifest %s has %d users, need at least 2", path, len(users))
	}
	return users, nil
}

func signToken(userID uuid.UUID) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(2 * time.Hour)),
	})
	signed, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		log.Fatalf("Unable to sign token: %v", err)
	}
	return signed
}

func worker(wg *sync.WaitGroup, start time.Time, users []seededUser, tokens map[uuid.UUID]string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	var lastKey string
	var lastBody []byte
	var lastUser seededUser

	for time.Since(start) < duration {
		u := pickUser(users)
		kind := "contribution"
		if rand.Float32() < 0.5 {
			kind = "withdrawal"
		}
		body, _ := json.Marshal(map[string]interface{}{
			"goal_id":          u.GoalID,
			"amount":           "100.00",
			"transaction_type": kind,
		})
		key := uuid.NewString()

		// Resending a previous request exercises the replay path.
		if lastKey != "" && rand.Float64() < replayRate {
			u, key, body = lastUser, lastKey, lastBody
		}
		lastUser, lastKey, lastBody = u, key, body

		req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/goals/transactions", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tokens[u.UserID])
		req.Header.Set("Idempotency-Key", key)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusOK:
			atomic.AddUint64(&success200, 1)
			if resp.Header.Get("Idempotent-Replayed") == "true" {
				atomic.AddUint64(&replayed, 1)
			}
		case http.StatusConflict:
			atomic.AddUint64(&fail409, 1)
		case http.StatusUnprocessableEntity:
			atomic.AddUint64(&fail422, 1)
		case http.StatusServiceUnavailable:
			atomic.AddUint64(&fail503, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickUser(users []seededUser) seededUser {
	if workload == "hotspot" && rand.Float32() < 0.90 {
		// Hotspot: 90% of traffic goes to the first user's wallet and goal.
		return users[0]
	}
	return users[rand.Intn(len(users))]
}

// audit asks the service to replay a sample of ledgers and counts the ones
// that do not match their stored balances.
func audit(users []seededUser, tokens map[uuid.UUID]string) int {
	client := &http.Client{Timeout: 10 * time.Second}
	sample := users
	if auditSample < len(sample) {
		sample = sample[:auditSample]
	}

	inconsistent := 0
	for _, u := range sample {
		req, _ := http.NewRequest(http.MethodGet, targetURL+"/api/v1/wallet/audit", nil)
		req.Header.Set("Authorization", "Bearer "+tokens[u.UserID])
		resp, err := client.Do(req)
		if err != nil {
			log.Printf("audit request failed for %s: %v", u.UserID, err)
			inconsistent++
			continue
		}
		var report struct {
			Consistent bool `json:"consistent"`
		}
		err = json.NewDecoder(resp.Body).Decode(&report)
		resp.Body.Close()
		if err != nil || !report.Consistent {
			log.Printf("ledger for %s is not consistent", u.UserID)
			inconsistent++
		}
	}
	return inconsistent
}

func printResults(d time.Duration, inconsistent int) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&success200)
	rep := atomic.LoadUint64(&replayed)
	f409 := atomic.LoadUint64(&fail409)
	f422 := atomic.LoadUint64(&fail422)
	f503 := atomic.LoadUint64(&fail503)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var abortRate float64
	if total > 0 {
		abortRate = float64(f409+f503) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":            workload,
		"duration_sec":        d.Seconds(),
		"total_requests":      total,
		"throughput_tps":      tps,
		"success":             ok,
		"success_replay":      rep,
		"in_progress":         f409,
		"rejected":            f422,
		"storage_conflicts":   f503,
		"abort_rate_pct":      abortRate,
		"errors":              fErr,
		"inconsistent_ledger": inconsistent,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("Unable to write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
